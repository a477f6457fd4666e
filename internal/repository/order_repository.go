package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"storefront-service/internal/entity"
	"strings"
	"time"
)

var orderColumns = []string{
	"id", "order_number", "customer_email", "customer_name", "customer_phone",
	"shipping_address", "billing_address",
	"subtotal", "discount_amount", "shipping_cost", "custom_charges", "tax_amount", "tax_breakdown", "total_amount",
	"referral_code_used", "referral_discount",
	"payment_type", "payment_status", "shipping_status", "verification_status",
	"razorpay_order_id", "razorpay_payment_id", "razorpay_signature",
	"shiprocket_order_id", "shiprocket_shipment_id", "courier_name", "tracking_number",
	"requires_unboxing_video", "needs_stock_reconciliation", "notes",
	"created_at", "updated_at", "verified_at", "abandoned_at",
}

var orderSelect = "SELECT " + strings.Join(orderColumns, ", ") + " FROM orders"

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// StatusUpdate moves an order from one status triple to another. It only applies
// if the row still holds From, which makes concurrent callbacks race-safe.
type StatusUpdate struct {
	ID               int64
	From             entity.Statuses
	To               entity.Statuses
	GatewayPaymentID string
	GatewaySignature string
	VerifiedAt       *time.Time
	UpdatedAt        time.Time
}

type ListFilter struct {
	PaymentStatus entity.PaymentStatus
	Page          int
	Limit         int
}

type CarrierDetails struct {
	CarrierOrderID    string
	CarrierShipmentID string
	CarrierName       string
	TrackingNumber    string
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*entity.Order, error) {
	order := &entity.Order{}
	var (
		shipping, billing, charges, breakdown                       []byte
		referralCode, gatewayOrderID, gatewayPaymentID, signature   sql.NullString
		carrierOrderID, carrierShipmentID, carrierName, trackingNum sql.NullString
		notes                                                       sql.NullString
		verifiedAt, abandonedAt                                     sql.NullTime
	)

	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.CustomerEmail, &order.CustomerName, &order.CustomerPhone,
		&shipping, &billing,
		&order.Subtotal, &order.DiscountAmount, &order.ShippingCost, &charges, &order.TaxAmount, &breakdown, &order.TotalAmount,
		&referralCode, &order.ReferralDiscount,
		&order.PaymentType, &order.PaymentStatus, &order.ShippingStatus, &order.VerificationStatus,
		&gatewayOrderID, &gatewayPaymentID, &signature,
		&carrierOrderID, &carrierShipmentID, &carrierName, &trackingNum,
		&order.RequiresUnboxingVideo, &order.NeedsStockReconciliation, &notes,
		&order.CreatedAt, &order.UpdatedAt, &verifiedAt, &abandonedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	for _, col := range []struct {
		raw  []byte
		dest interface{}
	}{
		{shipping, &order.ShippingAddress},
		{billing, &order.BillingAddress},
		{charges, &order.CustomCharges},
		{breakdown, &order.TaxBreakdown},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dest); err != nil {
			return nil, fmt.Errorf("decode order %d: %w", order.ID, err)
		}
	}

	order.ReferralCodeUsed = referralCode.String
	order.GatewayOrderID = gatewayOrderID.String
	order.GatewayPaymentID = gatewayPaymentID.String
	order.GatewaySignature = signature.String
	order.CarrierOrderID = carrierOrderID.String
	order.CarrierShipmentID = carrierShipmentID.String
	order.CarrierName = carrierName.String
	order.TrackingNumber = trackingNum.String
	order.Notes = notes.String
	if verifiedAt.Valid {
		order.VerifiedAt = &verifiedAt.Time
	}
	if abandonedAt.Valid {
		order.AbandonedAt = &abandonedAt.Time
	}

	return order, nil
}

func (r *OrderRepository) getOne(ctx context.Context, where string, arg interface{}) (*entity.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, orderSelect+" WHERE "+where, arg))
	if err != nil {
		return nil, err
	}

	items, err := r.getItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func (r *OrderRepository) getItems(ctx context.Context, orderID int64) ([]entity.OrderItem, error) {
	query := `SELECT product_id, title, size, quantity, price, image FROM order_items WHERE order_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []entity.OrderItem
	for rows.Next() {
		item := entity.OrderItem{}
		var image sql.NullString
		if err := rows.Scan(&item.ProductID, &item.Title, &item.Size, &item.Quantity, &item.Price, &image); err != nil {
			return nil, err
		}
		item.Image = image.String
		items = append(items, item)
	}

	return items, rows.Err()
}

func (r *OrderRepository) GetOrderByID(ctx context.Context, id int64) (*entity.Order, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *OrderRepository) GetOrderByNumber(ctx context.Context, orderNumber string) (*entity.Order, error) {
	return r.getOne(ctx, "order_number = ?", orderNumber)
}

func (r *OrderRepository) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*entity.Order, error) {
	return r.getOne(ctx, "razorpay_order_id = ?", gatewayOrderID)
}

func (r *OrderRepository) GetOrderByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*entity.Order, error) {
	return r.getOne(ctx, "razorpay_payment_id = ?", gatewayPaymentID)
}

func (r *OrderRepository) OrderNumberExists(ctx context.Context, orderNumber string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = ?)`, orderNumber).Scan(&exists)
	return exists, err
}

// CreateOrder inserts the order and its items. When referralCode is set, the code's
// usage counter is consumed in the same transaction so a failed insert never burns a use.
// The use that reaches max_uses also deactivates the code. is_active is assigned first
// because MySQL evaluates SET assignments left to right.
func (r *OrderRepository) CreateOrder(ctx context.Context, order *entity.Order, referralCode string, now time.Time) (*entity.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	if referralCode != "" {
		res, err := tx.ExecContext(ctx,
			`UPDATE referral_codes SET is_active = (uses_count + 1 < max_uses), uses_count = uses_count + 1 WHERE code = ? AND is_active = TRUE AND uses_count < max_uses AND (expires_at IS NULL OR expires_at > ?)`,
			referralCode, now)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if affected == 0 {
			tx.Rollback()
			return nil, ErrReferralExhausted
		}
	}

	shipping, _ := json.Marshal(order.ShippingAddress)
	billing, _ := json.Marshal(order.BillingAddress)
	charges, _ := json.Marshal(order.CustomCharges)
	breakdown, _ := json.Marshal(order.TaxBreakdown)

	insertColumns := orderColumns[1:]
	orderQuery := "INSERT INTO orders (" + strings.Join(insertColumns, ", ") + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(insertColumns)), ", ") + ")"
	res, err := tx.ExecContext(ctx, orderQuery,
		order.OrderNumber, order.CustomerEmail, order.CustomerName, order.CustomerPhone,
		shipping, billing,
		order.Subtotal, order.DiscountAmount, order.ShippingCost, charges, order.TaxAmount, breakdown, order.TotalAmount,
		nullString(order.ReferralCodeUsed), order.ReferralDiscount,
		order.PaymentType, order.PaymentStatus, order.ShippingStatus, order.VerificationStatus,
		nullString(order.GatewayOrderID), nullString(order.GatewayPaymentID), nullString(order.GatewaySignature),
		nullString(order.CarrierOrderID), nullString(order.CarrierShipmentID), nullString(order.CarrierName), nullString(order.TrackingNumber),
		order.RequiresUnboxingVideo, order.NeedsStockReconciliation, nullString(order.Notes),
		now, now, order.VerifiedAt, order.AbandonedAt,
	)
	if err != nil {
		tx.Rollback()
		if isDuplicateEntry(err) {
			return nil, ErrDuplicateOrderNumber
		}
		return nil, err
	}

	orderID, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// Insert items with batch
	itemQuery := `INSERT INTO order_items (order_id, product_id, title, size, quantity, price, image) VALUES `
	var values []interface{}
	for _, item := range order.Items {
		itemQuery += "(?, ?, ?, ?, ?, ?, ?),"
		values = append(values, orderID, item.ProductID, item.Title, item.Size, item.Quantity, item.Price, item.Image)
	}
	itemQuery = itemQuery[:len(itemQuery)-1]

	_, err = tx.ExecContext(ctx, itemQuery, values...)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	order.ID = orderID
	order.CreatedAt = now
	order.UpdatedAt = now
	return order, nil
}

// UpdateStatus applies a compare-and-set on the status triple. It returns ErrStaleOrder
// when the row no longer holds the expected statuses.
func (r *OrderRepository) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	query := `UPDATE orders SET payment_status = ?, shipping_status = ?, verification_status = ?,
		razorpay_payment_id = COALESCE(?, razorpay_payment_id),
		razorpay_signature = COALESCE(?, razorpay_signature),
		verified_at = COALESCE(?, verified_at),
		updated_at = ?
		WHERE id = ? AND payment_status = ? AND shipping_status = ? AND verification_status = ?`

	res, err := r.db.ExecContext(ctx, query,
		u.To.Payment, u.To.Shipping, u.To.Verification,
		nullString(u.GatewayPaymentID), nullString(u.GatewaySignature), u.VerifiedAt, u.UpdatedAt,
		u.ID, u.From.Payment, u.From.Shipping, u.From.Verification,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleOrder
	}

	return nil
}

// MarkAbandoned flags pending prepaid orders created before cutoff.
func (r *OrderRepository) MarkAbandoned(ctx context.Context, cutoff, now time.Time) (int64, error) {
	query := `UPDATE orders SET payment_status = ?, abandoned_at = ?, updated_at = ?
		WHERE payment_type = ? AND payment_status = ? AND created_at < ? AND abandoned_at IS NULL`

	res, err := r.db.ExecContext(ctx, query,
		entity.PaymentAbandoned, now, now,
		entity.PaymentTypePrepaid, entity.PaymentPending, cutoff,
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (r *OrderRepository) FlagStockReconciliation(ctx context.Context, id int64, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE orders SET needs_stock_reconciliation = TRUE, updated_at = ? WHERE id = ?`, now, id)
	return err
}

// SetCarrierDetails records the carrier booking once. It returns ErrShipmentRecorded when
// the order already carries a shipment id.
func (r *OrderRepository) SetCarrierDetails(ctx context.Context, id int64, d CarrierDetails, now time.Time) error {
	query := `UPDATE orders SET shiprocket_order_id = COALESCE(?, shiprocket_order_id),
		shiprocket_shipment_id = COALESCE(?, shiprocket_shipment_id),
		courier_name = COALESCE(?, courier_name),
		tracking_number = COALESCE(?, tracking_number),
		updated_at = ? WHERE id = ? AND shiprocket_shipment_id IS NULL`
	res, err := r.db.ExecContext(ctx, query,
		nullString(d.CarrierOrderID), nullString(d.CarrierShipmentID), nullString(d.CarrierName), nullString(d.TrackingNumber),
		now, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrShipmentRecorded
	}
	return nil
}

// ListOrders returns a page of orders, newest first, without line items.
func (r *OrderRepository) ListOrders(ctx context.Context, f ListFilter) ([]*entity.Order, int, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Page <= 0 {
		f.Page = 1
	}

	where := ""
	var args []interface{}
	if f.PaymentStatus != "" {
		where = " WHERE payment_status = ?"
		args = append(args, f.PaymentStatus)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	rows, err := r.db.QueryContext(ctx, orderSelect+where+" ORDER BY created_at DESC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []*entity.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, order)
	}

	return orders, total, rows.Err()
}
