package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"storefront-service/internal/entity"
	"time"
)

// StoreRepository holds the settings row and the COD pincode blocklist.
type StoreRepository struct {
	db *sql.DB
}

func NewStoreRepository(db *sql.DB) *StoreRepository {
	return &StoreRepository{db: db}
}

func (r *StoreRepository) GetStoreConfig(ctx context.Context) (*entity.StoreConfig, error) {
	query := `SELECT id, business_name, business_email, business_phone, business_address, gstin, business_state, state_code,
		extra_charges_enabled, custom_charges, free_shipping_enabled, free_shipping_threshold, default_shipping_cost, cod_charges,
		is_referral_enabled, referral_discount_type, referral_discount_value, referral_credit_amount, min_order_for_referral,
		require_unboxing_video, abandoned_order_timeout_minutes, updated_at
		FROM store_config ORDER BY id LIMIT 1`

	cfg := &entity.StoreConfig{}
	var charges []byte
	err := r.db.QueryRowContext(ctx, query).Scan(
		&cfg.ID, &cfg.BusinessName, &cfg.BusinessEmail, &cfg.BusinessPhone, &cfg.BusinessAddress, &cfg.GSTIN, &cfg.BusinessState, &cfg.StateCode,
		&cfg.ExtraChargesEnabled, &charges, &cfg.FreeShippingEnabled, &cfg.FreeShippingThreshold, &cfg.DefaultShippingCost, &cfg.CODCharges,
		&cfg.ReferralEnabled, &cfg.ReferralDiscountType, &cfg.ReferralDiscountValue, &cfg.ReferralCreditAmount, &cfg.MinOrderForReferral,
		&cfg.RequireUnboxingVideo, &cfg.AbandonedOrderTimeoutMinutes, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if len(charges) > 0 {
		if err := json.Unmarshal(charges, &cfg.CustomCharges); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (r *StoreRepository) UpdateStoreConfig(ctx context.Context, cfg *entity.StoreConfig) (*entity.StoreConfig, error) {
	charges, err := json.Marshal(cfg.CustomCharges)
	if err != nil {
		return nil, err
	}

	cfg.UpdatedAt = time.Now()
	query := `UPDATE store_config SET business_name = ?, business_email = ?, business_phone = ?, business_address = ?, gstin = ?,
		business_state = ?, state_code = ?, extra_charges_enabled = ?, custom_charges = ?, free_shipping_enabled = ?,
		free_shipping_threshold = ?, default_shipping_cost = ?, cod_charges = ?, is_referral_enabled = ?,
		referral_discount_type = ?, referral_discount_value = ?, referral_credit_amount = ?, min_order_for_referral = ?,
		require_unboxing_video = ?, abandoned_order_timeout_minutes = ?, updated_at = ? WHERE id = ?`

	_, err = r.db.ExecContext(ctx, query,
		cfg.BusinessName, cfg.BusinessEmail, cfg.BusinessPhone, cfg.BusinessAddress, cfg.GSTIN,
		cfg.BusinessState, cfg.StateCode, cfg.ExtraChargesEnabled, charges, cfg.FreeShippingEnabled,
		cfg.FreeShippingThreshold, cfg.DefaultShippingCost, cfg.CODCharges, cfg.ReferralEnabled,
		cfg.ReferralDiscountType, cfg.ReferralDiscountValue, cfg.ReferralCreditAmount, cfg.MinOrderForReferral,
		cfg.RequireUnboxingVideo, cfg.AbandonedOrderTimeoutMinutes, cfg.UpdatedAt, cfg.ID,
	)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (r *StoreRepository) GetBlockedPincode(ctx context.Context, pincode string) (*entity.BlockedPincode, error) {
	p := &entity.BlockedPincode{}
	var reason, createdBy sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT id, pincode, reason, created_by, created_at FROM blocked_pincodes WHERE pincode = ?`, pincode).
		Scan(&p.ID, &p.Pincode, &reason, &createdBy, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Reason = reason.String
	p.CreatedBy = createdBy.String
	return p, nil
}

func (r *StoreRepository) ListBlockedPincodes(ctx context.Context) ([]entity.BlockedPincode, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, pincode, reason, created_by, created_at FROM blocked_pincodes ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []entity.BlockedPincode
	for rows.Next() {
		p := entity.BlockedPincode{}
		var reason, createdBy sql.NullString
		if err := rows.Scan(&p.ID, &p.Pincode, &reason, &createdBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Reason = reason.String
		p.CreatedBy = createdBy.String
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *StoreRepository) AddBlockedPincode(ctx context.Context, p *entity.BlockedPincode) (*entity.BlockedPincode, error) {
	p.CreatedAt = time.Now()
	query := `INSERT INTO blocked_pincodes (pincode, reason, created_by, created_at) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE reason = VALUES(reason), created_by = VALUES(created_by)`
	res, err := r.db.ExecContext(ctx, query, p.Pincode, p.Reason, p.CreatedBy, p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if id, err := res.LastInsertId(); err == nil {
		p.ID = id
	}
	return p, nil
}

func (r *StoreRepository) RemoveBlockedPincode(ctx context.Context, pincode string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM blocked_pincodes WHERE pincode = ?`, pincode)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
