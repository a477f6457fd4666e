package repository

import (
	"context"
	"database/sql"
	"errors"
	"storefront-service/internal/entity"
)

type InventoryRepository struct {
	db *sql.DB
}

func NewInventoryRepository(db *sql.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// DecrementStock removes quantity from a size variant in one conditional statement,
// so concurrent buyers can never drive stock below zero.
func (r *InventoryRepository) DecrementStock(ctx context.Context, productID int64, size string, quantity int) error {
	query := `UPDATE product_variants SET stock = stock - ? WHERE product_id = ? AND size = ? AND stock >= ?`
	res, err := r.db.ExecContext(ctx, query, quantity, productID, size, quantity)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInsufficientStock
	}

	return nil
}

func (r *InventoryRepository) GetVariant(ctx context.Context, productID int64, size string) (*entity.ProductVariant, error) {
	v := &entity.ProductVariant{}
	err := r.db.QueryRowContext(ctx, `SELECT product_id, size, stock FROM product_variants WHERE product_id = ? AND size = ?`, productID, size).
		Scan(&v.ProductID, &v.Size, &v.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (r *InventoryRepository) SetStock(ctx context.Context, v entity.ProductVariant) error {
	query := `INSERT INTO product_variants (product_id, size, stock) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE stock = VALUES(stock)`
	_, err := r.db.ExecContext(ctx, query, v.ProductID, v.Size, v.Stock)
	return err
}
