package repository

import (
	"context"
	"database/sql"
	"errors"
	"github.com/shopspring/decimal"
	"storefront-service/internal/entity"
	"time"
)

type ReferralRepository struct {
	db *sql.DB
}

func NewReferralRepository(db *sql.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

func (r *ReferralRepository) GetReferralCode(ctx context.Context, code string) (*entity.ReferralCode, error) {
	rc := &entity.ReferralCode{}
	var ownerName sql.NullString
	var expiresAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, code, owner_email, owner_name, uses_count, max_uses, is_active, expires_at, created_at FROM referral_codes WHERE code = ?`, code).
		Scan(&rc.ID, &rc.Code, &rc.OwnerEmail, &ownerName, &rc.UsesCount, &rc.MaxUses, &rc.IsActive, &expiresAt, &rc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rc.OwnerName = ownerName.String
	if expiresAt.Valid {
		rc.ExpiresAt = &expiresAt.Time
	}
	return rc, nil
}

func (r *ReferralRepository) GetWalletByEmail(ctx context.Context, email string) (*entity.CustomerWallet, error) {
	w := &entity.CustomerWallet{}
	var name sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, customer_email, customer_name, balance, total_earned, total_spent, referral_code, successful_referrals, created_at, updated_at
		FROM customer_wallets WHERE customer_email = ?`, email).
		Scan(&w.ID, &w.Email, &name, &w.Balance, &w.TotalEarned, &w.TotalSpent, &w.ReferralCode, &w.SuccessfulReferrals, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	w.Name = name.String
	return w, nil
}

// CreateWallet stores a new wallet together with its own referral code.
func (r *ReferralRepository) CreateWallet(ctx context.Context, w *entity.CustomerWallet, code *entity.ReferralCode) (*entity.CustomerWallet, error) {
	now := time.Now()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO referral_codes (code, owner_email, owner_name, uses_count, max_uses, is_active, expires_at, created_at) VALUES (?, ?, ?, 0, ?, TRUE, ?, ?)`,
		code.Code, code.OwnerEmail, code.OwnerName, code.MaxUses, code.ExpiresAt, now)
	if err != nil {
		tx.Rollback()
		if isDuplicateEntry(err) {
			return nil, ErrDuplicateReferral
		}
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO customer_wallets (customer_email, customer_name, balance, total_earned, total_spent, referral_code, successful_referrals, created_at, updated_at)
		VALUES (?, ?, 0, 0, 0, ?, 0, ?, ?)`,
		w.Email, w.Name, code.Code, now, now)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	w.ID = id
	w.ReferralCode = code.Code
	w.Balance = decimal.Zero
	w.TotalEarned = decimal.Zero
	w.TotalSpent = decimal.Zero
	w.CreatedAt = now
	w.UpdatedAt = now
	return w, nil
}

// CreditReferralReward records a credit transaction for orderID and bumps the wallet
// totals. A second reward for the same order returns ErrDuplicateReward.
func (r *ReferralRepository) CreditReferralReward(ctx context.Context, walletID int64, amount decimal.Decimal, description string, orderID int64) error {
	now := time.Now()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO wallet_transactions (wallet_id, type, amount, description, order_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		walletID, entity.WalletCredit, amount, description, orderID, now)
	if err != nil {
		tx.Rollback()
		if isDuplicateEntry(err) {
			return ErrDuplicateReward
		}
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE customer_wallets SET balance = balance + ?, total_earned = total_earned + ?, successful_referrals = successful_referrals + 1, updated_at = ? WHERE id = ?`,
		amount, amount, now, walletID)
	if err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
