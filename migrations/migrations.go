package migrations

import (
	"database/sql"
	"fmt"
	"time"
)

type table struct {
	name  string
	query string
}

var tables = []table{
	{"orders", `
		CREATE TABLE IF NOT EXISTS orders (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			order_number VARCHAR(32) NOT NULL UNIQUE,
			customer_email VARCHAR(255) NOT NULL,
			customer_name VARCHAR(255) NOT NULL,
			customer_phone VARCHAR(32) NOT NULL,
			shipping_address JSON NOT NULL,
			billing_address JSON NOT NULL,
			subtotal DECIMAL(12,2) NOT NULL,
			discount_amount DECIMAL(12,2) NOT NULL DEFAULT 0,
			shipping_cost DECIMAL(12,2) NOT NULL DEFAULT 0,
			custom_charges JSON NULL,
			tax_amount DECIMAL(12,2) NOT NULL,
			tax_breakdown JSON NOT NULL,
			total_amount DECIMAL(12,2) NOT NULL,
			referral_code_used VARCHAR(32) NULL,
			referral_discount DECIMAL(12,2) NOT NULL DEFAULT 0,
			payment_type VARCHAR(16) NOT NULL,
			payment_status VARCHAR(16) NOT NULL DEFAULT 'pending',
			shipping_status VARCHAR(16) NOT NULL DEFAULT 'pending',
			verification_status VARCHAR(16) NOT NULL DEFAULT 'pending',
			razorpay_order_id VARCHAR(64) NULL UNIQUE,
			razorpay_payment_id VARCHAR(64) NULL,
			razorpay_signature VARCHAR(128) NULL,
			shiprocket_order_id VARCHAR(64) NULL,
			shiprocket_shipment_id VARCHAR(64) NULL,
			courier_name VARCHAR(128) NULL,
			tracking_number VARCHAR(64) NULL,
			requires_unboxing_video BOOLEAN NOT NULL DEFAULT FALSE,
			needs_stock_reconciliation BOOLEAN NOT NULL DEFAULT FALSE,
			notes TEXT NULL,
			created_at DATETIME(3) NOT NULL,
			updated_at DATETIME(3) NOT NULL,
			verified_at DATETIME(3) NULL,
			abandoned_at DATETIME(3) NULL,
			INDEX idx_orders_payment_id (razorpay_payment_id),
			INDEX idx_orders_abandon (payment_type, payment_status, created_at)
		);
	`},
	{"order_items", `
		CREATE TABLE IF NOT EXISTS order_items (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			order_id BIGINT NOT NULL,
			product_id BIGINT NOT NULL,
			title VARCHAR(255) NOT NULL,
			size VARCHAR(32) NOT NULL,
			quantity INT NOT NULL,
			price DECIMAL(12,2) NOT NULL,
			image VARCHAR(512) NOT NULL DEFAULT '',
			FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
		);
	`},
	{"product_variants", `
		CREATE TABLE IF NOT EXISTS product_variants (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			product_id BIGINT NOT NULL,
			size VARCHAR(32) NOT NULL,
			stock INT NOT NULL DEFAULT 0,
			UNIQUE KEY uq_variant (product_id, size),
			CHECK (stock >= 0)
		);
	`},
	{"store_config", `
		CREATE TABLE IF NOT EXISTS store_config (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			business_name VARCHAR(255) NOT NULL DEFAULT '',
			business_email VARCHAR(255) NOT NULL DEFAULT '',
			business_phone VARCHAR(32) NOT NULL DEFAULT '',
			business_address TEXT NOT NULL,
			gstin VARCHAR(32) NOT NULL DEFAULT '',
			business_state VARCHAR(64) NOT NULL DEFAULT '',
			state_code VARCHAR(8) NOT NULL DEFAULT '',
			extra_charges_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			custom_charges JSON NULL,
			free_shipping_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			free_shipping_threshold DECIMAL(12,2) NOT NULL DEFAULT 0,
			default_shipping_cost DECIMAL(12,2) NOT NULL DEFAULT 0,
			cod_charges DECIMAL(12,2) NOT NULL DEFAULT 0,
			is_referral_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			referral_discount_type VARCHAR(16) NOT NULL DEFAULT 'fixed',
			referral_discount_value DECIMAL(12,2) NOT NULL DEFAULT 0,
			referral_credit_amount DECIMAL(12,2) NOT NULL DEFAULT 0,
			min_order_for_referral DECIMAL(12,2) NOT NULL DEFAULT 0,
			require_unboxing_video BOOLEAN NOT NULL DEFAULT FALSE,
			abandoned_order_timeout_minutes INT NOT NULL DEFAULT 15,
			updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3)
		);
	`},
	{"store_config_seed", `
		INSERT IGNORE INTO store_config (id, business_address) VALUES (1, '');
	`},
	{"blocked_pincodes", `
		CREATE TABLE IF NOT EXISTS blocked_pincodes (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			pincode VARCHAR(6) NOT NULL UNIQUE,
			reason VARCHAR(255) NOT NULL DEFAULT '',
			created_by VARCHAR(255) NOT NULL DEFAULT '',
			created_at DATETIME(3) NOT NULL
		);
	`},
	{"referral_codes", `
		CREATE TABLE IF NOT EXISTS referral_codes (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			code VARCHAR(32) NOT NULL UNIQUE,
			owner_email VARCHAR(255) NOT NULL,
			owner_name VARCHAR(255) NOT NULL DEFAULT '',
			uses_count INT NOT NULL DEFAULT 0,
			max_uses INT NOT NULL DEFAULT 10,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			expires_at DATETIME(3) NULL,
			created_at DATETIME(3) NOT NULL
		);
	`},
	{"customer_wallets", `
		CREATE TABLE IF NOT EXISTS customer_wallets (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			customer_email VARCHAR(255) NOT NULL UNIQUE,
			customer_name VARCHAR(255) NOT NULL DEFAULT '',
			balance DECIMAL(12,2) NOT NULL DEFAULT 0,
			total_earned DECIMAL(12,2) NOT NULL DEFAULT 0,
			total_spent DECIMAL(12,2) NOT NULL DEFAULT 0,
			referral_code VARCHAR(32) NOT NULL UNIQUE,
			successful_referrals INT NOT NULL DEFAULT 0,
			created_at DATETIME(3) NOT NULL,
			updated_at DATETIME(3) NOT NULL
		);
	`},
	{"wallet_transactions", `
		CREATE TABLE IF NOT EXISTS wallet_transactions (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			wallet_id BIGINT NOT NULL,
			type VARCHAR(16) NOT NULL,
			amount DECIMAL(12,2) NOT NULL,
			description VARCHAR(255) NOT NULL DEFAULT '',
			order_id BIGINT NULL,
			created_at DATETIME(3) NOT NULL,
			UNIQUE KEY uq_wallet_tx_order (order_id, type),
			FOREIGN KEY (wallet_id) REFERENCES customer_wallets(id) ON DELETE CASCADE
		);
	`},
}

// AutoMigrate creates every table the service needs, retrying each statement before giving up.
func AutoMigrate(retries int, db *sql.DB) error {
	for _, t := range tables {
		_, err := db.Exec(t.query)
		if err != nil {
			// Retry creating the table
			for i := 0; i < retries; i++ {
				time.Sleep(1 * time.Second)
				_, err = db.Exec(t.query)
				if err == nil {
					break
				}
			}
		}
		if err != nil {
			return fmt.Errorf("migrate %s: %w", t.name, err)
		}
	}
	return nil
}
