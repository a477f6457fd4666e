package repository

import (
	"errors"
	"github.com/go-sql-driver/mysql"
)

var (
	ErrNotFound             = errors.New("record not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrReferralExhausted    = errors.New("referral code is no longer redeemable")
	ErrStaleOrder           = errors.New("order was modified concurrently")
	ErrDuplicateOrderNumber = errors.New("order number already exists")
	ErrDuplicateReferral    = errors.New("referral code already exists")
	ErrDuplicateReward      = errors.New("reward already credited for order")
	ErrShipmentRecorded     = errors.New("order already has a carrier shipment")
)

const mysqlDuplicateEntry = 1062

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
