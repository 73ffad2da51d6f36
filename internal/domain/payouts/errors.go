package payouts

import "errors"

var (
	ErrNotFound        = errors.New("payout not found")
	ErrNoPayoutAccount = errors.New("doctor has no payout account connected")
)
