package model

import (
	"time"
)

// Wallet holds the denormalized point balance for one user. Every mutation
// bumps Version; writers that observed a stale version lose the update and
// must re-read (see database.ApplyEntry).
type Wallet struct {
	UserID        int64     `json:"user_id"`
	Balance       int64     `json:"balance"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	Version       int64     `json:"version"`
}

// Credit adds amount to the in-memory balance. The change is not durable
// until the wallet is persisted with a version check.
func (w *Wallet) Credit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	w.Balance += amount
	return nil
}

// Debit subtracts amount from the in-memory balance. A debit that would
// take the balance below zero is rejected without mutating the wallet.
func (w *Wallet) Debit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if w.Balance < amount {
		return ErrInsufficientBalance
	}
	w.Balance -= amount
	return nil
}
