/*
Copyright 2024 Commune Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/communehq/commune/internal/apierror"
	"github.com/communehq/commune/model"
)

const ledgerIdempotencyConstraint = "point_ledger_idempotency"

// GetWallet retrieves a wallet by user ID. It does not create one; the
// spend path must not conjure wallets into existence.
func (d Datasource) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	wallet := model.Wallet{}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT user_id, balance, last_updated_at, version
		FROM wallets
		WHERE user_id = $1
	`, userID)

	err := row.Scan(&wallet.UserID, &wallet.Balance, &wallet.LastUpdatedAt, &wallet.Version)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Wallet for user %d not found", userID), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve wallet", err)
	}

	return &wallet, nil
}

// GetOrCreateWallet retrieves the wallet for userID, creating an empty one
// on first use. When two callers race to create the same wallet, the loser
// sees the primary-key violation and re-reads the winner's row instead of
// surfacing an error.
func (d Datasource) GetOrCreateWallet(ctx context.Context, userID int64, now time.Time) (*model.Wallet, error) {
	wallet, err := d.GetWallet(ctx, userID)
	if err == nil {
		return wallet, nil
	}
	if !apierror.Is(err, apierror.ErrNotFound) {
		return nil, err
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance, last_updated_at, version)
		VALUES ($1, 0, $2, 0)
	`, userID, now)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			logrus.Debugf("wallet for user %d created concurrently, re-reading", userID)
			return d.GetWallet(ctx, userID)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create wallet", err)
	}

	return &model.Wallet{UserID: userID, Balance: 0, LastUpdatedAt: now, Version: 0}, nil
}

// ApplyEntry appends a ledger entry and persists the wallet's mutated
// balance as a single database transaction, so an entry can never commit
// without its balance effect.
//
// The wallet must carry the balance already adjusted by entry.Amount and
// the version observed at read time. Returns (false, nil) when the entry's
// idempotency key already exists: the original attempt applied the effect
// and this call is a replay. A version mismatch rolls everything back and
// returns CONFLICT; the caller retries with a fresh read.
func (d Datasource) ApplyEntry(ctx context.Context, entry *model.LedgerEntry, w *model.Wallet) (bool, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO point_ledger (entry_id, user_id, amount, entry_type, ref_type, ref_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.EntryID, entry.UserID, entry.Amount, entry.EntryType, entry.RefType, entry.RefID, entry.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			if pqErr.Constraint == ledgerIdempotencyConstraint {
				return false, nil
			}
			// A unique violation we cannot attribute to idempotent replay is fatal.
			return false, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Unexpected unique violation on constraint %q", pqErr.Constraint), err)
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to append ledger entry", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $2, last_updated_at = $3, version = version + 1
		WHERE user_id = $1 AND version = $4
	`, w.UserID, w.Balance, entry.CreatedAt, w.Version)
	if err != nil {
		_ = tx.Rollback()
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update wallet", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		_ = tx.Rollback()
		return false, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Optimistic locking failure: wallet for user %d was updated by another transaction", w.UserID), nil)
	}

	if err := tx.Commit(); err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	w.Version++
	w.LastUpdatedAt = entry.CreatedAt
	return true, nil
}

// GetLedgerEntries retrieves a user's point history, newest first.
func (d Datasource) GetLedgerEntries(ctx context.Context, userID int64, limit, offset int) ([]model.LedgerEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT entry_id, user_id, amount, entry_type, ref_type, ref_id, created_at
		FROM point_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger entries", err)
	}
	defer rows.Close()

	entries := []model.LedgerEntry{}
	for rows.Next() {
		entry := model.LedgerEntry{}
		err = rows.Scan(&entry.EntryID, &entry.UserID, &entry.Amount, &entry.EntryType, &entry.RefType, &entry.RefID, &entry.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger entry", err)
		}
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over ledger entries", err)
	}

	return entries, nil
}
