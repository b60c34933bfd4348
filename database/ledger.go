package database

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/communehq/commune/internal/apierror"
	"github.com/communehq/commune/model"
)

// LedgerEntryExists reports whether the idempotency key
// (userID, refType, refID, entryType) has already been recorded.
func (d Datasource) LedgerEntryExists(ctx context.Context, userID int64, refType model.RefType, refID int64, entryType model.EntryType) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM point_ledger
			WHERE user_id = $1 AND ref_type = $2 AND ref_id = $3 AND entry_type = $4
		)
	`, userID, refType, refID, entryType).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check ledger entry existence", err)
	}
	return exists, nil
}

// CountEntriesInWindow counts a user's entries of one type created within
// [from, to). The earning engine uses it for daily-limit enforcement.
func (d Datasource) CountEntriesInWindow(ctx context.Context, userID int64, entryType model.EntryType, from, to time.Time) (int64, error) {
	var count int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM point_ledger
		WHERE user_id = $1 AND entry_type = $2 AND created_at >= $3 AND created_at < $4
	`, userID, entryType, from, to).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count ledger entries", err)
	}
	return count, nil
}

// UsersWithEntry returns the subset of userIDs that already hold the
// idempotency key (refType, refID, entryType). Used by the batch earning
// path to skip users credited by an earlier delivery.
func (d Datasource) UsersWithEntry(ctx context.Context, userIDs []int64, refType model.RefType, refID int64, entryType model.EntryType) (map[int64]bool, error) {
	existing := map[int64]bool{}
	if len(userIDs) == 0 {
		return existing, nil
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT user_id FROM point_ledger
		WHERE user_id = ANY($1) AND ref_type = $2 AND ref_id = $3 AND entry_type = $4
	`, pq.Array(userIDs), refType, refID, entryType)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to query existing ledger entries", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan user id", err)
		}
		existing[userID] = true
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over user ids", err)
	}

	return existing, nil
}
