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
	"time"

	"github.com/communehq/commune/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	wallet // Interface for wallet-related operations
	ledger // Interface for point-ledger operations
	outbox // Interface for outbox-related operations
}

// wallet defines methods for handling wallets.
type wallet interface {
	GetWallet(ctx context.Context, userID int64) (*model.Wallet, error)                         // Retrieves a wallet, NOT_FOUND when absent
	GetOrCreateWallet(ctx context.Context, userID int64, now time.Time) (*model.Wallet, error)  // Retrieves a wallet, creating it lazily on first use
	ApplyEntry(ctx context.Context, entry *model.LedgerEntry, w *model.Wallet) (bool, error)    // Appends a ledger entry and persists the wallet atomically; false on idempotent replay
	GetLedgerEntries(ctx context.Context, userID int64, limit, offset int) ([]model.LedgerEntry, error) // Retrieves point history, newest first
}

// ledger defines methods for querying the point ledger.
type ledger interface {
	LedgerEntryExists(ctx context.Context, userID int64, refType model.RefType, refID int64, entryType model.EntryType) (bool, error)       // Idempotency pre-check
	CountEntriesInWindow(ctx context.Context, userID int64, entryType model.EntryType, from, to time.Time) (int64, error)                   // Daily-limit enforcement
	UsersWithEntry(ctx context.Context, userIDs []int64, refType model.RefType, refID int64, entryType model.EntryType) (map[int64]bool, error) // Bulk idempotency pre-check
}

// outbox defines methods for handling outbox events.
type outbox interface {
	CreateOutboxRecord(ctx context.Context, record *model.OutboxRecord) (bool, error)            // Persists a pending record; false on dedup-key collision
	GetOutboxRecordByDedupKey(ctx context.Context, dedupKey string) (*model.OutboxRecord, error) // Retrieves the record behind a dedup key
	MarkOutboxPublished(ctx context.Context, eventID string, now time.Time) error                // Terminal success transition, idempotent
	MarkOutboxFailed(ctx context.Context, eventID string, errMsg string, now time.Time) error    // Failure transition with retry bookkeeping
	GetDueOutboxRecords(ctx context.Context, now time.Time, limit int) ([]*model.OutboxRecord, error) // Rows eligible for delivery
}
