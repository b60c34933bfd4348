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
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/communehq/commune/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Wallet methods

func (m *MockDataSource) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Wallet), args.Error(1)
}

func (m *MockDataSource) GetOrCreateWallet(ctx context.Context, userID int64, now time.Time) (*model.Wallet, error) {
	args := m.Called(ctx, userID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Wallet), args.Error(1)
}

func (m *MockDataSource) ApplyEntry(ctx context.Context, entry *model.LedgerEntry, w *model.Wallet) (bool, error) {
	args := m.Called(ctx, entry, w)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) GetLedgerEntries(ctx context.Context, userID int64, limit, offset int) ([]model.LedgerEntry, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.LedgerEntry), args.Error(1)
}

// Ledger methods

func (m *MockDataSource) LedgerEntryExists(ctx context.Context, userID int64, refType model.RefType, refID int64, entryType model.EntryType) (bool, error) {
	args := m.Called(ctx, userID, refType, refID, entryType)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) CountEntriesInWindow(ctx context.Context, userID int64, entryType model.EntryType, from, to time.Time) (int64, error) {
	args := m.Called(ctx, userID, entryType, from, to)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) UsersWithEntry(ctx context.Context, userIDs []int64, refType model.RefType, refID int64, entryType model.EntryType) (map[int64]bool, error) {
	args := m.Called(ctx, userIDs, refType, refID, entryType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64]bool), args.Error(1)
}

// Outbox methods

func (m *MockDataSource) CreateOutboxRecord(ctx context.Context, record *model.OutboxRecord) (bool, error) {
	args := m.Called(ctx, record)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) GetOutboxRecordByDedupKey(ctx context.Context, dedupKey string) (*model.OutboxRecord, error) {
	args := m.Called(ctx, dedupKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OutboxRecord), args.Error(1)
}

func (m *MockDataSource) MarkOutboxPublished(ctx context.Context, eventID string, now time.Time) error {
	args := m.Called(ctx, eventID, now)
	return args.Error(0)
}

func (m *MockDataSource) MarkOutboxFailed(ctx context.Context, eventID string, errMsg string, now time.Time) error {
	args := m.Called(ctx, eventID, errMsg, now)
	return args.Error(0)
}

func (m *MockDataSource) GetDueOutboxRecords(ctx context.Context, now time.Time, limit int) ([]*model.OutboxRecord, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.OutboxRecord), args.Error(1)
}
