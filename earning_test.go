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

package commune

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/communehq/commune/database/mocks"
	"github.com/communehq/commune/internal/apierror"
	"github.com/communehq/commune/model"
)

func TestEarn_CreditsWallet(t *testing.T) {
	ds := new(mocks.MockDataSource)
	now := time.Date(2024, 11, 2, 15, 4, 5, 0, time.UTC)
	svc := newTestService(t, ds, now)

	wallet := &model.Wallet{UserID: 7, Balance: 100, LastUpdatedAt: now, Version: 3}
	ds.On("GetOrCreateWallet", mock.Anything, int64(7), now).Return(wallet, nil)
	ds.On("ApplyEntry", mock.Anything, mock.MatchedBy(func(e *model.LedgerEntry) bool {
		return e.UserID == 7 && e.Amount == 15 &&
			e.EntryType == model.EntryCreateStudy && e.RefType == model.RefStudy && e.RefID == 12 &&
			strings.HasPrefix(e.EntryID, "led_")
	}), wallet).Return(true, nil)

	got, err := svc.Earn(context.Background(), 7, model.EntryCreateStudy, model.RefStudy, 12, 15)
	assert.NoError(t, err)
	assert.Equal(t, int64(115), got.Balance)
	ds.AssertExpectations(t)
}

func TestEarn_InvalidAmount(t *testing.T) {
	ds := new(mocks.MockDataSource)
	svc := newTestService(t, ds, time.Now())

	_, err := svc.Earn(context.Background(), 7, model.EntryCreateStudy, model.RefStudy, 12, 0)
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
	ds.AssertNotCalled(t, "GetOrCreateWallet", mock.Anything, mock.Anything, mock.Anything)
}

func TestEarn_ReplayIsNoOp(t *testing.T) {
	ds := new(mocks.MockDataSource)
	now := time.Date(2024, 11, 2, 15, 4, 5, 0, time.UTC)
	svc := newTestService(t, ds, now)

	wallet := &model.Wallet{UserID: 7, Balance: 100, LastUpdatedAt: now, Version: 3}
	ds.On("GetOrCreateWallet", mock.Anything, int64(7), now).Return(wallet, nil)
	ds.On("ApplyEntry", mock.Anything, mock.Anything, wallet).Return(false, nil)
	ds.On("GetWallet", mock.Anything, int64(7)).
		Return(&model.Wallet{UserID: 7, Balance: 100, LastUpdatedAt: now, Version: 3}, nil)

	got, err := svc.Earn(context.Background(), 7, model.EntryCreateStudy, model.RefStudy, 12, 15)
	assert.NoError(t, err)
	assert.Equal(t, int64(100), got.Balance)
	ds.AssertExpectations(t)
}

func TestEarn_UncappedTypeSkipsCountCheck(t *testing.T) {
	ds := new(mocks.MockDataSource)
	now := time.Date(2024, 11, 2, 15, 4, 5, 0, time.UTC)
	svc := newTestService(t, ds, now)

	wallet := &model.Wallet{UserID: 7, Balance: 0, LastUpdatedAt: now}
	ds.On("GetOrCreateWallet", mock.Anything, int64(7), now).Return(wallet, nil)
	ds.On("ApplyEntry", mock.Anything, mock.Anything, wallet).Return(true, nil)

	_, err := svc.Earn(context.Background(), 7, model.EntryJoinStudy, model.RefStudy, 12, 25)
	assert.NoError(t, err)
	ds.AssertNotCalled(t, "CountEntriesInWindow", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEarn_DailyLimit(t *testing.T) {
	ds := new(mocks.MockDataSource)
	now := time.Date(2024, 11, 2, 15, 4, 5, 0, time.UTC)
	svc := newTestService(t, ds, now)

	dayStart := time.Date(2024, 11, 2, 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	// cap for WRITE_POST is 3: the first three distinct posts credit, the
	// fourth is rejected before any mutation.
	for i := 0; i < 3; i++ {
		ds.On("CountEntriesInWindow", mock.Anything, int64(7), model.EntryWritePost, dayStart, dayEnd).
			Return(int64(i), nil).Once()
	}
	ds.On("CountEntriesInWindow", mock.Anything, int64(7), model.EntryWritePost, dayStart, dayEnd).
		Return(int64(3), nil).Once()

	wallet := &model.Wallet{UserID: 7, Balance: 0, LastUpdatedAt: now}
	ds.On("GetOrCreateWallet", mock.Anything, int64(7), now).Return(wallet, nil).Times(3)
	ds.On("ApplyEntry", mock.Anything, mock.Anything, wallet).Return(true, nil).Times(3)

	for refID := int64(51); refID <= 53; refID++ {
		_, err := svc.Earn(context.Background(), 7, model.EntryWritePost, model.RefPost, refID, 10)
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(30), wallet.Balance)

	_, err := svc.Earn(context.Background(), 7, model.EntryWritePost, model.RefPost, 54, 10)
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrDailyLimitExceeded))
	assert.Equal(t, int64(30), wallet.Balance)
	ds.AssertExpectations(t)
}

func TestEarnForMany_SkipsCreditedAndIsolatesFailures(t *testing.T) {
	ds := new(mocks.MockDataSource)
	now := time.Date(2024, 11, 2, 15, 4, 5, 0, time.UTC)
	svc := newTestService(t, ds, now)

	userIDs := []int64{1, 2, 3}
	ds.On("UsersWithEntry", mock.Anything, userIDs, model.RefStudy, int64(12), model.EntryCompleteStudy).
		Return(map[int64]bool{2: true}, nil)

	walletOne := &model.Wallet{UserID: 1, Balance: 0, LastUpdatedAt: now}
	ds.On("GetOrCreateWallet", mock.Anything, int64(1), now).Return(walletOne, nil)
	ds.On("ApplyEntry", mock.Anything, mock.Anything, walletOne).Return(true, nil)

	ds.On("GetOrCreateWallet", mock.Anything, int64(3), now).
		Return(nil, apierror.NewAPIError(apierror.ErrInternalServer, "db down", nil))

	credited, failures := svc.EarnForMany(context.Background(), userIDs, model.EntryCompleteStudy, model.RefStudy, 12, 50)
	assert.Equal(t, []int64{1}, credited)
	assert.Len(t, failures, 1)
	assert.Error(t, failures[3])
	ds.AssertExpectations(t)
}

func TestGetWallet_SecondReadServedFromCache(t *testing.T) {
	ds := new(mocks.MockDataSource)
	now := time.Now()
	svc := newTestService(t, ds, now)

	ds.On("GetWallet", mock.Anything, int64(501)).
		Return(&model.Wallet{UserID: 501, Balance: 40, LastUpdatedAt: now, Version: 1}, nil).Once()

	first, err := svc.GetWallet(context.Background(), 501)
	assert.NoError(t, err)
	assert.Equal(t, int64(40), first.Balance)

	second, err := svc.GetWallet(context.Background(), 501)
	assert.NoError(t, err)
	assert.Equal(t, int64(40), second.Balance)
	ds.AssertExpectations(t)
}

func TestGetLedgerEntries_DefaultLimit(t *testing.T) {
	ds := new(mocks.MockDataSource)
	svc := newTestService(t, ds, time.Now())

	ds.On("GetLedgerEntries", mock.Anything, int64(7), 50, 0).
		Return([]model.LedgerEntry{}, nil)

	_, err := svc.GetLedgerEntries(context.Background(), 7, 0, 0)
	assert.NoError(t, err)
	ds.AssertExpectations(t)
}

func TestEarn_PropagatesOptimisticConflict(t *testing.T) {
	ds := new(mocks.MockDataSource)
	now := time.Date(2024, 11, 2, 15, 4, 5, 0, time.UTC)
	svc := newTestService(t, ds, now)

	wallet := &model.Wallet{UserID: 7, Balance: 100, LastUpdatedAt: now, Version: 3}
	ds.On("GetOrCreateWallet", mock.Anything, int64(7), now).Return(wallet, nil)
	ds.On("ApplyEntry", mock.Anything, mock.Anything, wallet).
		Return(false, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("wallet for user %d was updated concurrently", 7), nil))

	_, err := svc.Earn(context.Background(), 7, model.EntryCreateStudy, model.RefStudy, 12, 15)
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
}
