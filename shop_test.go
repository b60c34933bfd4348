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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/communehq/commune/database/mocks"
	"github.com/communehq/commune/internal/apierror"
	"github.com/communehq/commune/model"
)

func TestPurchase_DebitsWalletAndRecordsSpend(t *testing.T) {
	ds := new(mocks.MockDataSource)
	now := time.Date(2024, 11, 2, 15, 4, 5, 0, time.UTC)
	svc := newTestService(t, ds, now)

	wallet := &model.Wallet{UserID: 7, Balance: 100, LastUpdatedAt: now, Version: 2}
	ds.On("GetWallet", mock.Anything, int64(7)).Return(wallet, nil)
	ds.On("ApplyEntry", mock.Anything, mock.MatchedBy(func(e *model.LedgerEntry) bool {
		return e.UserID == 7 && e.Amount == -30 &&
			e.EntryType == model.EntryUseShop && e.RefType == model.RefShopItem && e.RefID == 7
	}), wallet).Return(true, nil)

	got, err := svc.Purchase(context.Background(), 7, 30, 7)
	assert.NoError(t, err)
	assert.Equal(t, int64(70), got.Balance)
	ds.AssertExpectations(t)
}

func TestPurchase_ReplayDoesNotDoubleCharge(t *testing.T) {
	ds := new(mocks.MockDataSource)
	now := time.Date(2024, 11, 2, 15, 4, 5, 0, time.UTC)
	svc := newTestService(t, ds, now)

	// the original request already debited 100 -> 70; the retried request
	// hits the idempotency key and must leave the balance at 70.
	wallet := &model.Wallet{UserID: 7, Balance: 70, LastUpdatedAt: now, Version: 3}
	ds.On("GetWallet", mock.Anything, int64(7)).Return(wallet, nil).Once()
	ds.On("ApplyEntry", mock.Anything, mock.Anything, wallet).Return(false, nil)
	ds.On("GetWallet", mock.Anything, int64(7)).
		Return(&model.Wallet{UserID: 7, Balance: 70, LastUpdatedAt: now, Version: 3}, nil).Once()

	got, err := svc.Purchase(context.Background(), 7, 30, 7)
	assert.NoError(t, err)
	assert.Equal(t, int64(70), got.Balance)
	ds.AssertExpectations(t)
}

func TestPurchase_InsufficientBalance(t *testing.T) {
	ds := new(mocks.MockDataSource)
	now := time.Now()
	svc := newTestService(t, ds, now)

	wallet := &model.Wallet{UserID: 7, Balance: 10, LastUpdatedAt: now, Version: 1}
	ds.On("GetWallet", mock.Anything, int64(7)).Return(wallet, nil)

	_, err := svc.Purchase(context.Background(), 7, 30, 7)
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInsufficientBalance))
	assert.Equal(t, int64(10), wallet.Balance)
	ds.AssertNotCalled(t, "ApplyEntry", mock.Anything, mock.Anything, mock.Anything)
}

func TestPurchase_WalletNotFound(t *testing.T) {
	ds := new(mocks.MockDataSource)
	svc := newTestService(t, ds, time.Now())

	ds.On("GetWallet", mock.Anything, int64(99)).
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "wallet for user 99 not found", nil))

	_, err := svc.Purchase(context.Background(), 99, 30, 7)
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestPurchase_InvalidAmount(t *testing.T) {
	ds := new(mocks.MockDataSource)
	now := time.Now()
	svc := newTestService(t, ds, now)

	wallet := &model.Wallet{UserID: 7, Balance: 100, LastUpdatedAt: now, Version: 1}
	ds.On("GetWallet", mock.Anything, int64(7)).Return(wallet, nil)

	_, err := svc.Purchase(context.Background(), 7, 0, 7)
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
	ds.AssertNotCalled(t, "ApplyEntry", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdminGrant_CreditsWallet(t *testing.T) {
	ds := new(mocks.MockDataSource)
	now := time.Date(2024, 11, 2, 15, 4, 5, 0, time.UTC)
	svc := newTestService(t, ds, now)

	wallet := &model.Wallet{UserID: 7, Balance: 0, LastUpdatedAt: now}
	ds.On("GetOrCreateWallet", mock.Anything, int64(7), now).Return(wallet, nil)
	ds.On("ApplyEntry", mock.Anything, mock.MatchedBy(func(e *model.LedgerEntry) bool {
		return e.EntryType == model.EntryAdminGrant && e.RefType == model.RefAdminGrant &&
			e.RefID == 9001 && e.Amount == 500
	}), wallet).Return(true, nil)

	got, err := svc.AdminGrant(context.Background(), 7, 500, 9001)
	assert.NoError(t, err)
	assert.Equal(t, int64(500), got.Balance)
	ds.AssertExpectations(t)
}

func TestAdminGrant_ReplayIsNoOp(t *testing.T) {
	ds := new(mocks.MockDataSource)
	now := time.Date(2024, 11, 2, 15, 4, 5, 0, time.UTC)
	svc := newTestService(t, ds, now)

	wallet := &model.Wallet{UserID: 7, Balance: 500, LastUpdatedAt: now, Version: 1}
	ds.On("GetOrCreateWallet", mock.Anything, int64(7), now).Return(wallet, nil)
	ds.On("ApplyEntry", mock.Anything, mock.Anything, wallet).Return(false, nil)
	ds.On("GetWallet", mock.Anything, int64(7)).
		Return(&model.Wallet{UserID: 7, Balance: 500, LastUpdatedAt: now, Version: 1}, nil)

	got, err := svc.AdminGrant(context.Background(), 7, 500, 9001)
	assert.NoError(t, err)
	assert.Equal(t, int64(500), got.Balance)
}

func TestAdminGrant_InvalidAmount(t *testing.T) {
	ds := new(mocks.MockDataSource)
	svc := newTestService(t, ds, time.Now())

	_, err := svc.AdminGrant(context.Background(), 7, -5, 9001)
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
	ds.AssertNotCalled(t, "GetOrCreateWallet", mock.Anything, mock.Anything, mock.Anything)
}
