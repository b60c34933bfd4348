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
	"errors"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/communehq/commune/internal/apierror"
	"github.com/communehq/commune/model"
)

var walletTracer = otel.Tracer("commune.wallet")

// Purchase debits a user's wallet for a shop item. The wallet must already
// exist; the spend path never creates one. The `(userID, SHOP_ITEM, itemID,
// USE_SHOP)` tuple is the idempotency key, so a retried purchase request for
// the same item cannot double-charge: the replay returns the wallet as the
// original debit left it.
func (c *Commune) Purchase(ctx context.Context, userID, amount, itemID int64) (*model.Wallet, error) {
	ctx, span := walletTracer.Start(ctx, "Purchase")
	defer span.End()

	wallet, err := c.datasource.GetWallet(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := wallet.Debit(amount); err != nil {
		span.RecordError(err)
		if errors.Is(err, model.ErrInsufficientBalance) {
			return nil, apierror.NewAPIError(apierror.ErrInsufficientBalance, err.Error(), map[string]interface{}{
				"balance": wallet.Balance, "amount": amount,
			})
		}
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}

	now := c.clock.Now()
	entry := &model.LedgerEntry{
		EntryID:   model.GenerateUUIDWithSuffix("led"),
		UserID:    userID,
		Amount:    -amount,
		EntryType: model.EntryUseShop,
		RefType:   model.RefShopItem,
		RefID:     itemID,
		CreatedAt: now,
	}

	applied, err := c.datasource.ApplyEntry(ctx, entry, wallet)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !applied {
		span.AddEvent("Purchase already applied, skipping", trace.WithAttributes(
			attribute.Int64("user.id", userID), attribute.Int64("item.id", itemID)))
		logrus.Infof("purchase replay for user %d item %d, no-op", userID, itemID)
		return c.datasource.GetWallet(ctx, userID)
	}

	c.invalidateWallet(ctx, userID)
	span.AddEvent("Purchase applied", trace.WithAttributes(
		attribute.Int64("user.id", userID), attribute.Int64("amount", amount)))
	return wallet, nil
}

// AdminGrant credits a user's wallet outside the normal earning flow. The
// caller supplies the grant reference id, which doubles as the idempotency
// key; a replayed grant with the same id is a no-op.
func (c *Commune) AdminGrant(ctx context.Context, userID, amount, grantID int64) (*model.Wallet, error) {
	ctx, span := walletTracer.Start(ctx, "AdminGrant")
	defer span.End()

	if amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "grant amount must be greater than zero", nil)
	}

	now := c.clock.Now()
	wallet, err := c.datasource.GetOrCreateWallet(ctx, userID, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := wallet.Credit(amount); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}

	entry := &model.LedgerEntry{
		EntryID:   model.GenerateUUIDWithSuffix("led"),
		UserID:    userID,
		Amount:    amount,
		EntryType: model.EntryAdminGrant,
		RefType:   model.RefAdminGrant,
		RefID:     grantID,
		CreatedAt: now,
	}

	applied, err := c.datasource.ApplyEntry(ctx, entry, wallet)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !applied {
		span.AddEvent("Grant already applied, skipping", trace.WithAttributes(
			attribute.Int64("user.id", userID), attribute.Int64("grant.id", grantID)))
		logrus.Infof("admin grant replay for user %d grant %d, no-op", userID, grantID)
		return c.datasource.GetWallet(ctx, userID)
	}

	c.invalidateWallet(ctx, userID)
	span.AddEvent("Grant applied", trace.WithAttributes(
		attribute.Int64("user.id", userID), attribute.Int64("amount", amount)))
	return wallet, nil
}
