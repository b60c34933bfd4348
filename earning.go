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
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/communehq/commune/config"
	"github.com/communehq/commune/internal/apierror"
	"github.com/communehq/commune/model"
)

var pointsTracer = otel.Tracer("commune.points")

const walletCacheTTL = 5 * time.Minute

func walletCacheKey(userID int64) string {
	return fmt.Sprintf("wallet:%d", userID)
}

// Earn credits a user's wallet for a distinct business event, exactly once.
// The `(userID, refType, refID, entryType)` tuple is the idempotency key: a
// replayed event returns the current wallet without a second credit. Entry
// types with a configured daily cap are rejected with DAILY_LIMIT_EXCEEDED
// once the cap is reached for the calendar day (UTC). The cap is a soft
// ceiling: two simultaneous calls can both pass the count check before either
// commits.
func (c *Commune) Earn(ctx context.Context, userID int64, entryType model.EntryType, refType model.RefType, refID int64, amount int64) (*model.Wallet, error) {
	ctx, span := pointsTracer.Start(ctx, "Earn")
	defer span.End()

	if amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "earn amount must be greater than zero", nil)
	}

	if err := c.checkDailyLimit(ctx, userID, entryType); err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := c.clock.Now()
	wallet, err := c.datasource.GetOrCreateWallet(ctx, userID, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	entry := &model.LedgerEntry{
		EntryID:   model.GenerateUUIDWithSuffix("led"),
		UserID:    userID,
		Amount:    amount,
		EntryType: entryType,
		RefType:   refType,
		RefID:     refID,
		CreatedAt: now,
	}
	if err := entry.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), entry)
	}

	if err := wallet.Credit(amount); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}

	applied, err := c.datasource.ApplyEntry(ctx, entry, wallet)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !applied {
		span.AddEvent("Entry already credited, skipping", trace.WithAttributes(
			attribute.Int64("user.id", userID), attribute.String("entry.type", string(entryType))))
		logrus.Infof("earn replay for user %d (%s %s/%d), no-op", userID, entryType, refType, refID)
		return c.datasource.GetWallet(ctx, userID)
	}

	c.invalidateWallet(ctx, userID)
	span.AddEvent("Points credited", trace.WithAttributes(
		attribute.Int64("user.id", userID), attribute.Int64("amount", amount)))
	return wallet, nil
}

// EarnForMany credits a group of users for the same business event, e.g. a
// study-completion reward. Users that already hold the idempotency key are
// filtered out up front; each remaining credit is independent, so one user's
// failure never blocks the rest. Failures are returned per user.
func (c *Commune) EarnForMany(ctx context.Context, userIDs []int64, entryType model.EntryType, refType model.RefType, refID int64, amount int64) ([]int64, map[int64]error) {
	ctx, span := pointsTracer.Start(ctx, "EarnForMany")
	defer span.End()

	failures := make(map[int64]error)

	credited, err := c.datasource.UsersWithEntry(ctx, userIDs, refType, refID, entryType)
	if err != nil {
		span.RecordError(err)
		for _, userID := range userIDs {
			failures[userID] = err
		}
		return nil, failures
	}

	var appliedTo []int64
	for _, userID := range userIDs {
		if credited[userID] {
			continue
		}
		if _, err := c.Earn(ctx, userID, entryType, refType, refID, amount); err != nil {
			logrus.Errorf("batch earn failed for user %d (%s %s/%d): %v", userID, entryType, refType, refID, err)
			failures[userID] = err
			continue
		}
		appliedTo = append(appliedTo, userID)
	}

	span.AddEvent("Batch earn completed", trace.WithAttributes(
		attribute.Int("credited", len(appliedTo)), attribute.Int("failed", len(failures))))
	return appliedTo, failures
}

// GetWallet is the read path for a user's point balance, served through the
// cache. The cache is invalidated on every balance mutation.
func (c *Commune) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	ctx, span := pointsTracer.Start(ctx, "GetWallet")
	defer span.End()

	key := walletCacheKey(userID)
	var cached model.Wallet
	if err := c.cache.Get(ctx, key, &cached); err == nil && cached.UserID == userID {
		span.AddEvent("Wallet served from cache")
		return &cached, nil
	}

	wallet, err := c.datasource.GetWallet(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := c.cache.Set(ctx, key, wallet, walletCacheTTL); err != nil {
		logrus.Warnf("failed to cache wallet for user %d: %v", userID, err)
	}
	return wallet, nil
}

// GetLedgerEntries returns a user's point history, newest first.
func (c *Commune) GetLedgerEntries(ctx context.Context, userID int64, limit, offset int) ([]model.LedgerEntry, error) {
	ctx, span := pointsTracer.Start(ctx, "GetLedgerEntries")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	entries, err := c.datasource.GetLedgerEntries(ctx, userID, limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return entries, nil
}

func (c *Commune) checkDailyLimit(ctx context.Context, userID int64, entryType model.EntryType) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	limit, capped := cnf.Points.DailyLimits[string(entryType)]
	if !capped {
		return nil
	}

	dayStart := c.clock.Now().UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)
	count, err := c.datasource.CountEntriesInWindow(ctx, userID, entryType, dayStart, dayEnd)
	if err != nil {
		return err
	}
	if count >= int64(limit) {
		return apierror.NewAPIError(apierror.ErrDailyLimitExceeded,
			fmt.Sprintf("daily limit of %d reached for %s", limit, entryType), map[string]interface{}{
				"user_id": userID, "count": count,
			})
	}
	return nil
}

func (c *Commune) invalidateWallet(ctx context.Context, userID int64) {
	if err := c.cache.Delete(ctx, walletCacheKey(userID)); err != nil {
		logrus.Warnf("failed to invalidate wallet cache for user %d: %v", userID, err)
	}
}
