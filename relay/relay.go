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

// Package relay drains the outbox: it periodically selects records that are
// PENDING, or FAILED with an elapsed next_retry_at, attempts delivery, and
// reports the outcome back so the outbox state machine can advance. A FAILED
// record is never flipped back to PENDING; it is simply re-attempted once its
// retry time elapses.
package relay

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/communehq/commune/config"
	"github.com/communehq/commune/database"
)

const drainTimeout = 30 * time.Second

// Relay polls the outbox and feeds delivery outcomes back into it.
type Relay struct {
	datasource database.IDataSource
	publisher  Publisher
	interval   time.Duration
	batchSize  int
	now        func() time.Time
}

// NewRelay builds a relay with the poll interval and batch size from
// configuration.
func NewRelay(ds database.IDataSource, publisher Publisher) (*Relay, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return &Relay{
		datasource: ds,
		publisher:  publisher,
		interval:   time.Duration(cnf.Relay.PollIntervalSec) * time.Second,
		batchSize:  cnf.Relay.BatchSize,
		now:        time.Now,
	}, nil
}

// Run drains once immediately, then on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			logrus.Info("stopping outbox relay")
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

func (r *Relay) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	published, failed, err := r.Drain(ctx)
	if err != nil {
		logrus.WithError(err).Error("outbox drain failed")
		return
	}
	if published > 0 || failed > 0 {
		logrus.WithFields(logrus.Fields{
			"published": published,
			"failed":    failed,
		}).Info("outbox drain completed")
	}
}

// Drain selects one batch of due records and attempts delivery for each. A
// failed delivery marks the record FAILED with its error text; the record
// waits out its backoff before the polling query picks it up again. One
// record's failure never blocks the rest of the batch.
func (r *Relay) Drain(ctx context.Context) (published, failed int, err error) {
	records, err := r.datasource.GetDueOutboxRecords(ctx, r.now(), r.batchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, record := range records {
		if err := r.publisher.Publish(ctx, record); err != nil {
			failed++
			logrus.WithError(err).Warnf("delivery failed for outbox record %s (attempt %d)", record.EventID, record.RetryCount+1)
			if markErr := r.datasource.MarkOutboxFailed(ctx, record.EventID, err.Error(), r.now()); markErr != nil {
				logrus.WithError(markErr).Errorf("could not mark outbox record %s failed", record.EventID)
			}
			continue
		}
		if markErr := r.datasource.MarkOutboxPublished(ctx, record.EventID, r.now()); markErr != nil {
			logrus.WithError(markErr).Errorf("could not mark outbox record %s published", record.EventID)
			continue
		}
		published++
	}
	return published, failed, nil
}
