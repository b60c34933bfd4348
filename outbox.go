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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/communehq/commune/config"
	"github.com/communehq/commune/internal/apierror"
	"github.com/communehq/commune/model"
)

var outboxTracer = otel.Tracer("commune.outbox")

// CreatePendingEvent records the intent to publish an event, to be inserted
// in the same transaction scope as the domain write that triggers it. A
// dedup-key collision means the intent already exists; the existing record is
// returned and no error surfaces to the business-event source.
func (c *Commune) CreatePendingEvent(ctx context.Context, eventType, routingKey string, payload []byte, dedupKey string, domainID, userID int64) (*model.OutboxRecord, error) {
	ctx, span := outboxTracer.Start(ctx, "CreatePendingEvent")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	record := &model.OutboxRecord{
		EventID:    model.GenerateUUIDWithSuffix("obx"),
		EventType:  eventType,
		Exchange:   cnf.Broker.Exchange,
		RoutingKey: routingKey,
		Payload:    payload,
		DedupKey:   dedupKey,
		DomainID:   domainID,
		UserID:     userID,
		Status:     model.OutboxStatusPending,
		CreatedAt:  c.clock.Now(),
	}
	if err := record.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), record)
	}

	created, err := c.datasource.CreateOutboxRecord(ctx, record)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !created {
		span.AddEvent("Publish intent already recorded", trace.WithAttributes(
			attribute.String("dedup.key", dedupKey)))
		logrus.Infof("outbox dedup key %q already recorded, returning existing record", dedupKey)
		return c.datasource.GetOutboxRecordByDedupKey(ctx, dedupKey)
	}

	span.AddEvent("Outbox record created", trace.WithAttributes(
		attribute.String("event.id", record.EventID), attribute.String("event.type", eventType)))
	return record, nil
}

// MarkEventPublished is the relay's success feedback. PUBLISHED is terminal;
// repeating the call changes nothing.
func (c *Commune) MarkEventPublished(ctx context.Context, eventID string) error {
	ctx, span := outboxTracer.Start(ctx, "MarkEventPublished")
	defer span.End()

	if err := c.datasource.MarkOutboxPublished(ctx, eventID, c.clock.Now()); err != nil {
		span.RecordError(err)
		return err
	}
	span.AddEvent("Outbox record published", trace.WithAttributes(attribute.String("event.id", eventID)))
	return nil
}

// MarkEventFailed is the relay's failure feedback: it flips the record to
// FAILED, bumps retry_count and schedules the next attempt with exponential
// backoff. Calls against a PUBLISHED record are ignored.
func (c *Commune) MarkEventFailed(ctx context.Context, eventID string, deliveryErr string) error {
	ctx, span := outboxTracer.Start(ctx, "MarkEventFailed")
	defer span.End()

	if err := c.datasource.MarkOutboxFailed(ctx, eventID, deliveryErr, c.clock.Now()); err != nil {
		span.RecordError(err)
		return err
	}
	span.AddEvent("Outbox record failed", trace.WithAttributes(
		attribute.String("event.id", eventID), attribute.String("error", model.TruncateError(deliveryErr))))
	return nil
}
