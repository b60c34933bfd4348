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

package model

import (
	"fmt"
	"time"
)

const (
	OutboxStatusPending   = "PENDING"
	OutboxStatusPublished = "PUBLISHED"
	OutboxStatusFailed    = "FAILED"
)

// MaxOutboxErrorLength bounds the stored delivery error text.
const MaxOutboxErrorLength = 1000

// OutboxRecord is the durable intent to publish one event. It is created in
// the same transaction as the domain write that caused it and drained later
// by the relay. PUBLISHED is terminal.
type OutboxRecord struct {
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	Exchange    string     `json:"exchange"`
	RoutingKey  string     `json:"routing_key"`
	Payload     []byte     `json:"payload"`
	DedupKey    string     `json:"dedup_key"`
	DomainID    int64      `json:"domain_id"`
	UserID      int64      `json:"user_id,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	RetryCount  int        `json:"retry_count"`
}

// Validate checks the structural invariants of a record before it is
// persisted.
func (r *OutboxRecord) Validate() error {
	if r.EventType == "" {
		return fmt.Errorf("outbox record event type is required")
	}
	if r.Exchange == "" || r.RoutingKey == "" {
		return fmt.Errorf("outbox record exchange and routing key are required")
	}
	if r.DedupKey == "" {
		return fmt.Errorf("outbox record dedup key is required")
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("outbox record payload is required")
	}
	return nil
}

// Backoff returns the delay before the next delivery attempt after
// retryCount failures: min(300, 2^min(retryCount, 8)) seconds. The exponent
// clamp caps growth at 256s; the 300s ceiling is kept as the contract's
// absolute bound.
func Backoff(retryCount int) time.Duration {
	exp := retryCount
	if exp > 8 {
		exp = 8
	}
	if exp < 0 {
		exp = 0
	}
	secs := int64(1) << uint(exp)
	if secs > 300 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

// TruncateError bounds a delivery error message to MaxOutboxErrorLength.
func TruncateError(msg string) string {
	if len(msg) > MaxOutboxErrorLength {
		return msg[:MaxOutboxErrorLength]
	}
	return msg
}
