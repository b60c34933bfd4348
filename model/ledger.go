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

// EntryType enumerates the earning and spending categories recorded in the
// point ledger.
type EntryType string

const (
	EntryWritePost     EntryType = "WRITE_POST"
	EntryWriteComment  EntryType = "WRITE_COMMENT"
	EntryAddReaction   EntryType = "ADD_REACTION"
	EntryCreateStudy   EntryType = "CREATE_STUDY"
	EntryJoinStudy     EntryType = "JOIN_STUDY"
	EntryCompleteStudy EntryType = "COMPLETE_STUDY"
	EntryResumeReview  EntryType = "RESUME_REVIEW"
	EntryUseShop       EntryType = "USE_SHOP"
	EntryAdminGrant    EntryType = "ADMIN_GRANT"
)

// RefType names the kind of business object that caused a ledger entry.
type RefType string

const (
	RefPost       RefType = "POST"
	RefComment    RefType = "COMMENT"
	RefReaction   RefType = "REACTION"
	RefStudy      RefType = "STUDY"
	RefResume     RefType = "RESUME"
	RefShopItem   RefType = "SHOP_ITEM"
	RefAdminGrant RefType = "ADMIN_GRANT"
)

// LedgerEntry is one immutable credit or debit. Amount is signed: positive
// for earnings, negative for spending. (UserID, RefType, RefID, EntryType)
// is the idempotency key; the database enforces its uniqueness.
type LedgerEntry struct {
	EntryID   string    `json:"entry_id"`
	UserID    int64     `json:"user_id"`
	Amount    int64     `json:"amount"`
	EntryType EntryType `json:"entry_type"`
	RefType   RefType   `json:"ref_type"`
	RefID     int64     `json:"ref_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the structural invariants of an entry before it is
// persisted.
func (e *LedgerEntry) Validate() error {
	if e.UserID <= 0 {
		return fmt.Errorf("ledger entry user id must be positive, got %d", e.UserID)
	}
	if e.RefID <= 0 {
		return fmt.Errorf("ledger entry ref id must be positive, got %d", e.RefID)
	}
	if e.EntryType == "" || e.RefType == "" {
		return fmt.Errorf("ledger entry type and ref type are required")
	}
	if e.Amount == 0 {
		return ErrInvalidAmount
	}
	return nil
}
