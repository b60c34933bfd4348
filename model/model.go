package model

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix returns a new UUID prefixed with a short module
// tag, e.g. "led_5f8e…" for ledger entries and "obx_…" for outbox events.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}
