package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// CronSchedule is a recurring envelope template materialized into exactly
// one pending envelope at a time while enabled (spec §3, §4.7).
type CronSchedule struct {
	ID                uuid.UUID
	AgentName         string
	Cron              string
	Timezone          string // IANA name; "" or "local" means inherit boss tz
	Enabled           bool
	To                Address
	Content           Content
	Metadata          json.RawMessage
	PendingEnvelopeID *uuid.UUID
	CreatedAt         int64
	UpdatedAt         *int64
}
