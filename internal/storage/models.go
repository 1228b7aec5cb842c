package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OpportunityRecord is an alert-worthy spread kept for auditing. Raw
// per-source prices are never stored outside of a record.
type OpportunityRecord struct {
	ID             int64
	ReportID       uuid.UUID
	Asset          string
	CheapestSource string
	CheapestPrice  decimal.Decimal
	PriciestSource string
	PriciestPrice  decimal.Decimal
	Spread         decimal.Decimal
	SpreadPct      decimal.Decimal
	ThresholdPct   decimal.Decimal
	Sources        int
	Channels       []string
	DetectedAt     time.Time
	CreatedAt      time.Time
}
