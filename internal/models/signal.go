package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalsHistory is one aggregated signal observation produced by a single
// transformed source row (§3). SegmentCode is stored as a string for
// cross-loader uniformity even though allocation is integer-based.
type SignalsHistory struct {
	ID            int64
	LoaderCode    string
	LoadTimeStamp time.Time
	SegmentCode   string

	RecCount *int64
	MaxVal   *decimal.Decimal
	MinVal   *decimal.Decimal
	AvgVal   *decimal.Decimal
	SumVal   *decimal.Decimal

	CreatedAt time.Time

	// LoadHistoryID is nullable for backfill runs, which never attach to a
	// normal scheduled LoadHistory row (§9 open questions).
	LoadHistoryID *int64
}
