// Package transform maps raw source query rows into canonical
// SignalsHistory records, normalizing timestamps to UTC and interning
// segment tuples (spec §4.5).
package transform

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"loaderengine/internal/models"
	"loaderengine/internal/segments"
)

// Row is a mapping from column name to value, as returned by the Source
// Registry's query executor (§4.3); it does not keep the result set's
// column order. Column lookups are case-insensitive; Row stores keys as
// received.
type Row map[string]interface{}

// QueryResult is the input to Transform: the window that was requested and
// the rows the source returned for it.
type QueryResult struct {
	QueryFrom time.Time
	QueryTo   time.Time
	Rows      []Row
}

// timestampAliases holds the recognized column names for the required
// timestamp field, lowercase, checked case-insensitively (§9: explicit
// alias table, no reflection).
var timestampAliases = []string{"timestamp", "load_time_stamp", "ts", "time"}

// segmentAliasSets holds the ten recognized alias groups for segment
// columns 1..10, in positional order.
var segmentAliasSets = [10][]string{
	{"seg1", "segment1", "segment_1"},
	{"seg2", "segment2", "segment_2"},
	{"seg3", "segment3", "segment_3"},
	{"seg4", "segment4", "segment_4"},
	{"seg5", "segment5", "segment_5"},
	{"seg6", "segment6", "segment_6"},
	{"seg7", "segment7", "segment_7"},
	{"seg8", "segment8", "segment_8"},
	{"seg9", "segment9", "segment_9"},
	{"seg10", "segment10", "segment_10"},
}

var (
	countAliases = []string{"rec_count", "record_count", "count", "cnt"}
	maxAliases   = []string{"max_val", "max"}
	minAliases   = []string{"min_val", "min"}
	avgAliases   = []string{"avg_val", "avg"}
	sumAliases   = []string{"sum_val", "sum"}
)

// unixMillisThreshold is the boundary above which an integer timestamp is
// assumed to be milliseconds rather than seconds (roughly year 4960 in
// seconds, so any real seconds-epoch value falls below it).
const unixMillisThreshold = 94_608_000_000

// Transformer converts query results into SignalsHistory rows, interning
// segment tuples through the injected segments.Service.
type Transformer struct {
	segments *segments.Service
}

// NewTransformer builds a Transformer backed by the given segment interner.
func NewTransformer(segmentSvc *segments.Service) *Transformer {
	return &Transformer{segments: segmentSvc}
}

// Transform converts each row of result into a SignalsHistory record, in
// row order. An empty result yields an empty, non-error slice.
func (t *Transformer) Transform(ctx context.Context, loaderCode string, result QueryResult, timezoneOffsetHours *int, now time.Time) ([]models.SignalsHistory, error) {
	out := make([]models.SignalsHistory, 0, len(result.Rows))

	for i, row := range result.Rows {
		loadTime, err := extractTimestamp(row, timezoneOffsetHours)
		if err != nil {
			return nil, fmt.Errorf("transform: row %d: %w", i, err)
		}

		tuple := extractSegments(row)
		code, err := t.segments.GetOrCreateSegmentCode(ctx, loaderCode, tuple)
		if err != nil {
			return nil, fmt.Errorf("transform: row %d: interning segment code: %w", i, models.ErrTransformationKind)
		}

		signal := models.SignalsHistory{
			LoaderCode:    loaderCode,
			LoadTimeStamp: loadTime,
			SegmentCode:   strconv.Itoa(code),
			CreatedAt:     now,
		}
		signal.RecCount = extractInt(loaderCode, i, "recCount", row, countAliases)
		signal.MaxVal = extractDecimal(loaderCode, i, "maxVal", row, maxAliases)
		signal.MinVal = extractDecimal(loaderCode, i, "minVal", row, minAliases)
		signal.AvgVal = extractDecimal(loaderCode, i, "avgVal", row, avgAliases)
		signal.SumVal = extractDecimal(loaderCode, i, "sumVal", row, sumAliases)

		out = append(out, signal)
	}

	return out, nil
}

func lookup(row Row, aliases []string) (interface{}, bool) {
	for _, alias := range aliases {
		for k, v := range row {
			if strings.EqualFold(k, alias) {
				if v == nil {
					continue
				}
				return v, true
			}
		}
	}
	return nil, false
}

func extractTimestamp(row Row, timezoneOffsetHours *int) (time.Time, error) {
	raw, ok := lookup(row, timestampAliases)
	if !ok {
		return time.Time{}, models.ErrMissingTimestamp("no recognized timestamp column present in row")
	}

	epochSeconds, err := coerceEpochSeconds(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", models.ErrTransformationKind, err)
	}

	t := time.Unix(epochSeconds, 0).UTC()
	if timezoneOffsetHours != nil && *timezoneOffsetHours != 0 {
		t = t.Add(time.Duration(*timezoneOffsetHours) * time.Hour)
	}
	return t, nil
}

// coerceEpochSeconds accepts the value shapes named in §4.5 step 2: ints
// (auto-detecting millis vs seconds), floats, native time.Time, or strings
// (int parse, then ISO-8601).
func coerceEpochSeconds(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC().Unix(), nil
	case int64:
		return normalizeEpoch(v), nil
	case int:
		return normalizeEpoch(int64(v)), nil
	case int32:
		return normalizeEpoch(int64(v)), nil
	case float64:
		return normalizeEpoch(int64(v)), nil
	case float32:
		return normalizeEpoch(int64(v)), nil
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return normalizeEpoch(n), nil
		}
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(v)); err == nil {
			return ts.UTC().Unix(), nil
		}
		return 0, fmt.Errorf("could not parse timestamp string %q", v)
	default:
		return 0, fmt.Errorf("unsupported timestamp value type %T", raw)
	}
}

func normalizeEpoch(v int64) int64 {
	if v > unixMillisThreshold {
		return v / 1000
	}
	return v
}

func extractSegments(row Row) segments.Tuple {
	var tuple segments.Tuple
	for i, aliases := range segmentAliasSets {
		raw, ok := lookup(row, aliases)
		if !ok {
			continue
		}
		s := stringify(raw)
		tuple[i] = &s
	}
	return tuple
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// extractInt reads and parses an integer metric field. On parse failure it
// logs and returns nil rather than aborting the row (spec §4.5).
func extractInt(loaderCode string, rowIndex int, field string, row Row, aliases []string) *int64 {
	raw, ok := lookup(row, aliases)
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case int64:
		return &v
	case int:
		n := int64(v)
		return &n
	case float64:
		n := int64(v)
		return &n
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			log.Printf("transform: loader %s row %d: could not parse %s %q as int, storing null: %v", loaderCode, rowIndex, field, v, err)
			return nil
		}
		return &n
	default:
		return nil
	}
}

// extractDecimal reads and parses a decimal metric field. On parse failure
// it logs and returns nil rather than aborting the row (spec §4.5).
func extractDecimal(loaderCode string, rowIndex int, field string, row Row, aliases []string) *decimal.Decimal {
	raw, ok := lookup(row, aliases)
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case decimal.Decimal:
		return &v
	case float64:
		d := decimal.NewFromFloat(v)
		return &d
	case float32:
		d := decimal.NewFromFloat32(v)
		return &d
	case int64:
		d := decimal.NewFromInt(v)
		return &d
	case int:
		d := decimal.NewFromInt(int64(v))
		return &d
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			log.Printf("transform: loader %s row %d: could not parse %s %q as decimal, storing null: %v", loaderCode, rowIndex, field, v, err)
			return nil
		}
		return &d
	default:
		return nil
	}
}
