// Package sqlbind substitutes :fromTime/:toTime placeholders in loader SQL
// with formatted literals, auto-detecting the target format and applying
// the source timezone offset (spec §4.2). It never parses or rewrites SQL
// beyond literal token substitution.
package sqlbind

import (
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"loaderengine/internal/models"
	"loaderengine/internal/window"
)

// Format is the literal rendering applied to a substituted timestamp.
type Format string

const (
	FormatMySQLDatetime Format = "MYSQL_DATETIME"
	FormatUnixEpoch      Format = "UNIX_EPOCH_SECONDS"
	FormatISO8601        Format = "ISO_8601"
)

var (
	strToDatePattern    = regexp.MustCompile(`(?i)STR_TO_DATE`)
	unixTimestampPattern = regexp.MustCompile(`(?i)UNIX_TIMESTAMP|FROM_UNIXTIME|timestamp_unix|epoch`)
	isoTimestampPattern  = regexp.MustCompile(`(?i)TIMESTAMP\s+['"]|TO_TIMESTAMP|CAST\(.*AS\s+TIMESTAMP\)`)

	fromTimeToken = regexp.MustCompile(`:fromTime\b`)
	toTimeToken   = regexp.MustCompile(`:toTime\b`)
)

// DetectFormat inspects raw loader SQL and determines which literal format
// to render substituted timestamps in, per the §4.2 detection order.
func DetectFormat(sql string) Format {
	switch {
	case strToDatePattern.MatchString(sql):
		return FormatMySQLDatetime
	case unixTimestampPattern.MatchString(sql):
		return FormatUnixEpoch
	case isoTimestampPattern.MatchString(sql):
		return FormatISO8601
	default:
		return FormatISO8601
	}
}

// Bind substitutes :fromTime and :toTime in sql with literals formatted
// according to the auto-detected format, shifting both bounds by
// timezoneOffsetHours (UTC window -> source-local window) before rendering.
func Bind(sql string, w window.Window, timezoneOffsetHours *int) (string, error) {
	if sql == "" {
		return "", models.ErrNullInput("sql must not be null")
	}
	if strings.TrimSpace(sql) == "" {
		return "", models.ErrBlankSQL("sql must not be blank")
	}

	from, to := w.From, w.To
	if timezoneOffsetHours != nil && *timezoneOffsetHours != 0 {
		shift := time.Duration(*timezoneOffsetHours) * time.Hour
		from = from.Add(-shift)
		to = to.Add(-shift)
	}

	if !fromTimeToken.MatchString(sql) && !toTimeToken.MatchString(sql) {
		log.Printf("sqlbind: neither :fromTime nor :toTime found in loader SQL; proceeding unparameterized")
	}

	format := DetectFormat(sql)
	fromLiteral := render(from, format)
	toLiteral := render(to, format)

	result := fromTimeToken.ReplaceAllString(sql, escapePercent(fromLiteral))
	result = toTimeToken.ReplaceAllString(result, escapePercent(toLiteral))
	return result, nil
}

func render(t time.Time, format Format) string {
	switch format {
	case FormatMySQLDatetime:
		return t.UTC().Format("2006-01-02 15:04")
	case FormatUnixEpoch:
		return strconv.FormatInt(t.UTC().Unix(), 10)
	default:
		return t.UTC().Format("2006-01-02T15:04:05Z")
	}
}

// escapePercent guards against regexp.ReplaceAllString interpreting '$' in
// the replacement as a submatch reference; literal timestamp renderings
// never contain '$' but this keeps the substitution safe regardless.
func escapePercent(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}
