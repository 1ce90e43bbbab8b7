// Package schedule parses and normalizes raw schedule input into a canonical
// form, and projects next occurrences from it.
//
// Supported kinds:
//   - cron: 5-field cron expression, always evaluated in UTC
//   - interval: raw milliseconds ("90000") or an h/m/s duration ("1h30m")
//   - once: "in <duration>", or an absolute timestamp (with or without offset)
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind string

const (
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
	KindOnce     Kind = "once"
)

// Spec is a normalized schedule. Exactly one of Expr/Every/At is meaningful,
// selected by Kind.
type Spec struct {
	Kind  Kind
	Expr  string        // cron: canonical 5-field expression
	Every time.Duration // interval: period
	At    time.Time     // once: absolute instant, UTC

	sched cron.Schedule // cron only
}

// Options tunes normalization. Zero values get defaults.
type Options struct {
	MinInterval time.Duration  // floor for interval periods; default 1 minute
	MinDelay    time.Duration  // floor for "in <dur>" delays; default 1 minute
	Location    *time.Location // default zone for offset-less absolute times; default UTC
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MinInterval <= 0 {
		o.MinInterval = time.Minute
	}
	if o.MinDelay <= 0 {
		o.MinDelay = time.Minute
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// maxInterval caps interval periods. Values anywhere near the int64
// nanosecond limit would overflow the millisecond conversion, so the cap is
// checked before multiplying.
const maxInterval = 366 * 24 * time.Hour

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// reDuration matches the compact duration grammar: hour, minute, second
// components in that order, at least one present.
var reDuration = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

var reDigits = regexp.MustCompile(`^\d+$`)

// ValidationError wraps any schedule input rejection so callers can
// distinguish bad input from engine failures.
type ValidationError struct {
	Kind Kind
	Raw  string
	Msg  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s schedule %q: %s", e.Kind, e.Raw, e.Msg)
}

func invalid(kind Kind, raw, format string, args ...any) error {
	return &ValidationError{Kind: kind, Raw: raw, Msg: fmt.Sprintf(format, args...)}
}

// Normalize validates raw input for the given kind and returns its canonical
// Spec. All returned errors are *ValidationError.
func Normalize(kind Kind, raw string, opt Options) (Spec, error) {
	opt = opt.withDefaults()
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, invalid(kind, raw, "schedule value required")
	}
	switch kind {
	case KindCron:
		return normalizeCron(s)
	case KindInterval:
		return normalizeInterval(s, opt)
	case KindOnce:
		return normalizeOnce(s, opt)
	default:
		return Spec{}, invalid(kind, raw, "unknown schedule kind (use cron, interval, or once)")
	}
}

func normalizeCron(s string) (Spec, error) {
	if len(strings.Fields(s)) != 5 {
		return Spec{}, invalid(KindCron, s, "expected a 5-field cron expression")
	}
	sched, err := cronParser.Parse(s)
	if err != nil {
		return Spec{}, invalid(KindCron, s, "%v", err)
	}
	return Spec{Kind: KindCron, Expr: s, sched: sched}, nil
}

func normalizeInterval(s string, opt Options) (Spec, error) {
	var every time.Duration
	switch {
	case reDigits.MatchString(s):
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil || ms > int64(maxInterval/time.Millisecond) {
			return Spec{}, invalid(KindInterval, s, "millisecond value out of range")
		}
		every = time.Duration(ms) * time.Millisecond
	default:
		d, err := parseCompactDuration(s)
		if err != nil {
			return Spec{}, invalid(KindInterval, s, "%v", err)
		}
		every = d
	}
	if every < opt.MinInterval {
		return Spec{}, invalid(KindInterval, s, "interval below minimum %s", opt.MinInterval)
	}
	if every > maxInterval {
		return Spec{}, invalid(KindInterval, s, "interval above maximum %s", maxInterval)
	}
	return Spec{Kind: KindInterval, Every: every}, nil
}

// Absolute timestamp layouts without a zone offset (interpreted in the
// configured default location).
var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// Absolute timestamp layouts with an explicit offset or UTC marker.
var zonedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04 -0700",
}

func normalizeOnce(s string, opt Options) (Spec, error) {
	// Form (a): relative delay.
	if rest, ok := strings.CutPrefix(s, "in "); ok {
		d, err := parseCompactDuration(strings.TrimSpace(rest))
		if err != nil {
			return Spec{}, invalid(KindOnce, s, "relative form: %v", err)
		}
		if d < opt.MinDelay {
			return Spec{}, invalid(KindOnce, s, "relative form: delay below minimum %s", opt.MinDelay)
		}
		return Spec{Kind: KindOnce, At: opt.Now().Add(d).UTC()}, nil
	}

	// Form (c): absolute with explicit offset, used as-is.
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Spec{Kind: KindOnce, At: t.UTC()}, nil
		}
	}

	// Form (b): absolute without offset, interpreted in the default zone.
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, opt.Location); err == nil {
			return Spec{Kind: KindOnce, At: t.UTC()}, nil
		}
	}

	return Spec{}, invalid(KindOnce, s,
		"expected 'in <duration>', a timestamp like '2006-01-02 15:04', or an RFC3339 timestamp with offset")
}

// parseCompactDuration accepts hour/minute/second components in that order
// ("2h", "1h30m", "90s") and rejects everything else.
func parseCompactDuration(s string) (time.Duration, error) {
	m := reDuration.FindStringSubmatch(s)
	if m == nil || (m[1] == "" && m[2] == "" && m[3] == "") {
		return 0, fmt.Errorf("expected a duration like 5m, 2h, 1h30m, or 90s")
	}
	// Component bounds keep the unit multiplications below Duration overflow.
	var d time.Duration
	if m[1] != "" {
		h, err := strconv.Atoi(m[1])
		if err != nil || int64(h) > int64(maxInterval/time.Hour) {
			return 0, fmt.Errorf("hours out of range")
		}
		d += time.Duration(h) * time.Hour
	}
	if m[2] != "" {
		mn, err := strconv.Atoi(m[2])
		if err != nil || int64(mn) > int64(maxInterval/time.Minute) {
			return 0, fmt.Errorf("minutes out of range")
		}
		d += time.Duration(mn) * time.Minute
	}
	if m[3] != "" {
		sec, err := strconv.Atoi(m[3])
		if err != nil || int64(sec) > int64(maxInterval/time.Second) {
			return 0, fmt.Errorf("seconds out of range")
		}
		d += time.Duration(sec) * time.Second
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be > 0")
	}
	return d, nil
}

// Next projects the first occurrence strictly after t. For once specs it
// returns the target instant if still ahead, else the zero time (exhausted).
// Cron projection is evaluated in UTC.
func (s Spec) Next(t time.Time) time.Time {
	switch s.Kind {
	case KindInterval:
		return t.Add(s.Every)
	case KindCron:
		sched := s.sched
		if sched == nil {
			parsed, err := cronParser.Parse(s.Expr)
			if err != nil {
				return time.Time{}
			}
			sched = parsed
		}
		return sched.Next(t.UTC())
	case KindOnce:
		if s.At.After(t) {
			return s.At
		}
		return time.Time{}
	}
	return time.Time{}
}

// Millis returns the canonical interval value in milliseconds (0 for other
// kinds).
func (s Spec) Millis() int64 {
	if s.Kind != KindInterval {
		return 0
	}
	return s.Every.Milliseconds()
}

// Describe renders the canonical value for humans. Presentation only; never
// re-parsed.
func (s Spec) Describe() string {
	switch s.Kind {
	case KindCron:
		return fmt.Sprintf("cron `%s`", s.Expr)
	case KindInterval:
		return "every " + humanDuration(s.Every)
	case KindOnce:
		if s.At.IsZero() {
			return "once (done)"
		}
		return "at " + s.At.Format("2006-01-02 15:04 MST")
	}
	return string(s.Kind)
}

func humanDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return plural(int(d/time.Second), "second")
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
