package schedule

import (
	"errors"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func testOpts() Options {
	return Options{Now: fixedNow}
}

func TestNormalizeInterval(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
		ok   bool
	}{
		{"300000", 5 * time.Minute, true},
		{"60000", time.Minute, true},
		{"5m", 5 * time.Minute, true},
		{"1h30m", 90 * time.Minute, true},
		{"90s", 90 * time.Second, true},
		{"2h", 2 * time.Hour, true},
		{"59999", 0, false}, // below the 1m floor
		{"30s", 0, false},
		{"0", 0, false},
		{"", 0, false},
		{"5x", 0, false},
		{"m5", 0, false},
		{"-5m", 0, false},
		{"92000000000000000", 0, false}, // would overflow the ms conversion
		{"32000000000", 0, false},       // fits int64 ns but above the cap
		{"9999999999h", 0, false},
		{"20000h", 0, false},
	}
	for _, c := range cases {
		spec, err := Normalize(KindInterval, c.raw, testOpts())
		if c.ok != (err == nil) {
			t.Fatalf("Normalize(interval, %q): err=%v, want ok=%v", c.raw, err, c.ok)
		}
		if err != nil {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Normalize(interval, %q): error %T is not *ValidationError", c.raw, err)
			}
			continue
		}
		if spec.Every != c.want {
			t.Fatalf("Normalize(interval, %q): every=%v, want %v", c.raw, spec.Every, c.want)
		}
	}
}

func TestIntervalMillisRoundTrip(t *testing.T) {
	spec, err := Normalize(KindInterval, "5m", testOpts())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got := spec.Millis(); got != 300000 {
		t.Fatalf("Millis() = %d, want 300000", got)
	}
	if got := spec.Describe(); got != "every 5 minutes" {
		t.Fatalf("Describe() = %q", got)
	}
}

func TestNormalizeCron(t *testing.T) {
	spec, err := Normalize(KindCron, "0 17 * * *", testOpts())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if spec.Expr != "0 17 * * *" {
		t.Fatalf("Expr = %q", spec.Expr)
	}

	next := spec.Next(fixedNow())
	want := time.Date(2025, 6, 1, 17, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("Next = %v, want %v", next, want)
	}
	// Projecting from just after the occurrence lands on the next day.
	next2 := spec.Next(want.Add(time.Second))
	if !next2.Equal(want.Add(24 * time.Hour)) {
		t.Fatalf("Next after fire = %v, want %v", next2, want.Add(24*time.Hour))
	}
}

func TestNormalizeCronRejectsBadInput(t *testing.T) {
	for _, raw := range []string{
		"0 17 * *",     // 4 fields
		"0 17 * * * *", // 6 fields
		"99 17 * * *",  // minute out of range
		"not a cron",
		"@every 5m", // descriptors not enabled
	} {
		if _, err := Normalize(KindCron, raw, testOpts()); err == nil {
			t.Fatalf("Normalize(cron, %q): expected error", raw)
		}
	}
}

func TestNormalizeOnceRelative(t *testing.T) {
	spec, err := Normalize(KindOnce, "in 2m", testOpts())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := fixedNow().Add(2 * time.Minute)
	if !spec.At.Equal(want) {
		t.Fatalf("At = %v, want %v", spec.At, want)
	}

	if _, err := Normalize(KindOnce, "in 30s", testOpts()); err == nil {
		t.Fatal("expected error for delay below floor")
	}
	if _, err := Normalize(KindOnce, "in soon", testOpts()); err == nil {
		t.Fatal("expected error for unparseable delay")
	}
}

func TestNormalizeOnceAbsolute(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	opts := Options{Now: fixedNow, Location: berlin}

	// Offset-less input resolves in the configured zone (CEST = UTC+2 in June).
	spec, err := Normalize(KindOnce, "2025-06-02 09:00", opts)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)
	if !spec.At.Equal(want) {
		t.Fatalf("At = %v, want %v", spec.At, want)
	}

	// Explicit offset wins over the configured zone.
	spec, err = Normalize(KindOnce, "2025-06-02T09:00:00+04:00", opts)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want = time.Date(2025, 6, 2, 5, 0, 0, 0, time.UTC)
	if !spec.At.Equal(want) {
		t.Fatalf("At = %v, want %v", spec.At, want)
	}
}

func TestOnceNextExhausted(t *testing.T) {
	spec, err := Normalize(KindOnce, "in 2m", testOpts())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if next := spec.Next(fixedNow()); !next.Equal(spec.At) {
		t.Fatalf("Next before target = %v, want %v", next, spec.At)
	}
	if next := spec.Next(spec.At); !next.IsZero() {
		t.Fatalf("Next at target = %v, want zero", next)
	}
}

func TestNormalizeUnknownKind(t *testing.T) {
	if _, err := Normalize(Kind("weekly"), "monday", testOpts()); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestDescribe(t *testing.T) {
	cases := []struct {
		kind Kind
		raw  string
		want string
	}{
		{KindCron, "0 17 * * *", "cron `0 17 * * *`"},
		{KindInterval, "90000", "every 1m30s"},
		{KindInterval, "1h", "every 1 hour"},
		{KindInterval, "90s", "every 1m30s"},
		{KindInterval, "60000", "every 1 minute"},
	}
	for _, c := range cases {
		spec, err := Normalize(c.kind, c.raw, testOpts())
		if err != nil {
			t.Fatalf("Normalize(%s, %q): %v", c.kind, c.raw, err)
		}
		if got := spec.Describe(); got != c.want {
			t.Fatalf("Describe(%s, %q) = %q, want %q", c.kind, c.raw, got, c.want)
		}
	}
}
