package deadline

import (
	"testing"
	"time"
)

var ref = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

func TestResolve_Days(t *testing.T) {
	cases := map[string]time.Time{
		"in 2 days":   ref.Add(2 * Day),
		"1 day":       ref.Add(Day),
		"In 10 DAYS":  ref.Add(10 * Day),
		"0 days":      ref,
		"within 3day": ref.Add(3 * Day),
	}
	for expr, want := range cases {
		if got := Resolve(expr, ref); !got.Equal(want) {
			t.Errorf("Resolve(%q) = %v, want %v", expr, got, want)
		}
	}
}

func TestResolve_Weeks(t *testing.T) {
	cases := map[string]time.Time{
		"in 1 week":  ref.Add(Week),
		"2 Weeks":    ref.Add(2 * Week),
		"WEEKS: 3":   ref.Add(3 * Week),
		"in 4 weeks": ref.Add(4 * Week),
	}
	for expr, want := range cases {
		if got := Resolve(expr, ref); !got.Equal(want) {
			t.Errorf("Resolve(%q) = %v, want %v", expr, got, want)
		}
	}
}

func TestResolve_DigitsAreConcatenated(t *testing.T) {
	if got, want := Resolve("in 1-2 days", ref), ref.Add(12*Day); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolve_DayCheckedBeforeWeek(t *testing.T) {
	if got, want := Resolve("1 week and 3 days", ref), ref.Add(13*Day); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolve_FallsBackToOneWeek(t *testing.T) {
	for _, expr := range []string{
		"",
		"soon",
		"in 3 hours",
		"2023-10-15",
		"in a few days",
		"next week",
		"99999999999999999999999 days",
		"9999999 weeks",
	} {
		if got, want := Resolve(expr, ref), ref.Add(Week); !got.Equal(want) {
			t.Errorf("Resolve(%q) = %v, want fallback %v", expr, got, want)
		}
	}
}

func TestResolve_Deterministic(t *testing.T) {
	for _, expr := range []string{"in 2 days", "garbage", "3 weeks"} {
		a, b := Resolve(expr, ref), Resolve(expr, ref)
		if !a.Equal(b) {
			t.Errorf("Resolve(%q) not deterministic: %v vs %v", expr, a, b)
		}
	}
}
