package util

import (
	"testing"
	"time"
)

func TestFailureWindow(t *testing.T) {
	if got := failureWindow(0); got != defaultFailureWindow {
		t.Errorf("zero window: got %s", got)
	}
	if got := failureWindow(-time.Second); got != defaultFailureWindow {
		t.Errorf("negative window: got %s", got)
	}
	if got := failureWindow(time.Hour); got != time.Hour {
		t.Errorf("explicit window: got %s", got)
	}
}

func TestFailureKey(t *testing.T) {
	if got := FailureKey("intervention", "s1"); got != "failures:intervention:s1" {
		t.Errorf("got %q", got)
	}
	if FailureKey("intervention", "s1") == DedupKey("intervention", "s1") {
		t.Error("failure and dedup keys must not collide")
	}
}
