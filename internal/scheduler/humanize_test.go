package scheduler

import (
	"testing"
	"time"
)

func TestHumanizeDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d    time.Duration
		want string
	}{
		{d: -time.Minute, want: "now"},
		{d: 0, want: "now"},
		{d: 300 * time.Millisecond, want: "now"},
		{d: 45 * time.Second, want: "45s"},
		{d: time.Minute, want: "1m"},
		{d: 90 * time.Second, want: "1m 30s"},
		{d: time.Hour, want: "1h"},
		{d: 4*time.Hour + 30*time.Minute, want: "4h 30m"},
		{d: 4*time.Hour + 30*time.Minute + 59*time.Second, want: "4h 30m"},
		{d: 24 * time.Hour, want: "1d"},
		{d: 2*24*time.Hour + 4*time.Hour, want: "2d 4h"},
		{d: 2*24*time.Hour + 4*time.Hour + 59*time.Minute, want: "2d 4h"},
	}
	for _, tt := range tests {
		if got := humanizeDuration(tt.d); got != tt.want {
			t.Errorf("humanizeDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestRemainingTime(t *testing.T) {
	t.Parallel()
	at := time.Now().Add(2*time.Hour + 10*time.Minute).UnixMilli()
	got := RemainingTime(at)
	if got != "2h 10m" && got != "2h 9m" {
		t.Fatalf("RemainingTime = %q, want ~2h 10m", got)
	}
	if got := RemainingTime(time.Now().Add(-time.Minute).UnixMilli()); got != "now" {
		t.Fatalf("RemainingTime(past) = %q, want now", got)
	}
}
