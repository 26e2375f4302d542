package sla

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/sla-service/internal/domain"
)

var base = time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC) // Wednesday

func TestRemainingMinutes(t *testing.T) {
	deadline := base.Add(15 * time.Minute)

	assert.Equal(t, 15, RemainingMinutes(deadline, base))
	assert.Equal(t, 2, RemainingMinutes(deadline, base.Add(13*time.Minute)))
	assert.Equal(t, 0, RemainingMinutes(deadline, base.Add(14*time.Minute+30*time.Second)), "partial minute floors to zero")
	assert.Equal(t, 0, RemainingMinutes(deadline, deadline))
	assert.Equal(t, 0, RemainingMinutes(deadline, base.Add(time.Hour)), "never negative")
}

func TestRemainingPercentage(t *testing.T) {
	assert.Equal(t, 0.0, RemainingPercentage(0, 100))
	assert.Equal(t, 50.0, RemainingPercentage(50, 100))
	assert.Equal(t, 0.0, RemainingPercentage(30, 0))
	assert.Equal(t, 0.0, RemainingPercentage(30, -5))
	assert.InDelta(t, 13.33, RemainingPercentage(2, 15), 0.01)
}

func TestStatus(t *testing.T) {
	cases := []struct {
		name      string
		remaining int
		target    int
		want      domain.SLAStatus
	}{
		{"no time left", 0, 100, domain.SLAStatusBreached},
		{"negative", -3, 100, domain.SLAStatusBreached},
		{"critical boundary", 5, 100, domain.SLAStatusCritical},
		{"critical", 1, 100, domain.SLAStatusCritical},
		{"warning boundary", 15, 100, domain.SLAStatusWarning},
		{"warning", 6, 100, domain.SLAStatusWarning},
		{"compliant", 16, 100, domain.SLAStatusCompliant},
		{"zero target with time left is critical", 10, 0, domain.SLAStatusCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Status(tc.remaining, tc.target, 15, 5))
		})
	}
}

func TestIsBreached(t *testing.T) {
	deadline := base.Add(time.Minute)
	assert.False(t, IsBreached(deadline, base))
	assert.True(t, IsBreached(deadline, deadline))
	assert.True(t, IsBreached(deadline, deadline.Add(time.Second)))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0m", FormatDuration(0))
	assert.Equal(t, "45m", FormatDuration(45))
	assert.Equal(t, "1h", FormatDuration(60))
	assert.Equal(t, "1h 30m", FormatDuration(90))
	assert.Equal(t, "23h 59m", FormatDuration(1439))
	assert.Equal(t, "1d", FormatDuration(1440))
	assert.Equal(t, "1d 1h", FormatDuration(1500))
	assert.Equal(t, "2d", FormatDuration(2880))
	assert.Equal(t, "0m", FormatDuration(-10))
}

func TestEvaluate(t *testing.T) {
	target := 15
	deadline := base.Add(15 * time.Minute)
	track := domain.SLATrack{TargetMinutes: &target, Deadline: &deadline}

	ev := Evaluate(track, base.Add(13*time.Minute), 15, 5)
	assert.Equal(t, 2, ev.RemainingMinutes)
	assert.Equal(t, domain.SLAStatusWarning, ev.Status)
	assert.InDelta(t, 13.33, ev.Percentage, 0.01)

	ev = Evaluate(track, base.Add(16*time.Minute), 15, 5)
	assert.Equal(t, domain.SLAStatusBreached, ev.Status)
	assert.Equal(t, 0, ev.RemainingMinutes)

	ev = Evaluate(domain.SLATrack{}, base, 15, 5)
	assert.Equal(t, domain.SLAStatusPaused, ev.Status)
}

func TestDeadline(t *testing.T) {
	assert.Equal(t, base.Add(240*time.Minute), Deadline(base, 240))
}
