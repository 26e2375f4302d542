// Package sla holds the pure time-window arithmetic behind SLA decisions.
package sla

import (
	"fmt"
	"time"

	"github.com/spec-kit/sla-service/internal/domain"
)

// Deadline returns start + target minutes.
func Deadline(start time.Time, targetMinutes int) time.Time {
	return start.Add(time.Duration(targetMinutes) * time.Minute)
}

// RemainingMinutes returns whole minutes left before deadline, never negative.
func RemainingMinutes(deadline, now time.Time) int {
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / time.Minute)
}

// RemainingPercentage returns remaining as a percentage of target; 0 when target is unset.
func RemainingPercentage(remainingMinutes, targetMinutes int) float64 {
	if targetMinutes <= 0 {
		return 0
	}
	return float64(remainingMinutes) / float64(targetMinutes) * 100
}

// Status maps remaining time onto a compliance status. Thresholds are percentages.
// Callers handle the missing-deadline (PAUSED) case before calling.
func Status(remainingMinutes, targetMinutes int, warningPct, criticalPct float64) domain.SLAStatus {
	if remainingMinutes <= 0 {
		return domain.SLAStatusBreached
	}
	pct := RemainingPercentage(remainingMinutes, targetMinutes)
	switch {
	case pct <= criticalPct:
		return domain.SLAStatusCritical
	case pct <= warningPct:
		return domain.SLAStatusWarning
	default:
		return domain.SLAStatusCompliant
	}
}

// IsBreached reports whether now is at or past the deadline.
func IsBreached(deadline, now time.Time) bool {
	return !now.Before(deadline)
}

// FormatDuration renders minutes as "45m", "1h 30m" or "1d 1h" for notification text.
func FormatDuration(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours, mins := minutes/60, minutes%60
	if hours < 24 {
		if mins > 0 {
			return fmt.Sprintf("%dh %dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days, hours := hours/24, hours%24
	if hours > 0 {
		return fmt.Sprintf("%dd %dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// Evaluation is the freshly derived state of one dimension.
type Evaluation struct {
	RemainingMinutes int
	Percentage       float64
	Status           domain.SLAStatus
}

// Evaluate derives remaining time and status for a stored track at now.
func Evaluate(track domain.SLATrack, now time.Time, warningPct, criticalPct float64) Evaluation {
	if track.Deadline == nil {
		return Evaluation{Status: domain.SLAStatusPaused}
	}
	target := track.Target()
	remaining := RemainingMinutes(*track.Deadline, now)
	return Evaluation{
		RemainingMinutes: remaining,
		Percentage:       RemainingPercentage(remaining, target),
		Status:           Status(remaining, target, warningPct, criticalPct),
	}
}
