package domain

import "time"

// SLADimension names one independently tracked SLA clock.
type SLADimension string

const (
	SLADimensionResponse   SLADimension = "response"
	SLADimensionResolution SLADimension = "resolution"
)

// SLADimensions lists dimensions in evaluation order.
var SLADimensions = []SLADimension{SLADimensionResponse, SLADimensionResolution}

// SLAStatus is the compliance state of one dimension.
type SLAStatus string

const (
	SLAStatusCompliant SLAStatus = "COMPLIANT"
	SLAStatusWarning   SLAStatus = "WARNING"
	SLAStatusCritical  SLAStatus = "CRITICAL"
	SLAStatusBreached  SLAStatus = "BREACHED"
	SLAStatusPaused    SLAStatus = "PAUSED"
)

// EscalationLevel is the ordinal 0..4 organizational attention ladder.
type EscalationLevel int

const (
	EscalationLevel0 EscalationLevel = iota
	EscalationLevel1
	EscalationLevel2
	EscalationLevel3
	EscalationLevel4
)

// MaxEscalationLevel is the breach level.
const MaxEscalationLevel = EscalationLevel4

// SLATrack holds the per-dimension SLA fields stored on a ticket.
type SLATrack struct {
	TargetMinutes    *int
	Deadline         *time.Time
	Status           SLAStatus
	RemainingMinutes int
}

func (s SLATrack) clone() SLATrack {
	out := s
	if s.TargetMinutes != nil {
		v := *s.TargetMinutes
		out.TargetMinutes = &v
	}
	out.Deadline = cloneTime(s.Deadline)
	return out
}

// Target returns the target minutes or zero when unset.
func (s SLATrack) Target() int {
	if s.TargetMinutes == nil {
		return 0
	}
	return *s.TargetMinutes
}

// SLAMetrics is the dashboard view returned by the engine.
type SLAMetrics struct {
	ResponseStatus   map[string]int `json:"response_sla_status"`
	ResolutionStatus map[string]int `json:"resolution_sla_status"`
	EscalationLevels map[string]int `json:"escalation_levels"`
	Breaches         BreachCounts   `json:"breaches"`
	GeneratedAt      time.Time      `json:"generated_at"`
}

// BreachCounts summarizes breached dimensions across all tickets.
type BreachCounts struct {
	Response   int `json:"response_breaches"`
	Resolution int `json:"resolution_breaches"`
	Total      int `json:"total_breaches"`
}
