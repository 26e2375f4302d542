package domain

import "time"

// AlertType classifies how close a dimension is to, or past, its deadline.
type AlertType string

const (
	AlertTypeWarning  AlertType = "warning"
	AlertTypeCritical AlertType = "critical"
	AlertTypeBreached AlertType = "breached"
)

// Alert is raised once per (ticket, dimension, type) while active.
type Alert struct {
	ID                  string
	TicketID            string
	Type                AlertType
	Dimension           SLADimension
	ThresholdPercentage float64
	RemainingMinutes    int
	Deadline            *time.Time
	Active              bool
	Sent                bool
	SentAt              *time.Time
	CreatedAt           time.Time
	ResolvedAt          *time.Time
	Metadata            map[string]any
}

// AlertKey is the dedup key for active alerts.
type AlertKey struct {
	TicketID  string
	Dimension SLADimension
	Type      AlertType
}

// Key returns the dedup key of the alert.
func (a Alert) Key() AlertKey {
	return AlertKey{TicketID: a.TicketID, Dimension: a.Dimension, Type: a.Type}
}
