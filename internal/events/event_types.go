package events

import (
	"time"

	"github.com/spec-kit/sla-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketPriorityChanged EventType = "ticket_priority_changed"
	EventSLAAlertCreated       EventType = "sla_alert_created"
	EventSLABreached           EventType = "sla_breached"
	EventSLAEscalated          EventType = "sla_escalated"
	EventSLACycleCompleted     EventType = "sla_cycle_completed"
	EventSLAPolicyReloaded     EventType = "sla_policy_reloaded"
)

// AllEventTypes lists every type, for relays that forward everything.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketStatusChanged,
	EventTicketPriorityChanged,
	EventSLAAlertCreated,
	EventSLABreached,
	EventSLAEscalated,
	EventSLACycleCompleted,
	EventSLAPolicyReloaded,
}

// Actor types.
const (
	ActorSystem   = "system"
	ActorOperator = "operator"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type string  `json:"type"`
	ID   *string `json:"id,omitempty"`
}

// SystemActor is the actor for scheduler-driven events.
var SystemActor = Actor{Type: ActorSystem}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id,omitempty"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	ExternalID   string                `json:"external_id"`
	Priority     domain.TicketPriority `json:"priority"`
	CustomerTier domain.CustomerTier   `json:"customer_tier"`
	Title        string                `json:"title"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Reason    string              `json:"reason,omitempty"`
}

// TicketPriorityChangedPayload payload.
type TicketPriorityChangedPayload struct {
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
}

// SLAAlertPayload describes a committed alert.
type SLAAlertPayload struct {
	AlertID          string              `json:"alert_id"`
	ExternalID       string              `json:"external_id"`
	AlertType        domain.AlertType    `json:"alert_type"`
	Dimension        domain.SLADimension `json:"sla_dimension"`
	RemainingMinutes int                 `json:"remaining_minutes"`
	Percentage       float64             `json:"threshold_percentage"`
	Sent             bool                `json:"sent"`
}

// SLABreachedPayload describes a committed breach transition.
type SLABreachedPayload struct {
	ExternalID string              `json:"external_id"`
	Dimension  domain.SLADimension `json:"sla_dimension"`
	Deadline   *time.Time          `json:"deadline,omitempty"`
}

// SLAEscalatedPayload describes a committed escalation increase.
type SLAEscalatedPayload struct {
	ExternalID string                 `json:"external_id"`
	OldLevel   domain.EscalationLevel `json:"old_level"`
	NewLevel   domain.EscalationLevel `json:"new_level"`
	Label      string                 `json:"label"`
}

// SLACycleCompletedPayload summarizes one evaluation cycle.
type SLACycleCompletedPayload struct {
	Processed        int     `json:"processed"`
	AlertsCreated    int     `json:"alerts_created"`
	BreachesDetected int     `json:"breaches_detected"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	PolicyVersion    int     `json:"policy_version"`
}

// SLAPolicyReloadedPayload announces a new policy snapshot.
type SLAPolicyReloadedPayload struct {
	Version  int    `json:"version"`
	Source   string `json:"source"`
	Checksum string `json:"checksum"`
}
