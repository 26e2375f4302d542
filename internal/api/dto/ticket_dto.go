package dto

import (
	"time"

	"github.com/spec-kit/sla-service/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	ExternalID   string                `json:"external_id"`
	Title        string                `json:"title"`
	Description  string                `json:"description"`
	Priority     domain.TicketPriority `json:"priority"`
	CustomerTier domain.CustomerTier   `json:"customer_tier"`
	AssignedTo   *string               `json:"assigned_to"`
	Department   *string               `json:"department"`
	Tags         []string              `json:"tags"`
	Metadata     map[string]any        `json:"metadata"`
	CreatedAt    *time.Time            `json:"created_at"`
}

// BatchCreateTicketsRequest payload.
type BatchCreateTicketsRequest struct {
	Tickets []CreateTicketRequest `json:"tickets"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status domain.TicketStatus `json:"status"`
	Reason string              `json:"reason"`
}

// UpdatePriorityRequest payload.
type UpdatePriorityRequest struct {
	Priority     domain.TicketPriority `json:"priority"`
	CustomerTier *domain.CustomerTier  `json:"customer_tier"`
}

// SLATrackResponse is one SLA dimension of a ticket.
type SLATrackResponse struct {
	TargetMinutes    *int             `json:"target_minutes"`
	Deadline         *time.Time       `json:"deadline"`
	Status           domain.SLAStatus `json:"status"`
	RemainingMinutes int              `json:"remaining_minutes"`
	Remaining        string           `json:"remaining"`
}

// BusinessHoursResponse is informational; SLA deadlines run on wall-clock time.
type BusinessHoursResponse struct {
	MinutesElapsed   int       `json:"minutes_elapsed"`
	NextBusinessTime time.Time `json:"next_business_time"`
}

// TicketResponse represents a ticket with its SLA state.
type TicketResponse struct {
	ID               string                `json:"id"`
	ExternalID       string                `json:"external_id"`
	Title            string                `json:"title"`
	Description      string                `json:"description"`
	Priority         domain.TicketPriority `json:"priority"`
	CustomerTier     domain.CustomerTier   `json:"customer_tier"`
	Status           domain.TicketStatus   `json:"status"`
	AssignedTo       *string               `json:"assigned_to"`
	Department       *string               `json:"department"`
	Tags             []string              `json:"tags"`
	Metadata         map[string]any        `json:"metadata,omitempty"`
	ResponseSLA      SLATrackResponse      `json:"response_sla"`
	ResolutionSLA    SLATrackResponse      `json:"resolution_sla"`
	EscalationLevel  int                   `json:"escalation_level"`
	EscalationLabel  string                `json:"escalation_label"`
	EscalationCount  int                   `json:"escalation_count"`
	LastEscalationAt *time.Time            `json:"last_escalation_at"`
	BusinessHours    BusinessHoursResponse `json:"business_hours"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// TicketDetailResponse adds alerts and history to a ticket.
type TicketDetailResponse struct {
	TicketResponse
	Alerts  []AlertResponse         `json:"alerts"`
	History []TicketHistoryResponse `json:"history"`
}

// TicketHistoryResponse is one status transition.
type TicketHistoryResponse struct {
	ID         string               `json:"id"`
	FromStatus *domain.TicketStatus `json:"from_status"`
	ToStatus   domain.TicketStatus  `json:"to_status"`
	ChangedBy  string               `json:"changed_by"`
	Reason     string               `json:"reason,omitempty"`
	ChangedAt  time.Time            `json:"changed_at"`
}

// Pagination describes a page of results.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}
