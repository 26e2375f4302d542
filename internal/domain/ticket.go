package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen            TicketStatus = "OPEN"
	TicketStatusInProgress      TicketStatus = "IN_PROGRESS"
	TicketStatusPendingCustomer TicketStatus = "PENDING_CUSTOMER"
	TicketStatusPendingInternal TicketStatus = "PENDING_INTERNAL"
	TicketStatusResolved        TicketStatus = "RESOLVED"
	TicketStatusClosed          TicketStatus = "CLOSED"
	TicketStatusCancelled       TicketStatus = "CANCELLED"
)

// TerminalStatuses leave the SLA sweep for good.
var TerminalStatuses = []TicketStatus{
	TicketStatusResolved,
	TicketStatusClosed,
	TicketStatusCancelled,
}

// IsTerminal reports whether the ticket no longer accrues SLA time.
func (s TicketStatus) IsTerminal() bool {
	for _, terminal := range TerminalStatuses {
		if s == terminal {
			return true
		}
	}
	return false
}

// TicketPriority enumerates SLA urgency, P0 being the most urgent.
type TicketPriority string

const (
	TicketPriorityP0 TicketPriority = "P0"
	TicketPriorityP1 TicketPriority = "P1"
	TicketPriorityP2 TicketPriority = "P2"
	TicketPriorityP3 TicketPriority = "P3"
)

// CustomerTier enumerates the commercial tier of the requesting customer.
type CustomerTier string

const (
	CustomerTierEnterprise CustomerTier = "ENTERPRISE"
	CustomerTierPremium    CustomerTier = "PREMIUM"
	CustomerTierStandard   CustomerTier = "STANDARD"
	CustomerTierBasic      CustomerTier = "BASIC"
)

// Ticket is the aggregate for support requests tracked against SLAs.
type Ticket struct {
	ID           string
	ExternalID   string
	Title        string
	Description  string
	Priority     TicketPriority
	CustomerTier CustomerTier
	Status       TicketStatus
	AssignedTo   *string
	Department   *string
	Tags         []string
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Response   SLATrack
	Resolution SLATrack

	EscalationLevel  EscalationLevel
	EscalationCount  int
	LastEscalationAt *time.Time
}

// SLA returns the tracked state for a dimension.
func (t *Ticket) SLA(dim SLADimension) *SLATrack {
	if dim == SLADimensionResolution {
		return &t.Resolution
	}
	return &t.Response
}

// IsSweepCandidate reports whether the evaluation cycle should look at the ticket.
func (t *Ticket) IsSweepCandidate() bool {
	return !t.Status.IsTerminal() && t.Response.Deadline != nil
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (t Ticket) Clone() Ticket {
	out := t
	out.AssignedTo = cloneString(t.AssignedTo)
	out.Department = cloneString(t.Department)
	out.LastEscalationAt = cloneTime(t.LastEscalationAt)
	out.Response = t.Response.clone()
	out.Resolution = t.Resolution.clone()
	if t.Tags != nil {
		out.Tags = append([]string{}, t.Tags...)
	}
	if t.Metadata != nil {
		out.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
