package domain

import "time"

// StatusHistory is an immutable audit trail entry for ticket status transitions.
type StatusHistory struct {
	ID         string
	TicketID   string
	FromStatus *TicketStatus
	ToStatus   TicketStatus
	ChangedBy  string
	Reason     string
	ChangedAt  time.Time
}

// PolicyVersion records one accepted SLA policy snapshot.
type PolicyVersion struct {
	ID        string
	Version   int
	Source    string
	Checksum  string
	Document  []byte
	CreatedAt time.Time
	CreatedBy string
}
