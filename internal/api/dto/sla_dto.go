package dto

import (
	"time"

	"github.com/spec-kit/sla-service/internal/domain"
)

// AlertResponse represents an SLA alert.
type AlertResponse struct {
	ID                  string              `json:"id"`
	TicketID            string              `json:"ticket_id"`
	AlertType           domain.AlertType    `json:"alert_type"`
	SLADimension        domain.SLADimension `json:"sla_dimension"`
	ThresholdPercentage float64             `json:"threshold_percentage"`
	RemainingMinutes    int                 `json:"remaining_minutes"`
	Deadline            *time.Time          `json:"deadline"`
	Active              bool                `json:"is_active"`
	Sent                bool                `json:"is_sent"`
	SentAt              *time.Time          `json:"sent_at"`
	CreatedAt           time.Time           `json:"created_at"`
	ResolvedAt          *time.Time          `json:"resolved_at"`
}

// PolicyVersionResponse is one recorded policy version.
type PolicyVersionResponse struct {
	Version   int       `json:"version"`
	Source    string    `json:"source"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}
