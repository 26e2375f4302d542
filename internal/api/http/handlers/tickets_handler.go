package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sla-service/internal/api/dto"
	"github.com/spec-kit/sla-service/internal/auth"
	"github.com/spec-kit/sla-service/internal/domain"
	"github.com/spec-kit/sla-service/internal/policy"
	"github.com/spec-kit/sla-service/internal/repository"
	"github.com/spec-kit/sla-service/internal/service"
	"github.com/spec-kit/sla-service/internal/sla"
	apperrors "github.com/spec-kit/sla-service/pkg/util/errorutil"
)

// TicketsHandler manages ticket endpoints.
type TicketsHandler struct {
	service  *service.TicketService
	policies service.PolicySource
	now      func() time.Time
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, policies service.PolicySource) *TicketsHandler {
	return &TicketsHandler{service: ticketService, policies: policies, now: time.Now}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.CreateTicket(c.UserContext(), auth.SubjectFromContext(c), createInput(req))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": h.ticketResponse(ticket)})
}

// CreateBatch POST /tickets/batch.
func (h *TicketsHandler) CreateBatch(c *fiber.Ctx) error {
	var req dto.BatchCreateTicketsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	inputs := make([]service.TicketCreateInput, 0, len(req.Tickets))
	for _, t := range req.Tickets {
		inputs = append(inputs, createInput(t))
	}
	tickets, err := h.service.CreateBatch(c.UserContext(), auth.SubjectFromContext(c), inputs)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for _, t := range tickets {
		items = append(items, h.ticketResponse(t))
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": items})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	filter, page, pageSize, err := parseTicketQuery(c)
	if err != nil {
		return err
	}
	tickets, total, err := h.service.ListTickets(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, h.ticketResponse(&tickets[i]))
	}
	return c.JSON(fiber.Map{
		"data":       items,
		"pagination": dto.Pagination{Page: page, PageSize: pageSize, Total: total},
	})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	details, err := h.service.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	resp := dto.TicketDetailResponse{
		TicketResponse: h.ticketResponse(details.Ticket),
		Alerts:         alertResponses(details.Alerts),
		History:        historyResponses(details.History),
	}
	return c.JSON(fiber.Map{"data": resp})
}

// ListAlerts GET /tickets/:id/alerts.
func (h *TicketsHandler) ListAlerts(c *fiber.Ctx) error {
	alerts, err := h.service.ListAlerts(c.UserContext(), c.Params("id"), c.QueryBool("active_only", false))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": alertResponses(alerts)})
}

// UpdateStatus PATCH /tickets/:id/status.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if !validStatus(req.Status) {
		return apperrors.NewValidationError("invalid status", map[string]any{"status": req.Status})
	}
	ticket, err := h.service.UpdateStatus(c.UserContext(), auth.SubjectFromContext(c), c.Params("id"), req.Status, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.ticketResponse(ticket)})
}

// UpdatePriority PATCH /tickets/:id/priority.
func (h *TicketsHandler) UpdatePriority(c *fiber.Ctx) error {
	var req dto.UpdatePriorityRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.ChangePriority(c.UserContext(), auth.SubjectFromContext(c), c.Params("id"), service.PriorityChangeInput{
		Priority:     req.Priority,
		CustomerTier: req.CustomerTier,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.ticketResponse(ticket)})
}

func createInput(req dto.CreateTicketRequest) service.TicketCreateInput {
	return service.TicketCreateInput{
		ExternalID:   req.ExternalID,
		Title:        req.Title,
		Description:  req.Description,
		Priority:     domain.TicketPriority(strings.ToUpper(string(req.Priority))),
		CustomerTier: domain.CustomerTier(strings.ToUpper(string(req.CustomerTier))),
		AssignedTo:   req.AssignedTo,
		Department:   req.Department,
		Tags:         req.Tags,
		Metadata:     req.Metadata,
		CreatedAt:    req.CreatedAt,
	}
}

func validStatus(s domain.TicketStatus) bool {
	switch s {
	case domain.TicketStatusOpen, domain.TicketStatusInProgress, domain.TicketStatusPendingCustomer,
		domain.TicketStatusPendingInternal, domain.TicketStatusResolved, domain.TicketStatusClosed,
		domain.TicketStatusCancelled:
		return true
	}
	return false
}

func parseTicketQuery(c *fiber.Ctx) (repository.TicketFilter, int, int, error) {
	filter := repository.TicketFilter{}
	for _, part := range splitQuery(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, domain.TicketStatus(strings.ToUpper(part)))
	}
	for _, part := range splitQuery(c.Query("priority")) {
		filter.Priorities = append(filter.Priorities, domain.TicketPriority(strings.ToUpper(part)))
	}
	for _, part := range splitQuery(c.Query("customer_tier")) {
		filter.Tiers = append(filter.Tiers, domain.CustomerTier(strings.ToUpper(part)))
	}
	if raw := c.Query("escalation_level"); raw != "" {
		level, err := strconv.Atoi(raw)
		if err != nil || level < 0 || level > int(domain.MaxEscalationLevel) {
			return filter, 0, 0, apperrors.NewValidationError("invalid escalation_level", map[string]any{"escalation_level": raw})
		}
		l := domain.EscalationLevel(level)
		filter.EscalationLevel = &l
	}
	if raw := c.Query("response_sla_status"); raw != "" {
		s := domain.SLAStatus(strings.ToUpper(raw))
		filter.ResponseStatus = &s
	}
	if raw := c.Query("resolution_sla_status"); raw != "" {
		s := domain.SLAStatus(strings.ToUpper(raw))
		filter.ResolutionStatus = &s
	}
	if raw := strings.TrimSpace(c.Query("assigned_to")); raw != "" {
		filter.AssignedTo = &raw
	}
	if raw := strings.TrimSpace(c.Query("search")); raw != "" {
		filter.SearchTerm = &raw
	}
	filter.CreatedFrom = parseTime(c.Query("created_from"))
	filter.CreatedTo = parseTime(c.Query("created_to"))

	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter, page, pageSize, nil
}

func splitQuery(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseTime(val string) *time.Time {
	if val == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil
	}
	return &t
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func (h *TicketsHandler) ticketResponse(ticket *domain.Ticket) dto.TicketResponse {
	return ticketResponse(ticket, h.policies.Current(), h.now())
}

func ticketResponse(ticket *domain.Ticket, snap *policy.Snapshot, now time.Time) dto.TicketResponse {
	return dto.TicketResponse{
		ID:               ticket.ID,
		ExternalID:       ticket.ExternalID,
		Title:            ticket.Title,
		Description:      ticket.Description,
		Priority:         ticket.Priority,
		CustomerTier:     ticket.CustomerTier,
		Status:           ticket.Status,
		AssignedTo:       ticket.AssignedTo,
		Department:       ticket.Department,
		Tags:             ticket.Tags,
		Metadata:         ticket.Metadata,
		ResponseSLA:      trackResponse(ticket.Response),
		ResolutionSLA:    trackResponse(ticket.Resolution),
		EscalationLevel:  int(ticket.EscalationLevel),
		EscalationLabel:  snap.EscalationLabel(ticket.EscalationLevel),
		EscalationCount:  ticket.EscalationCount,
		LastEscalationAt: ticket.LastEscalationAt,
		BusinessHours:    businessHoursResponse(ticket, now),
		CreatedAt:        ticket.CreatedAt,
		UpdatedAt:        ticket.UpdatedAt,
	}
}

// businessHoursResponse measures in UTC; open tickets count up to now,
// terminal ones up to their last update.
func businessHoursResponse(ticket *domain.Ticket, now time.Time) dto.BusinessHoursResponse {
	end := now.UTC()
	if ticket.Status.IsTerminal() {
		end = ticket.UpdatedAt.UTC()
	}
	return dto.BusinessHoursResponse{
		MinutesElapsed:   sla.BusinessMinutesElapsed(ticket.CreatedAt.UTC(), end),
		NextBusinessTime: sla.NextBusinessTime(now.UTC()),
	}
}

func trackResponse(track domain.SLATrack) dto.SLATrackResponse {
	return dto.SLATrackResponse{
		TargetMinutes:    track.TargetMinutes,
		Deadline:         track.Deadline,
		Status:           track.Status,
		RemainingMinutes: track.RemainingMinutes,
		Remaining:        sla.FormatDuration(track.RemainingMinutes),
	}
}

func alertResponses(alerts []domain.Alert) []dto.AlertResponse {
	resp := make([]dto.AlertResponse, 0, len(alerts))
	for _, a := range alerts {
		resp = append(resp, dto.AlertResponse{
			ID:                  a.ID,
			TicketID:            a.TicketID,
			AlertType:           a.Type,
			SLADimension:        a.Dimension,
			ThresholdPercentage: a.ThresholdPercentage,
			RemainingMinutes:    a.RemainingMinutes,
			Deadline:            a.Deadline,
			Active:              a.Active,
			Sent:                a.Sent,
			SentAt:              a.SentAt,
			CreatedAt:           a.CreatedAt,
			ResolvedAt:          a.ResolvedAt,
		})
	}
	return resp
}

func historyResponses(entries []domain.StatusHistory) []dto.TicketHistoryResponse {
	resp := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.TicketHistoryResponse{
			ID:         entry.ID,
			FromStatus: entry.FromStatus,
			ToStatus:   entry.ToStatus,
			ChangedBy:  entry.ChangedBy,
			Reason:     entry.Reason,
			ChangedAt:  entry.ChangedAt,
		})
	}
	return resp
}
