package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/codescope-ai/codescope/internal/core"
)

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "id")
	if _, err := s.store.GetTicket(r.Context(), ticketID); err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, core.ErrValidation("EMPTY_PLAN", "plan content must not be empty"))
		return
	}

	if err := s.store.UpdateTicketPlan(r.Context(), ticketID, req.Content); err != nil {
		writeError(w, err)
		return
	}
	edit := &core.PlanEdit{
		ID:       uuid.NewString(),
		TicketID: ticketID,
		UserID:   userIDFrom(r.Context()),
		Content:  req.Content,
		EditedAt: time.Now().UTC(),
	}
	if err := s.store.AddPlanEdit(r.Context(), edit); err != nil {
		writeError(w, err)
		return
	}

	s.events.Publish(core.NewStructuredEvent(ticketID, core.EventSystem, "Plan updated").
		WithMetadata(map[string]string{"notification": "plan-updated"}))
	writeJSON(w, http.StatusOK, edit)
}

func (s *Server) handlePlanHistory(w http.ResponseWriter, r *http.Request) {
	edits, err := s.store.ListPlanEdits(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if edits == nil {
		edits = []core.PlanEdit{}
	}
	writeJSON(w, http.StatusOK, edits)
}

func (s *Server) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "id")
	ticket, err := s.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		writeError(w, err)
		return
	}
	if ticket.PlanContent == "" {
		writeError(w, core.ErrState("NO_PLAN", "ticket has no plan to approve"))
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Status != "approved" && req.Status != "rejected" {
		writeError(w, core.ErrValidation("BAD_APPROVAL", `status must be "approved" or "rejected"`))
		return
	}

	approval := &core.PlanApproval{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		UserID:     userIDFrom(r.Context()),
		Status:     req.Status,
		ApprovedAt: time.Now().UTC(),
	}
	if err := s.store.UpsertApproval(r.Context(), approval); err != nil {
		writeError(w, err)
		return
	}

	s.events.Publish(core.NewStructuredEvent(ticketID, core.EventSystem, "Plan "+req.Status).
		WithMetadata(map[string]string{"notification": "plan-" + req.Status}))

	count, err := s.store.CountApprovals(r.Context(), ticketID)
	if err != nil {
		writeError(w, err)
		return
	}
	thresholdMet := req.Status == "approved" && count >= ticket.RequiredApprovals
	if thresholdMet {
		s.events.Publish(core.NewStructuredEvent(ticketID, core.EventSystem,
			"Plan fully approved, implementation can start").
			WithMetadata(map[string]string{"notification": "auto-implement-started"}))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"approval":      approval,
		"approvals":     count,
		"required":      ticket.RequiredApprovals,
		"threshold_met": thresholdMet,
	})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := s.store.ListApprovals(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if approvals == nil {
		approvals = []core.PlanApproval{}
	}
	writeJSON(w, http.StatusOK, approvals)
}
