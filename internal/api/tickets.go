package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"

	"github.com/codescope-ai/codescope/internal/core"
	"github.com/codescope-ai/codescope/internal/orchestrator"
)

type ticketRequest struct {
	Title             string `json:"title"`
	Description       string `json:"description"`
	Mode              string `json:"mode"`
	RequiredApprovals int    `json:"required_approvals"`
}

// ticketTitles adapts tickets to the fuzzy matcher.
type ticketTitles []core.TicketRecord

func (t ticketTitles) String(i int) string { return t[i].Title }
func (t ticketTitles) Len() int            { return len(t) }

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.store.ListTicketsByProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		matches := fuzzy.FindFrom(q, ticketTitles(tickets))
		ranked := make([]core.TicketRecord, 0, len(matches))
		for _, m := range matches {
			ranked = append(ranked, tickets[m.Index])
		}
		tickets = ranked
	}
	if tickets == nil {
		tickets = []core.TicketRecord{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	if _, err := s.store.GetProject(r.Context(), projectID); err != nil {
		writeError(w, err)
		return
	}

	var req ticketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, core.ErrValidation("BAD_TICKET", "title is required"))
		return
	}
	if req.Mode == "" {
		req.Mode = orchestrator.ModeAsk
	}
	if req.RequiredApprovals <= 0 {
		req.RequiredApprovals = 1
	}

	now := time.Now().UTC()
	ticket := &core.TicketRecord{
		ID:                uuid.NewString(),
		ProjectID:         projectID,
		Title:             req.Title,
		Description:       req.Description,
		Status:            "open",
		Mode:              req.Mode,
		RequiredApprovals: req.RequiredApprovals,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateTicket(r.Context(), ticket); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.store.GetTicket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (s *Server) handleUpdateTicketStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Status == "" {
		writeError(w, core.ErrValidation("BAD_STATUS", "status is required"))
		return
	}
	if err := s.store.UpdateTicketStatus(r.Context(), chi.URLParam(r, "id"), req.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (s *Server) handleDeleteTicket(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTicket(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type logsResponse struct {
	Events  []core.StructuredEvent `json:"events"`
	Total   int                    `json:"total"`
	HasMore bool                   `json:"has_more"`
}

func (s *Server) handleTicketLogs(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	events, total, hasMore, err := s.events.Logs(r.Context(), ticketID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []core.StructuredEvent{}
	}
	writeJSON(w, http.StatusOK, logsResponse{Events: events, Total: total, HasMore: hasMore})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question  string `json:"question"`
		Mode      string `json:"mode"`
		ProjectID string `json:"project_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	sessionID, err := s.orch.Start(r.Context(), orchestrator.Request{
		TicketID:  chi.URLParam(r, "id"),
		ProjectID: req.ProjectID,
		Question:  req.Question,
		Mode:      req.Mode,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":    true,
		"session_id": sessionID,
	})
}

func (s *Server) handleStopAnalysis(w http.ResponseWriter, r *http.Request) {
	stopped, message, err := s.orch.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stopped": stopped,
		"message": message,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
