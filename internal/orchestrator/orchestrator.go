// Package orchestrator drives the analysis lifecycle: ticket and session
// state, agent execution, event publication and cancellation.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codescope-ai/codescope/internal/agent"
	"github.com/codescope-ai/codescope/internal/core"
	"github.com/codescope-ai/codescope/internal/logging"
	"github.com/codescope-ai/codescope/internal/msgstore"
)

// Analysis modes. Plan and edit shape the prompt; ask passes it through.
const (
	ModeAsk  = "ask"
	ModePlan = "plan"
	ModeEdit = "edit"
)

const planInstructions = "\n\nProduce a numbered implementation plan. " +
	"Do not modify any files; describe each step and the files it touches."

const editInstructions = "\n\nApply the necessary changes directly and " +
	"summarize every file you modified."

// Store is the persistence surface the orchestrator needs.
type Store interface {
	core.TicketStore
	core.SessionStore
	GetProject(ctx context.Context, id string) (*core.ProjectRecord, error)
}

// Runner executes one analysis against a working directory.
type Runner interface {
	Run(ctx context.Context, ticketID, prompt string, sink core.EventSink) (string, error)
}

// RunnerFactory builds a runner for one run. The config carries the working
// directory resolved from the ticket's project.
type RunnerFactory func(cfg agent.Config) (Runner, error)

// Preflighter gates launches on host resources.
type Preflighter interface {
	Preflight() error
}

// Request starts one analysis.
type Request struct {
	TicketID  string `json:"ticket_id"`
	ProjectID string `json:"project_id,omitempty"`
	Question  string `json:"question"`
	Mode      string `json:"mode,omitempty"`
}

// Orchestrator owns running analyses. One instance serves the whole server.
type Orchestrator struct {
	store     Store
	events    *msgstore.Store
	running   *core.RunningAnalyses
	preflight Preflighter
	newRunner RunnerFactory
	log       *logging.Logger

	cfgMu    sync.RWMutex
	agentCfg agent.Config
}

// New wires an orchestrator. preflight may be nil to skip resource checks.
func New(store Store, events *msgstore.Store, running *core.RunningAnalyses,
	preflight Preflighter, agentCfg agent.Config, log *logging.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		events:    events,
		running:   running,
		preflight: preflight,
		agentCfg:  agentCfg,
		newRunner: func(cfg agent.Config) (Runner, error) {
			return agent.NewRunner(cfg, log)
		},
		log: log.WithComponent("orchestrator"),
	}
}

// WithRunnerFactory swaps the runner constructor. For tests.
func (o *Orchestrator) WithRunnerFactory(f RunnerFactory) *Orchestrator {
	o.newRunner = f
	return o
}

// SetAgentConfig swaps the agent settings used for new runs. Running
// analyses keep the config they started with.
func (o *Orchestrator) SetAgentConfig(cfg agent.Config) {
	o.cfgMu.Lock()
	o.agentCfg = cfg
	o.cfgMu.Unlock()
}

func (o *Orchestrator) agentConfig() agent.Config {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.agentCfg
}

// Start validates the request, marks the ticket analyzing, records a session
// and launches the analysis in the background. It returns the session ID as
// soon as the run is accepted.
func (o *Orchestrator) Start(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Question) == "" {
		return "", core.ErrValidation("EMPTY_QUESTION", "question must not be empty")
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeAsk
	}
	if mode != ModeAsk && mode != ModePlan && mode != ModeEdit {
		return "", core.ErrValidation("UNKNOWN_MODE", "unknown analysis mode: "+mode)
	}

	ticket, err := o.ensureTicket(ctx, req)
	if err != nil {
		return "", err
	}
	project, err := o.store.GetProject(ctx, ticket.ProjectID)
	if err != nil {
		return "", err
	}

	if o.preflight != nil {
		if err := o.preflight.Preflight(); err != nil {
			return "", core.ErrState("HOST_OVERLOADED", err.Error())
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := o.running.Register(ticket.ID, cancel); err != nil {
		cancel()
		return "", err
	}

	session := &core.AnalysisSession{
		ID:        uuid.NewString(),
		TicketID:  ticket.ID,
		Status:    core.SessionRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := o.store.CreateSession(ctx, session); err != nil {
		o.running.Remove(ticket.ID)
		cancel()
		return "", err
	}
	if err := o.store.SetTicketAnalyzing(ctx, ticket.ID, true); err != nil {
		o.running.Remove(ticket.ID)
		cancel()
		return "", err
	}

	o.events.Publish(notification(ticket.ID, "analysis-started", "Starting analysis").
		WithMetadata(map[string]string{
			"notification": "analysis-started",
			"session_id":   session.ID,
			"mode":         mode,
		}))

	cfg := o.agentConfig()
	cfg.WorkDir = project.DirectoryPath
	prompt := shapePrompt(req.Question, mode)

	go o.run(runCtx, ticket.ID, session.ID, prompt, cfg)
	return session.ID, nil
}

// ensureTicket loads the ticket or auto-creates a placeholder when the
// request names a project. Lets clients start asking before filing tickets.
func (o *Orchestrator) ensureTicket(ctx context.Context, req Request) (*core.TicketRecord, error) {
	ticket, err := o.store.GetTicket(ctx, req.TicketID)
	if err == nil {
		return ticket, nil
	}
	if !core.IsCategory(err, core.ErrCatNotFound) || req.ProjectID == "" {
		return nil, err
	}

	now := time.Now().UTC()
	ticket = &core.TicketRecord{
		ID:                req.TicketID,
		ProjectID:         req.ProjectID,
		Title:             "Auto-created",
		Description:       req.Question,
		Status:            "open",
		Mode:              ModeAsk,
		RequiredApprovals: 1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := o.store.CreateTicket(ctx, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// run executes the analysis and finalizes ticket and session state. Failures
// surface as error events and a failed session, never as a transport error.
func (o *Orchestrator) run(ctx context.Context, ticketID, sessionID, prompt string, cfg agent.Config) {
	defer o.running.Remove(ticketID)

	log := o.log.WithTicket(ticketID)
	bg := context.Background()

	runner, err := o.newRunner(cfg)
	var output string
	if err == nil {
		output, err = runner.Run(ctx, ticketID, prompt, o.events.Publish)
	}

	switch {
	case err == nil:
		result := core.NewStructuredEvent(ticketID, core.EventResult, output).
			WithMetadata(map[string]string{"session_id": sessionID, "status": "completed"})
		o.events.Publish(result)
		if err := o.store.CompleteSession(bg, sessionID); err != nil {
			log.Error("complete session failed", "error", err)
		}
		if err := o.store.SetTicketResult(bg, ticketID, output); err != nil {
			log.Error("store result failed", "error", err)
		}
		log.Info("analysis completed", "session_id", sessionID)

	case errors.Is(err, context.Canceled):
		// Stop already finalized the session and ticket.
		log.Info("analysis cancelled", "session_id", sessionID)

	default:
		o.events.Publish(core.NewStructuredEvent(ticketID, core.EventError, err.Error()).
			WithMetadata(map[string]string{"session_id": sessionID, "code": core.GetCode(err)}))
		if ferr := o.store.FailSession(bg, sessionID, err.Error()); ferr != nil {
			log.Error("fail session failed", "error", ferr)
		}
		if serr := o.store.SetTicketAnalyzing(bg, ticketID, false); serr != nil {
			log.Error("clear analyzing flag failed", "error", serr)
		}
		log.Warn("analysis failed", "session_id", sessionID, "error", err)
	}
}

// Stop cancels a ticket's running analysis. Stopping an idle ticket is not
// an error; the caller gets stopped=false and a reason.
func (o *Orchestrator) Stop(ctx context.Context, ticketID string) (bool, string, error) {
	ticket, err := o.store.GetTicket(ctx, ticketID)
	if err != nil {
		return false, "", err
	}

	cancelled := o.running.Cancel(ticketID)
	if !cancelled && !ticket.IsAnalyzing {
		return false, "Ticket is not being analyzed", nil
	}

	if err := o.store.SetTicketAnalyzing(ctx, ticketID, false); err != nil {
		return false, "", err
	}
	if session, err := o.store.ActiveSessionByTicket(ctx, ticketID); err == nil {
		if err := o.store.CancelSession(ctx, session.ID, "Cancelled by user"); err != nil {
			o.log.WithTicket(ticketID).Error("cancel session failed", "error", err)
		}
	}

	o.events.Publish(notification(ticketID, "analysis-stopped", "Analysis stopped by user"))
	return true, "Analysis stopped", nil
}

// IsRunning reports whether the ticket has an in-flight analysis.
func (o *Orchestrator) IsRunning(ticketID string) bool {
	return o.running.IsRunning(ticketID)
}

func shapePrompt(question, mode string) string {
	switch mode {
	case ModePlan:
		return question + planInstructions
	case ModeEdit:
		return question + editInstructions
	default:
		return question
	}
}

func notification(ticketID, name, content string) core.StructuredEvent {
	return core.NewStructuredEvent(ticketID, core.EventSystem, content).
		WithMetadata(map[string]string{"notification": name})
}
