// Package store persists projects, tickets, sessions, users, plans and
// structured events in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codescope-ai/codescope/internal/core"
	"github.com/codescope-ai/codescope/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the durable store. The mutex serializes writes; modernc
// sqlite handles one writer at a time.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logging.Logger
}

// New opens (or creates) the database at path and applies migrations.
// Use ":memory:" for tests.
func New(path string, log *logging.Logger) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, log: log.WithComponent("store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	entries, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(entries)
	for _, name := range entries {
		script, err := migrationsFS.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(script)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

// --- projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *core.ProjectRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, directory_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.DirectoryPath, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*core.ProjectRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, directory_path, created_at, updated_at
		FROM projects WHERE id = ?`, id)

	var p core.ProjectRecord
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.DirectoryPath, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrProjectNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]core.ProjectRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, directory_path, created_at, updated_at
		FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []core.ProjectRecord
	for rows.Next() {
		var p core.ProjectRecord
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.DirectoryPath, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, p *core.ProjectRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name = ?, description = ?, directory_path = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Description, p.DirectoryPath, time.Now().UTC(), p.ID)
	if err != nil {
		return err
	}
	return requireRow(res, core.ErrProjectNotFound(p.ID))
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, core.ErrProjectNotFound(id))
}

// --- tickets ---

const ticketColumns = `id, project_id, title, description, status, code_context,
	analysis_result, is_analyzing, mode, plan_content, plan_created_at,
	required_approvals, created_at, updated_at`

func (s *SQLiteStore) CreateTicket(ctx context.Context, t *core.TicketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.Description, t.Status,
		nullableString(t.CodeContext), nullableString(t.AnalysisResult),
		t.IsAnalyzing, t.Mode, nullableString(t.PlanContent), t.PlanCreatedAt,
		t.RequiredApprovals, t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *SQLiteStore) scanTicket(row interface{ Scan(...any) error }) (*core.TicketRecord, error) {
	var t core.TicketRecord
	var codeContext, analysisResult, planContent sql.NullString
	var planCreatedAt sql.NullTime
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status,
		&codeContext, &analysisResult, &t.IsAnalyzing, &t.Mode,
		&planContent, &planCreatedAt, &t.RequiredApprovals, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.CodeContext = codeContext.String
	t.AnalysisResult = analysisResult.String
	t.PlanContent = planContent.String
	if planCreatedAt.Valid {
		t.PlanCreatedAt = &planCreatedAt.Time
	}
	return &t, nil
}

func (s *SQLiteStore) GetTicket(ctx context.Context, id string) (*core.TicketRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := s.scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrTicketNotFound(id)
	}
	return t, err
}

func (s *SQLiteStore) ListTicketsByProject(ctx context.Context, projectID string) ([]core.TicketRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []core.TicketRecord
	for rows.Next() {
		t, err := s.scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

func (s *SQLiteStore) UpdateTicketStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res, core.ErrTicketNotFound(id))
}

func (s *SQLiteStore) SetTicketAnalyzing(ctx context.Context, id string, analyzing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET is_analyzing = ?, updated_at = ? WHERE id = ?`,
		analyzing, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res, core.ErrTicketNotFound(id))
}

// SetTicketResult stores the analysis result and clears the analyzing flag
// in one statement so readers never see a half-finished ticket.
func (s *SQLiteStore) SetTicketResult(ctx context.Context, id, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET analysis_result = ?, is_analyzing = 0, updated_at = ? WHERE id = ?`,
		result, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res, core.ErrTicketNotFound(id))
}

func (s *SQLiteStore) UpdateTicketPlan(ctx context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET plan_content = ?, plan_created_at = ?, updated_at = ? WHERE id = ?`,
		content, now, now, id)
	if err != nil {
		return err
	}
	return requireRow(res, core.ErrTicketNotFound(id))
}

func (s *SQLiteStore) DeleteTicket(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, core.ErrTicketNotFound(id))
}

// --- structured events ---

func (s *SQLiteStore) SaveEvent(ctx context.Context, ev core.StructuredEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO structured_events (id, ticket_id, kind, content, raw, metadata, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TicketID, string(ev.Kind), ev.Content,
		nullableString(ev.Raw), marshalMetadata(ev.Metadata), ev.OccurredAt)
	return err
}

// SaveEventsBatch inserts all events in one transaction. All or nothing.
func (s *SQLiteStore) SaveEventsBatch(ctx context.Context, events []core.StructuredEvent) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO structured_events (id, ticket_id, kind, content, raw, metadata, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.ID, ev.TicketID, string(ev.Kind), ev.Content,
			nullableString(ev.Raw), marshalMetadata(ev.Metadata), ev.OccurredAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// QueryEvents returns one page of a ticket's events in arrival order.
func (s *SQLiteStore) QueryEvents(ctx context.Context, ticketID string, limit, offset int) ([]core.StructuredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, kind, content, raw, metadata, occurred_at
		FROM structured_events WHERE ticket_id = ?
		ORDER BY seq LIMIT ? OFFSET ?`, ticketID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []core.StructuredEvent
	for rows.Next() {
		var ev core.StructuredEvent
		var kind string
		var raw, metadata sql.NullString
		if err := rows.Scan(&ev.ID, &ev.TicketID, &kind, &ev.Content, &raw, &metadata, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.Kind = core.ParseEventKind(kind)
		ev.Raw = raw.String
		if metadata.Valid && metadata.String != "" {
			var md map[string]string
			if err := json.Unmarshal([]byte(metadata.String), &md); err == nil {
				ev.Metadata = md
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) CountEvents(ctx context.Context, ticketID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM structured_events WHERE ticket_id = ?`, ticketID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) ClearEvents(ctx context.Context, ticketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM structured_events WHERE ticket_id = ?`, ticketID)
	return err
}

// --- analysis sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *core.AnalysisSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_sessions (id, ticket_id, status, error_message, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.TicketID, sess.Status, nullableString(sess.ErrorMessage), sess.StartedAt)
	return err
}

func (s *SQLiteStore) CompleteSession(ctx context.Context, id string) error {
	return s.finishSession(ctx, id, core.SessionCompleted, "")
}

func (s *SQLiteStore) FailSession(ctx context.Context, id, errorMessage string) error {
	return s.finishSession(ctx, id, core.SessionFailed, errorMessage)
}

func (s *SQLiteStore) CancelSession(ctx context.Context, id, reason string) error {
	return s.finishSession(ctx, id, core.SessionCancelled, reason)
}

// finishSession only transitions sessions that are still running, so a late
// cancel cannot overwrite a completed session.
func (s *SQLiteStore) finishSession(ctx context.Context, id, status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE analysis_sessions SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		status, nullableString(message), time.Now().UTC(), id, core.SessionRunning)
	return err
}

func (s *SQLiteStore) ActiveSessionByTicket(ctx context.Context, ticketID string) (*core.AnalysisSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ticket_id, status, error_message, started_at, completed_at
		FROM analysis_sessions WHERE ticket_id = ? AND status = ?
		ORDER BY started_at DESC LIMIT 1`, ticketID, core.SessionRunning)

	var sess core.AnalysisSession
	var errMsg sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.TicketID, &sess.Status, &errMsg, &sess.StartedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("active session for ticket", ticketID)
	}
	if err != nil {
		return nil, err
	}
	sess.ErrorMessage = errMsg.String
	if completedAt.Valid {
		sess.CompletedAt = &completedAt.Time
	}
	return &sess, nil
}

// --- users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *core.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, u.CreatedAt)
	return err
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*core.UserRecord, error) {
	return s.getUser(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username)
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*core.UserRecord, error) {
	return s.getUser(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE id = ?`, id)
}

func (s *SQLiteStore) getUser(ctx context.Context, query, arg string) (*core.UserRecord, error) {
	var u core.UserRecord
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("user", arg)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// --- plans ---

func (s *SQLiteStore) AddPlanEdit(ctx context.Context, e *core.PlanEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plan_edits (id, ticket_id, user_id, content, edited_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.TicketID, e.UserID, e.Content, e.EditedAt)
	return err
}

func (s *SQLiteStore) ListPlanEdits(ctx context.Context, ticketID string) ([]core.PlanEdit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, user_id, content, edited_at
		FROM plan_edits WHERE ticket_id = ? ORDER BY edited_at DESC`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edits []core.PlanEdit
	for rows.Next() {
		var e core.PlanEdit
		if err := rows.Scan(&e.ID, &e.TicketID, &e.UserID, &e.Content, &e.EditedAt); err != nil {
			return nil, err
		}
		edits = append(edits, e)
	}
	return edits, rows.Err()
}

// UpsertApproval records a user's decision, replacing any earlier one for
// the same ticket.
func (s *SQLiteStore) UpsertApproval(ctx context.Context, a *core.PlanApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plan_approvals (id, ticket_id, user_id, status, approved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (ticket_id, user_id)
		DO UPDATE SET status = excluded.status, approved_at = excluded.approved_at`,
		a.ID, a.TicketID, a.UserID, a.Status, a.ApprovedAt)
	return err
}

func (s *SQLiteStore) ListApprovals(ctx context.Context, ticketID string) ([]core.PlanApproval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, user_id, status, approved_at
		FROM plan_approvals WHERE ticket_id = ? ORDER BY approved_at`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []core.PlanApproval
	for rows.Next() {
		var a core.PlanApproval
		if err := rows.Scan(&a.ID, &a.TicketID, &a.UserID, &a.Status, &a.ApprovedAt); err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

func (s *SQLiteStore) CountApprovals(ctx context.Context, ticketID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM plan_approvals WHERE ticket_id = ? AND status = 'approved'`,
		ticketID).Scan(&n)
	return n, err
}

// --- helpers ---

func requireRow(res sql.Result, notFound *core.DomainError) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalMetadata(md map[string]string) any {
	if len(md) == 0 {
		return nil
	}
	encoded, err := json.Marshal(md)
	if err != nil {
		return nil
	}
	return string(encoded)
}
