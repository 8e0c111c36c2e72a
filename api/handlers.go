/*
handlers.go - HTTP API handlers for the attendance engine

PURPOSE:
  Exposes the reconciliation engine and its supporting administration via
  REST. Handles HTTP request/response, JSON serialization and validation,
  and delegates to domain logic.

ENDPOINTS:
  Scans:
    POST   /api/scans                       Reconcile one clock-in / clock-out

  Users:
    GET    /api/users                       List users
    POST   /api/users                       Create or update a user
    GET    /api/users/{id}                  User with stats
    GET    /api/users/{id}/sessions         Session index
    GET    /api/users/{id}/eligibility      Padrino tier and ratios

  Events:
    GET    /api/events                      List events (?date=YYYY-MM-DD)
    POST   /api/events                      Create an event
    GET    /api/events/{id}                 Event with participants
    POST   /api/events/{id}/invitations     Schedule users for an event

  Attendance:
    GET    /api/attendance/{location}/{date}  One location's log for a day
    GET    /api/reports/attendance            Range report (?format=xlsx)

  Admin:
    POST   /api/admin/absences/sweep        Run the absence sweep now
    GET    /api/admin/absences/last         Last sweep run
    GET    /api/admin/audit                 Reconcile attempts
    GET    /api/admin/thresholds            Eligibility thresholds in use

REQUEST FLOW FOR SCANS:
  1. Decode and validate the body
  2. Take the per-user lock (one scan per user at a time)
  3. Reconcile under a timeout; retry retryable store errors
  4. Append an audit entry
  5. Respond with the outcome and a display message

ERROR HANDLING:
  Errors are returned as JSON (ErrorResponse) with status from classify:
  - 400: Validation errors, invalid input
  - 403: Inactive user
  - 404: User or event not found
  - 409: Ambiguous event, double scan, no open session
  - 503: Store timeout after all retries

SECURITY NOTE:
  No authentication or authorization. Deploy behind an authenticating proxy.

SEE ALSO:
  - dto.go: Request/response data structures
  - messages.go: Outcome and error texts
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/factory"
	"github.com/warp/attendance-engine/generic"
	"github.com/warp/attendance-engine/padrino"
	"github.com/warp/attendance-engine/report"
)

const (
	defaultReconcileTimeout = 5 * time.Second
	defaultMaxRetries       = 3
	defaultAuditLimit       = 100
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears a store. Used by demo scenarios.
type Resetter interface {
	Reset(ctx context.Context) error
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Store            generic.TreeStore
	Resetter         Resetter // optional, enables scenario loading
	Audit            generic.AuditLog
	Clock            generic.Clock
	Lateness         attendance.LatenessConfig
	Policy           padrino.Policy
	ReconcileTimeout time.Duration
	MaxRetries       int
	Logger           *slog.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       generic.TreeStore
	Resetter    Resetter
	Audit       generic.AuditLog
	Clock       generic.Clock
	Engine      *attendance.Engine
	Directory   *attendance.Directory
	Catalog     *attendance.TreeCatalog
	Sweeper     *attendance.AbsenceSweeper
	Scheduler   *AbsenceScheduler
	Eligibility *padrino.Calculator
	Reports     *report.Builder
	Thresholds  *factory.ThresholdFactory
	Locks       *UserLocks
	Logger      *slog.Logger

	Timeout    time.Duration
	MaxRetries int

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler builds the engine and every supporting service over one store.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Store == nil {
		return nil, errors.New("handler: store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = &generic.OrgClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = defaultReconcileTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Policy.Rules == nil {
		cfg.Policy = padrino.DefaultPolicy()
	}

	loc := cfg.Clock.Location()
	catalog := attendance.NewTreeCatalog(cfg.Store, loc)
	engine, err := attendance.NewEngine(attendance.EngineConfig{
		Store:    cfg.Store,
		Clock:    cfg.Clock,
		Catalog:  catalog,
		Lateness: cfg.Lateness,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	calc, err := padrino.NewCalculator(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("handler: %w", err)
	}

	locks := NewUserLocks()
	sweeper := attendance.NewAbsenceSweeper(cfg.Store, catalog, engine.Stats(), cfg.Logger)
	sweeper.Lock = locks.Lock

	return &Handler{
		Store:       cfg.Store,
		Resetter:    cfg.Resetter,
		Audit:       cfg.Audit,
		Clock:       cfg.Clock,
		Engine:      engine,
		Directory:   attendance.NewDirectory(cfg.Store),
		Catalog:     catalog,
		Sweeper:     sweeper,
		Scheduler:   NewAbsenceScheduler(sweeper, cfg.Clock, cfg.Logger),
		Eligibility: calc,
		Reports:     report.NewBuilder(cfg.Store, loc),
		Thresholds:  factory.NewThresholdFactory(),
		Locks:       locks,
		Logger:      cfg.Logger,
		Timeout:     cfg.ReconcileTimeout,
		MaxRetries:  cfg.MaxRetries,
		validate:    validator.New(),
	}, nil
}

// =============================================================================
// SCAN HANDLERS
// =============================================================================

// Scan reconciles one clock-in or clock-out.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	scan := attendance.ScanRequest{
		UserID:       strings.TrimSpace(req.UserID),
		Mode:         attendance.Mode(req.Mode),
		Location:     req.Location,
		CategoryHint: attendance.Category(req.CategoryHint),
		EventHint:    req.EventHint,
	}
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid timestamp (use RFC 3339)", err)
			return
		}
		scan.Timestamp = ts
	}

	res, attempts, err := h.Reconcile(r.Context(), scan)
	h.appendAudit(r.Context(), scan, res, attempts, err)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if res.Outcome == attendance.OutcomeOpened {
		status = http.StatusCreated
	}
	writeJSON(w, status, toScanResultDTO(res, attempts))
}

// Reconcile runs one scan under the user's lock with a per-attempt timeout.
// Retryable store errors are retried up to MaxRetries attempts; the
// timestamp is fixed before the first attempt so retries see the same scan.
func (h *Handler) Reconcile(ctx context.Context, scan attendance.ScanRequest) (attendance.Result, int, error) {
	if scan.Timestamp.IsZero() {
		scan.Timestamp = h.Clock.Now()
	}

	unlock := h.Locks.Lock(scan.UserID)
	defer unlock()

	var (
		res attendance.Result
		err error
	)
	for attempt := 1; attempt <= h.MaxRetries; attempt++ {
		actx, cancel := context.WithTimeout(ctx, h.Timeout)
		res, err = h.Engine.Reconcile(actx, scan)
		cancel()

		if err == nil || !generic.IsRetryable(err) || ctx.Err() != nil || attempt == h.MaxRetries {
			return res, attempt, err
		}
		h.Logger.Warn("retrying scan",
			"user_id", scan.UserID, "mode", scan.Mode, "attempt", attempt, "error", err)
	}
	return res, h.MaxRetries, err
}

func (h *Handler) appendAudit(ctx context.Context, scan attendance.ScanRequest, res attendance.Result, attempts int, err error) {
	if h.Audit == nil {
		return
	}
	entry := generic.AuditEntry{
		ID:         uuid.NewString(),
		At:         h.Clock.Now(),
		UserID:     scan.UserID,
		Mode:       string(scan.Mode),
		Outcome:    string(res.Outcome),
		SessionKey: res.SessionKey,
		Location:   scan.Location,
		Attempts:   attempts,
	}
	if err != nil {
		entry.Outcome = ""
		entry.Error = err.Error()
	}
	// The audit write must not fail the scan that already happened.
	if aerr := h.Audit.Append(context.WithoutCancel(ctx), entry); aerr != nil {
		h.Logger.Error("audit append failed", "user_id", scan.UserID, "error", aerr)
	}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Directory.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetUser returns a single user.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Directory.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

// CreateUser creates a user or updates its profile.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	u := attendance.User{
		ID:       req.ID,
		Name:     req.Name,
		Location: req.Location,
		Status:   attendance.UserStatus(req.Status),
	}
	if err := h.Directory.Save(r.Context(), u); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save user", err)
		return
	}

	saved, err := h.Directory.Get(r.Context(), req.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*saved))
}

// GetSessions returns the user's session index, newest first.
func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	u, err := h.Directory.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]SessionDTO, 0, len(u.Sessions))
	for key, s := range u.Sessions {
		dtos = append(dtos, SessionDTO{
			Key:        key,
			ClockIn:    formatTime(s.ClockInTime),
			ClockOut:   formatTimePtr(s.ClockOutTime),
			Location:   s.Location,
			Date:       s.Date,
			EventID:    s.EventID,
			Category:   string(s.Category),
			Open:       s.Open(),
			AutoClosed: s.AutoClosed,
		})
	}
	sort.Slice(dtos, func(i, j int) bool { return dtos[i].Key > dtos[j].Key })
	writeJSON(w, http.StatusOK, dtos)
}

// GetEligibility computes the user's padrino tier.
func (h *Handler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	u, err := h.Directory.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Eligibility.Rank(u))
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// ListEvents returns all events, or the events covering ?date=.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	var (
		events []attendance.ScheduledEvent
		err    error
	)
	if ds := r.URL.Query().Get("date"); ds != "" {
		d, perr := generic.ParseDate(ds)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", perr)
			return
		}
		events, err = h.Catalog.EventsOn(r.Context(), d)
	} else {
		events, err = h.Catalog.List(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events", err)
		return
	}

	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = toEventDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEvent returns one event with its participants.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.Catalog.Event(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(*e))
}

// CreateEvent schedules an event.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start (use RFC 3339)", err)
		return
	}
	e := attendance.ScheduledEvent{
		ID:       req.ID,
		Title:    req.Title,
		Start:    start,
		Location: req.Location,
		Category: attendance.Category(req.Category),
	}
	if req.End != "" {
		if e.End, err = time.Parse(time.RFC3339, req.End); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end (use RFC 3339)", err)
			return
		}
	}

	if err := h.Catalog.SaveEvent(r.Context(), e); err != nil {
		writeDomainError(w, err)
		return
	}
	saved, err := h.Catalog.Event(r.Context(), e.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventDTO(*saved))
}

// InviteToEvent schedules users for an event.
func (h *Handler) InviteToEvent(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.Catalog.Invite(r.Context(), id, req.UserIDs); err != nil {
		writeDomainError(w, err)
		return
	}
	e, err := h.Catalog.Event(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(*e))
}

// ListCategories returns the registered categories.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	infos := attendance.ListCategories()
	dtos := make([]CategoryDTO, len(infos))
	for i, c := range infos {
		dtos[i] = CategoryDTO{ID: string(c.ID), Label: c.Label, MultiDay: c.MultiDay, Tracked: c.Tracked}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ATTENDANCE AND REPORT HANDLERS
// =============================================================================

// GetAttendanceDay returns one location's log for a date.
func (h *Handler) GetAttendanceDay(w http.ResponseWriter, r *http.Request) {
	d, err := generic.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	rows, err := h.Reports.Day(r.Context(), chi.URLParam(r, "location"), d)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read attendance", err)
		return
	}
	if rows == nil {
		rows = []report.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// GetAttendanceReport aggregates ?location= over ?from=..?to= (default: today).
// ?format=xlsx returns a workbook.
func (h *Handler) GetAttendanceReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	today := generic.DateOf(h.Clock.Now(), h.Clock.Location())

	from, to := today, today
	var err error
	if s := q.Get("from"); s != "" {
		if from, err = generic.ParseDate(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date", err)
			return
		}
	}
	if s := q.Get("to"); s != "" {
		if to, err = generic.ParseDate(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date", err)
			return
		}
	}

	rep, err := h.Reports.Attendance(r.Context(), q.Get("location"), from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to build report", err)
		return
	}

	if strings.EqualFold(q.Get("format"), "xlsx") {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="asistencia_%s_%s.xlsx"`, from, to))
		if err := report.WriteXLSX(w, rep); err != nil {
			h.Logger.Error("xlsx export failed", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// SweepAbsences runs the absence sweep now. The body may override the lookback.
func (h *Handler) SweepAbsences(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if r.ContentLength > 0 && !h.decodeAndValidate(w, r, &req) {
		return
	}

	if req.LookbackDays > 0 {
		lookback := time.Duration(req.LookbackDays) * 24 * time.Hour
		res, err := h.Sweeper.Sweep(r.Context(), h.Clock.Now(), lookback)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	run := h.Scheduler.RunNow()
	if run.Error != "" {
		writeError(w, http.StatusInternalServerError, "Absence sweep failed", errors.New(run.Error))
		return
	}
	writeJSON(w, http.StatusOK, run.Result)
}

// GetLastSweep returns the last sweep run and the next scheduled one.
func (h *Handler) GetLastSweep(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"last_run": h.Scheduler.LastRun()}
	if next := h.Scheduler.NextRun(); !next.IsZero() {
		resp["next_run"] = formatTime(next)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListAudit returns reconcile attempts, newest first (?user_id=, ?limit=).
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeJSON(w, http.StatusOK, []AuditEntryDTO{})
		return
	}

	filter := generic.AuditFilter{UserID: r.URL.Query().Get("user_id"), Limit: defaultAuditLimit}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	entries, err := h.Audit.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetThresholds returns the eligibility policy in its JSON form.
func (h *Handler) GetThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Thresholds.ToJSON(h.Eligibility.Policy()))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decodeAndValidate decodes the JSON body into dst and runs the validator.
// It writes the 400 response itself and returns false on failure.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s: %s", fe.Field(), fe.Tag())
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Validation failed",
				Code:    "validation",
				Details: strings.Join(fields, "; "),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}
