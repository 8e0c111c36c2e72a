/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Scan outcomes and their status codes
- Request validation and domain error mapping
- Retry of retryable store failures
- Eligibility, audit and scenario endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/generic"
	"github.com/warp/attendance-engine/generic/store"
	"github.com/warp/attendance-engine/logging"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testZone = time.FixedZone("CST", -6*60*60)

const testDay = generic.Date("2025-03-03")

// unavailableStore rejects the next `fail` batches without applying them.
type unavailableStore struct {
	*store.Memory
	mu   sync.Mutex
	fail int
}

func (s *unavailableStore) failNext(n int) {
	s.mu.Lock()
	s.fail = n
	s.mu.Unlock()
}

func (s *unavailableStore) BatchWrite(ctx context.Context, b generic.Batch) error {
	s.mu.Lock()
	if s.fail > 0 {
		s.fail--
		s.mu.Unlock()
		return generic.ErrStoreUnavailable
	}
	s.mu.Unlock()
	return s.Memory.BatchWrite(ctx, b)
}

type testServer struct {
	t      *testing.T
	h      *Handler
	router *chi.Mux
	store  *unavailableStore
	clock  *generic.FixedClock
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &unavailableStore{Memory: store.NewMemory()}
	clock := &generic.FixedClock{At: testDay.At(12, 0, testZone), Loc: testZone}

	h, err := NewHandler(HandlerConfig{
		Store:    s,
		Resetter: s,
		Audit:    store.NewMemoryAudit(),
		Clock:    clock,
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	return &testServer{t: t, h: h, router: NewRouter(h, nil), store: s, clock: clock}
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) user(id string) {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/users", CreateUserRequest{ID: id, Name: "User " + id})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (ts *testServer) event(id, category, location string, start, end time.Time) {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/events", CreateEventRequest{
		ID: id, Title: "Event " + id, Category: category, Location: location,
		Start: start.Format(time.RFC3339), End: end.Format(time.RFC3339),
	})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func scanAt(user, mode, location string, h, m int) ScanRequest {
	return ScanRequest{UserID: user, Mode: mode, Location: location, Timestamp: testDay.At(h, m, testZone).Format(time.RFC3339)}
}

// =============================================================================
// SCANS
// =============================================================================

func TestScan_OpenThenClose(t *testing.T) {
	// GIVEN: A registered user
	// WHEN: Clocking in at 08:50 and out at 12:50
	// THEN: 201 opened, then 200 closed with four hours

	ts := setupTestServer(t)
	ts.user("u1")

	rec := ts.do(http.MethodPost, "/api/scans", scanAt("u1", "in", "Aurora", 8, 50))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	opened := decodeBody[ScanResultDTO](t, rec)
	assert.Equal(t, string(attendance.OutcomeOpened), opened.Outcome)
	assert.Equal(t, "Clock-in recorded", opened.Message)
	assert.Equal(t, 1, opened.Attempts)
	require.NotNil(t, opened.Stats)
	assert.Equal(t, 1, opened.Stats.DaysPresent)

	rec = ts.do(http.MethodPost, "/api/scans", scanAt("u1", "out", "Aurora", 12, 50))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decodeBody[ScanResultDTO](t, rec)
	assert.Equal(t, string(attendance.OutcomeClosed), closed.Outcome)
	assert.Equal(t, opened.SessionKey, closed.SessionKey)
	assert.Equal(t, 4.0, closed.HoursWorked)

	rec = ts.do(http.MethodGet, "/api/users/u1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decodeBody[[]SessionDTO](t, rec)
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].Open)
}

func TestScan_SecondClockInIsNoOp(t *testing.T) {
	ts := setupTestServer(t)
	ts.user("u1")

	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/scans", scanAt("u1", "in", "Aurora", 9, 0)).Code)

	rec := ts.do(http.MethodPost, "/api/scans", scanAt("u1", "in", "Aurora", 9, 5))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(attendance.OutcomeNoOp), decodeBody[ScanResultDTO](t, rec).Outcome)
}

func TestScan_LocationRequired(t *testing.T) {
	ts := setupTestServer(t)
	ts.user("u1")

	rec := ts.do(http.MethodPost, "/api/scans", ScanRequest{UserID: "u1", Mode: "in"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[ScanResultDTO](t, rec)
	assert.Equal(t, string(attendance.OutcomeLocationRequired), res.Outcome)
	assert.Nil(t, res.Stats)
}

func TestScan_DefaultsTimestampToClock(t *testing.T) {
	ts := setupTestServer(t)
	ts.user("u1")

	rec := ts.do(http.MethodPost, "/api/scans", ScanRequest{UserID: "u1", Mode: "in", Location: "Aurora"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, ts.clock.At.Format(time.RFC3339), decodeBody[ScanResultDTO](t, rec).ClockIn)
}

func TestScan_Errors(t *testing.T) {
	ts := setupTestServer(t)
	ts.user("u1")
	ts.event("taller", "taller", "Aurora", testDay.At(19, 0, testZone), testDay.At(21, 0, testZone))
	ts.event("reunion", "reunion_grupo", "Aurora", testDay.At(18, 0, testZone), testDay.At(20, 0, testZone))

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"bad mode", ScanRequest{UserID: "u1", Mode: "sideways"}, http.StatusBadRequest, "validation"},
		{"missing user", ScanRequest{Mode: "in"}, http.StatusBadRequest, "validation"},
		{"bad timestamp", ScanRequest{UserID: "u1", Mode: "in", Timestamp: "yesterday"}, http.StatusBadRequest, "validation"},
		{"unknown user", scanAt("ghost", "in", "Aurora", 9, 0), http.StatusNotFound, "user_not_found"},
		{"ambiguous", scanAt("u1", "in", "Aurora", 18, 0), http.StatusConflict, "ambiguous_event"},
		{"clock-out without session", scanAt("u1", "out", "Aurora", 9, 0), http.StatusConflict, "no_open_session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/scans", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
		})
	}

	rec := ts.do(http.MethodPost, "/api/scans", scanAt("u1", "in", "Aurora", 18, 0))
	assert.ElementsMatch(t, []string{"taller", "reunion"}, decodeBody[ErrorResponse](t, rec).Candidates)

	hinted := scanAt("u1", "in", "Aurora", 18, 0)
	hinted.EventHint = "reunion"
	rec = ts.do(http.MethodPost, "/api/scans", hinted)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "reunion", decodeBody[ScanResultDTO](t, rec).EventID)
}

func TestScan_RetriesUnavailableStore(t *testing.T) {
	// GIVEN: A store that rejects the next two batches
	// WHEN: Scanning with three attempts allowed
	// THEN: The third attempt opens the session

	ts := setupTestServer(t)
	ts.user("u1")
	ts.store.failNext(2)

	rec := ts.do(http.MethodPost, "/api/scans", scanAt("u1", "in", "Aurora", 9, 0))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 3, decodeBody[ScanResultDTO](t, rec).Attempts)
}

func TestScan_GivesUpAfterMaxRetries(t *testing.T) {
	ts := setupTestServer(t)
	ts.user("u1")
	ts.store.failNext(10)

	rec := ts.do(http.MethodPost, "/api/scans", scanAt("u1", "in", "Aurora", 9, 0))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store_unavailable", decodeBody[ErrorResponse](t, rec).Code)

	ts.store.failNext(0)
	rec = ts.do(http.MethodGet, "/api/admin/audit?user_id=u1", nil)
	entries := decodeBody[[]AuditEntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].Attempts)
	assert.NotEmpty(t, entries[0].Error)
}

func TestScan_SerializedPerUser(t *testing.T) {
	// Concurrent clock-ins for one user open exactly one session.
	ts := setupTestServer(t)
	ts.user("u1")

	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = ts.do(http.MethodPost, "/api/scans", scanAt("u1", "in", "Aurora", 9, i)).Code
		}(i)
	}
	wg.Wait()

	created := 0
	for _, c := range codes {
		if c == http.StatusCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 0, ts.h.Locks.Len())
}

// =============================================================================
// USERS, EVENTS, ADMIN
// =============================================================================

func TestUsers_CreateGetList(t *testing.T) {
	ts := setupTestServer(t)
	ts.user("b")
	ts.user("a")

	rec := ts.do(http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decodeBody[[]UserDTO](t, rec)
	require.Len(t, users, 2)
	assert.Equal(t, "a", users[0].ID)
	assert.Equal(t, "active", users[0].Status)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/users/zz", nil).Code)

	rec = ts.do(http.MethodPost, "/api/users", CreateUserRequest{ID: "x.y", Name: "Bad"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvents_InviteAndList(t *testing.T) {
	ts := setupTestServer(t)
	ts.user("u1")
	ts.event("h1", "hacienda", "Hacienda", testDay.At(9, 0, testZone), testDay.At(13, 0, testZone))

	rec := ts.do(http.MethodPost, "/api/events/h1/invitations", InviteRequest{UserIDs: []string{"u1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]bool{"u1": false}, decodeBody[EventDTO](t, rec).Participants)

	rec = ts.do(http.MethodGet, "/api/events?date="+testDay.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]EventDTO](t, rec), 1)

	rec = ts.do(http.MethodGet, "/api/events/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvents_RejectsReservedCategory(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(http.MethodPost, "/api/events", CreateEventRequest{
		ID: "t1", Title: "Taller", Category: "taller.avanzado", Location: "Aurora",
		Start: testDay.At(19, 0, testZone).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decodeBody[ErrorResponse](t, rec).Code)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/events/t1", nil).Code)
}

func TestAttendanceDayAndReport(t *testing.T) {
	ts := setupTestServer(t)
	ts.user("u1")
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/scans", scanAt("u1", "in", "Aurora Norte", 9, 0)).Code)

	rec := ts.do(http.MethodGet, "/api/attendance/aurora-norte/"+testDay.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 1)

	rec = ts.do(http.MethodGet, "/api/reports/attendance?from="+testDay.String()+"&to="+testDay.String()+"&format=xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotZero(t, rec.Body.Len())
}

func TestSweepAbsences(t *testing.T) {
	ts := setupTestServer(t)
	ts.user("u1")
	ts.event("h1", "hacienda", "Hacienda", testDay.Prev().At(9, 0, testZone), testDay.Prev().At(13, 0, testZone))
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/events/h1/invitations", InviteRequest{UserIDs: []string{"u1"}}).Code)

	rec := ts.do(http.MethodPost, "/api/admin/absences/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decodeBody[attendance.SweepResult](t, rec).Marked)

	rec = ts.do(http.MethodGet, "/api/admin/absences/last", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"trigger":"manual"`)

	rec = ts.do(http.MethodPost, "/api/admin/absences/sweep", SweepRequest{LookbackDays: 500})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestThresholdsAndCategories(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(http.MethodGet, "/api/admin/thresholds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tiers"`)

	rec = ts.do(http.MethodGet, "/api/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cats := decodeBody[[]CategoryDTO](t, rec)
	assert.NotEmpty(t, cats)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenario_PadrinoRanks(t *testing.T) {
	// GIVEN: The padrino-ranks scenario
	// WHEN: Reading each member's eligibility
	// THEN: maria, jose and carmen rank 4, 3 and 1

	ts := setupTestServer(t)
	rec := ts.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "padrino-ranks"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for user, tier := range map[string]int{"maria": 4, "jose": 3, "carmen": 1} {
		rec := ts.do(http.MethodGet, "/api/users/"+user+"/eligibility", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		snap := decodeBody[struct {
			Tier int `json:"tier"`
		}](t, rec)
		assert.Equal(t, tier, snap.Tier, user)
	}

	rec = ts.do(http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "padrino-ranks", decodeBody[ScenarioDTO](t, rec).ID)
}

func TestScenario_AllLoadWithoutError(t *testing.T) {
	ts := setupTestServer(t)
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: s.ID})
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		})
	}

	rec := ts.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenario_ResetClearsUsers(t *testing.T) {
	ts := setupTestServer(t)
	ts.user("u1")

	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/scenarios/reset", nil).Code)

	rec := ts.do(http.MethodGet, "/api/users", nil)
	assert.Empty(t, decodeBody[[]UserDTO](t, rec))
}
