package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/generic"
	"github.com/warp/attendance-engine/generic/store"
	"github.com/warp/attendance-engine/logging"
	"github.com/warp/attendance-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// orgZone stands in for the organizational timezone (UTC-6, no DST).
var orgZone = time.FixedZone("CST", -6*60*60)

// day0 is Monday 2025-03-03 in the organizational timezone.
var day0 = generic.Date("2025-03-03")

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   generic.TreeStore
	clock   *generic.FixedClock
	engine  *attendance.Engine
	users   *attendance.Directory
	catalog *attendance.TreeCatalog
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, store.NewMemory(), attendance.LatenessConfig{})
}

func newFixtureWith(t *testing.T, s generic.TreeStore, lateness attendance.LatenessConfig) *fixture {
	t.Helper()
	clock := &generic.FixedClock{At: day0.At(12, 0, orgZone), Loc: orgZone}
	catalog := attendance.NewTreeCatalog(s, orgZone)
	engine, err := attendance.NewEngine(attendance.EngineConfig{
		Store:    s,
		Clock:    clock,
		Catalog:  catalog,
		Lateness: lateness,
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	return &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   s,
		clock:   clock,
		engine:  engine,
		users:   attendance.NewDirectory(s),
		catalog: catalog,
	}
}

// storeBackends lists every tree store implementation the engine runs on.
var storeBackends = []struct {
	name string
	open func(t *testing.T) generic.TreeStore
}{
	{"memory", func(*testing.T) generic.TreeStore { return store.NewMemory() }},
	{"sqlite", func(t *testing.T) generic.TreeStore {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}},
}

// runOnStores runs fn once per tree store implementation.
func runOnStores(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for _, b := range storeBackends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, newFixtureWith(t, b.open(t), attendance.LatenessConfig{}))
		})
	}
}

// at returns hh:mm on day0+day in the organizational timezone.
func at(day, hour, minute int) time.Time {
	return day0.AddDays(day).At(hour, minute, orgZone)
}

func (f *fixture) user(ids ...string) {
	f.t.Helper()
	for _, id := range ids {
		require.NoError(f.t, f.users.Save(f.ctx, attendance.User{ID: id, Name: "User " + id}))
	}
}

func (f *fixture) event(id string, cat attendance.Category, location string, start, end time.Time, invitees ...string) attendance.ScheduledEvent {
	f.t.Helper()
	e := attendance.ScheduledEvent{
		ID:       id,
		Title:    "Event " + id,
		Start:    start,
		End:      end,
		Location: location,
		Category: cat,
	}
	require.NoError(f.t, f.catalog.SaveEvent(f.ctx, e))
	if len(invitees) > 0 {
		require.NoError(f.t, f.catalog.Invite(f.ctx, id, invitees))
	}
	return e
}

func (f *fixture) in(userID, location string, ts time.Time) (attendance.Result, error) {
	return f.engine.Reconcile(f.ctx, attendance.ScanRequest{
		UserID: userID, Mode: attendance.ModeIn, Location: location, Timestamp: ts,
	})
}

func (f *fixture) out(userID, location string, ts time.Time) (attendance.Result, error) {
	return f.engine.Reconcile(f.ctx, attendance.ScanRequest{
		UserID: userID, Mode: attendance.ModeOut, Location: location, Timestamp: ts,
	})
}

func (f *fixture) load(userID string) *attendance.User {
	f.t.Helper()
	u, err := f.users.Get(f.ctx, userID)
	require.NoError(f.t, err)
	return u
}

func (f *fixture) openSessions(userID string) []string {
	var keys []string
	for k, s := range f.load(userID).Sessions {
		if s.Open() {
			keys = append(keys, k)
		}
	}
	return keys
}

// records returns the attendance log of a location for a day.
func (f *fixture) records(location string, d generic.Date) map[string]attendance.AttendanceRecord {
	f.t.Helper()
	raw, err := f.store.Read(f.ctx, generic.Join("attendance", attendance.LocationKey(location), string(d)))
	require.NoError(f.t, err)
	out := make(map[string]attendance.AttendanceRecord)
	require.NoError(f.t, generic.Decode(raw, &out))
	return out
}

func (f *fixture) snapshot() any {
	f.t.Helper()
	root, err := f.store.Read(f.ctx, "")
	require.NoError(f.t, err)
	return root
}

// =============================================================================
// FLAKY STORE - Non-atomic batches that can fail part-way
// =============================================================================

// flakyStore applies batch updates one at a time. When armed, the batch
// fails with a partial write right before update failAt.
type flakyStore struct {
	*store.Memory
	armed     bool
	failAt    int
	lastPaths []string
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Memory: store.NewMemory()}
}

func (s *flakyStore) Atomic() bool { return false }

func (s *flakyStore) arm(failAt int) {
	s.armed, s.failAt = true, failAt
}

func (s *flakyStore) BatchWrite(ctx context.Context, b generic.Batch) error {
	s.lastPaths = b.Paths()
	for i, u := range b.Updates {
		if s.armed && i == s.failAt {
			s.armed = false
			return &generic.PartialWriteError{Applied: i, Total: b.Len(), Cause: generic.ErrStoreUnavailable}
		}
		if err := s.Memory.Write(ctx, u.Path, u.Value); err != nil {
			return err
		}
	}
	return nil
}
