package attendance

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/warp/attendance-engine/generic"
)

// Directory reads and writes User roots.
type Directory struct {
	Store generic.TreeStore
}

func NewDirectory(store generic.TreeStore) *Directory {
	return &Directory{Store: store}
}

// Get loads a user with stats, sessions and events. Missing users yield ErrUserNotFound.
func (d *Directory) Get(ctx context.Context, userID string) (*User, error) {
	if err := validateID(userID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserNotFound, err)
	}
	raw, err := d.Store.Read(ctx, userPath(userID))
	if err != nil {
		return nil, fmt.Errorf("read user %s: %w", userID, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return decodeUser(userID, raw)
}

// Save creates or updates profile fields. Stats, sessions and events are
// never overwritten; a new user starts with zeroed stats.
func (d *Directory) Save(ctx context.Context, u User) error {
	if err := validateID(u.ID); err != nil {
		return err
	}
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("user name is required")
	}
	if u.Status == "" {
		u.Status = StatusActive
	}

	existing, err := d.Store.Read(ctx, statsPath(u.ID))
	if err != nil {
		return fmt.Errorf("read user %s: %w", u.ID, err)
	}

	var b generic.Batch
	b.Set(generic.Join(userPath(u.ID), "name"), u.Name)
	b.Set(generic.Join(userPath(u.ID), "status"), string(u.Status))
	if u.Location != "" {
		b.Set(userLocationPath(u.ID), u.Location)
	}
	if existing == nil {
		// Zero counters are written explicitly so the stats node exists.
		b.Set(statsPath(u.ID), map[string]any{
			"daysPresent": 0, "daysAbsent": 0, "daysLate": 0,
			"totalHours": 0, "onTimeRate": 0, "attendanceRate": 0,
		})
	}
	return d.Store.BatchWrite(ctx, b)
}

// List returns every user sorted by id.
func (d *Directory) List(ctx context.Context) ([]User, error) {
	raw, err := d.Store.Read(ctx, rootUsers)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	children := generic.Children(raw)
	users := make([]User, 0, len(children))
	for id, node := range children {
		u, err := decodeUser(id, node)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// IDs returns every user id, sorted.
func (d *Directory) IDs(ctx context.Context) ([]string, error) {
	users, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids, nil
}

func decodeUser(id string, raw any) (*User, error) {
	var u User
	if err := generic.Decode(raw, &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	u.ID = id
	return &u, nil
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("id is required")
	}
	if err := generic.ValidatePath(id); err != nil || strings.Contains(id, "/") {
		return fmt.Errorf("id %q contains reserved characters", id)
	}
	return nil
}
