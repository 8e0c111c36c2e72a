/*
Package report aggregates attendance logs for administrators.

PURPOSE:
  Reads attendance/{location}/{date} logs over a date range and folds them
  into per-user summaries. Reports are read-only; they never touch stats.

OUTPUT:
  - Report (JSON via the API)
  - XLSX workbook with a "Resumen" and a "Registros" sheet (xlsx.go)

USAGE:
  b := report.NewBuilder(store, loc)
  r, err := b.Attendance(ctx, "Aurora", from, to)
  err = report.WriteXLSX(w, r)
*/
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/generic"
)

// maxRangeDays bounds a single report request.
const maxRangeDays = 366

// Row is one attendance record in the report.
type Row struct {
	Date        generic.Date        `json:"date"`
	LocationKey string              `json:"locationKey"`
	SessionKey  string              `json:"sessionKey"`
	UserID      string              `json:"userId"`
	UserName    string              `json:"userName"`
	Category    attendance.Category `json:"category"`
	EventID     string              `json:"eventId,omitempty"`
	EventTitle  string              `json:"eventTitle,omitempty"`
	Location    string              `json:"location"`
	ClockIn     time.Time           `json:"clockIn"`
	ClockOut    *time.Time          `json:"clockOut,omitempty"`
	Hours       float64             `json:"hours"`
	Late        bool                `json:"late"`
	MinutesLate int                 `json:"minutesLate"`
	Clamped     bool                `json:"hoursClamped,omitempty"`
	AutoClosed  bool                `json:"autoClosed,omitempty"`
}

// UserSummary folds a user's rows.
type UserSummary struct {
	UserID   string  `json:"userId"`
	UserName string  `json:"userName"`
	Sessions int     `json:"sessions"`
	Open     int     `json:"open"`
	Late     int     `json:"late"`
	Hours    float64 `json:"hours"`
}

// Report is the result of Attendance.
type Report struct {
	Location string        `json:"location,omitempty"`
	From     generic.Date  `json:"from"`
	To       generic.Date  `json:"to"`
	Users    []UserSummary `json:"users"`
	Rows     []Row         `json:"rows"`
}

// Builder reads attendance logs from the tree store.
type Builder struct {
	Store generic.TreeStore
	Loc   *time.Location
}

func NewBuilder(store generic.TreeStore, loc *time.Location) *Builder {
	return &Builder{Store: store, Loc: loc}
}

// Attendance builds the report for one location, or every registered
// location when location is empty, over [from, to].
func (b *Builder) Attendance(ctx context.Context, location string, from, to generic.Date) (*Report, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("report range: %s is before %s", to, from)
	}
	dates := generic.DatesBetween(from, to)
	if len(dates) > maxRangeDays {
		return nil, fmt.Errorf("report range: %d days exceeds %d", len(dates), maxRangeDays)
	}

	locKeys, err := b.locations(ctx, location)
	if err != nil {
		return nil, err
	}

	r := &Report{Location: location, From: from, To: to, Rows: []Row{}}
	for _, lk := range locKeys {
		for _, d := range dates {
			rows, err := b.dayRows(ctx, lk, d)
			if err != nil {
				return nil, err
			}
			r.Rows = append(r.Rows, rows...)
		}
	}
	sort.Slice(r.Rows, func(i, j int) bool {
		if !r.Rows[i].ClockIn.Equal(r.Rows[j].ClockIn) {
			return r.Rows[i].ClockIn.Before(r.Rows[j].ClockIn)
		}
		return r.Rows[i].SessionKey < r.Rows[j].SessionKey
	})
	r.Users = summarize(r.Rows)
	return r, nil
}

// Day returns the raw records of one location's log, keyed by session key.
func (b *Builder) Day(ctx context.Context, location string, d generic.Date) ([]Row, error) {
	key := attendance.LocationKey(location)
	if key == "" {
		return nil, fmt.Errorf("location is required")
	}
	return b.dayRows(ctx, key, d)
}

func (b *Builder) locations(ctx context.Context, location string) ([]string, error) {
	if location != "" {
		return []string{attendance.LocationKey(location)}, nil
	}
	raw, err := b.Store.Read(ctx, "locations")
	if err != nil {
		return nil, fmt.Errorf("read location registry: %w", err)
	}
	var keys []string
	for k := range generic.Children(raw) {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *Builder) dayRows(ctx context.Context, locKey string, d generic.Date) ([]Row, error) {
	raw, err := b.Store.Read(ctx, generic.Join("attendance", locKey, string(d)))
	if err != nil {
		return nil, fmt.Errorf("read attendance log %s/%s: %w", locKey, d, err)
	}
	var rows []Row
	for key, node := range generic.Children(raw) {
		var rec attendance.AttendanceRecord
		if err := generic.Decode(node, &rec); err != nil {
			return nil, fmt.Errorf("decode attendance record %s: %w", key, err)
		}
		row := Row{
			Date:        d,
			LocationKey: locKey,
			SessionKey:  key,
			UserID:      rec.UserID,
			UserName:    rec.UserName,
			Category:    rec.EventType,
			EventID:     rec.EventID,
			EventTitle:  rec.EventTitle,
			Location:    rec.Location,
			ClockIn:     rec.ClockInTime,
			ClockOut:    rec.ClockOutTime,
			Late:        rec.Late,
			MinutesLate: rec.MinutesLate,
			Clamped:     rec.HoursClamped,
			AutoClosed:  rec.AutoClosed,
		}
		if rec.HoursWorked != nil {
			row.Hours = *rec.HoursWorked
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SessionKey < rows[j].SessionKey })
	return rows, nil
}

func summarize(rows []Row) []UserSummary {
	byUser := make(map[string]*UserSummary)
	hours := make(map[string]decimal.Decimal)
	for _, row := range rows {
		s, ok := byUser[row.UserID]
		if !ok {
			s = &UserSummary{UserID: row.UserID, UserName: row.UserName}
			byUser[row.UserID] = s
		}
		s.Sessions++
		if row.ClockOut == nil {
			s.Open++
		}
		if row.Late {
			s.Late++
		}
		hours[row.UserID] = hours[row.UserID].Add(decimal.NewFromFloat(row.Hours))
	}

	out := make([]UserSummary, 0, len(byUser))
	for id, s := range byUser {
		s.Hours = hours[id].Round(2).InexactFloat64()
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
