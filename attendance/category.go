/*
category.go - Attendance category registration and lookup

PURPOSE:
  Categories tag both scheduled events and attendance records. Some are
  tracked for padrino eligibility, some span several days (retreats), and
  one is the fallback used when a scan resolves no event.

HOW IT WORKS:
  1. Built-in categories register on init()
  2. Deployments may register more at startup
  3. Unknown tags are still accepted as free text (LookupCategory returns ok=false)

BUILT-IN CATEGORIES:
  hacienda       tracked, high-frequency
  taller         tracked, workshops
  reunion_grupo  tracked, group meetings
  retiro         multi-day retreat
  general        fallback "general attendance"

SEE ALSO:
  - resolver.go: Multi-day handling
  - padrino/calculator.go: Tracked categories
*/
package attendance

import (
	"sort"
	"sync"
)

// Category is a free-text tag; registered categories carry attributes.
type Category string

func (c Category) String() string { return string(c) }

const (
	CategoryHacienda     Category = "hacienda"
	CategoryWorkshop     Category = "taller"
	CategoryGroupMeeting Category = "reunion_grupo"
	CategoryRetreat      Category = "retiro"
	CategoryGeneral      Category = "general"
)

// CategoryInfo describes a registered category.
type CategoryInfo struct {
	ID       Category
	Label    string
	MultiDay bool // validity may span several calendar days
	Tracked  bool // counted by the eligibility calculator
}

// =============================================================================
// CATEGORY REGISTRY
// =============================================================================

var (
	categoryRegistry = make(map[Category]CategoryInfo)
	registryMu       sync.RWMutex
)

func init() {
	RegisterCategory(CategoryInfo{ID: CategoryHacienda, Label: "Hacienda", Tracked: true})
	RegisterCategory(CategoryInfo{ID: CategoryWorkshop, Label: "Taller", Tracked: true})
	RegisterCategory(CategoryInfo{ID: CategoryGroupMeeting, Label: "Reunión de grupo", Tracked: true})
	RegisterCategory(CategoryInfo{ID: CategoryRetreat, Label: "Retiro", MultiDay: true})
	RegisterCategory(CategoryInfo{ID: CategoryGeneral, Label: "Asistencia general"})
}

// RegisterCategory adds or replaces a category.
func RegisterCategory(info CategoryInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	categoryRegistry[info.ID] = info
}

// LookupCategory finds a registered category.
func LookupCategory(id Category) (CategoryInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := categoryRegistry[id]
	return info, ok
}

// IsMultiDay reports whether events of this category may span several days.
func IsMultiDay(id Category) bool {
	info, ok := LookupCategory(id)
	return ok && info.MultiDay
}

// ListCategories returns all registered categories sorted by id.
func ListCategories() []CategoryInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]CategoryInfo, 0, len(categoryRegistry))
	for _, info := range categoryRegistry {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TrackedCategories returns the categories counted for eligibility, sorted by id.
func TrackedCategories() []Category {
	var out []Category
	for _, info := range ListCategories() {
		if info.Tracked {
			out = append(out, info.ID)
		}
	}
	return out
}
