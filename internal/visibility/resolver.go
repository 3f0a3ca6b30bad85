package visibility

import (
	"sort"

	"github.com/yungbote/diagramlab-backend/internal/types"
)

// Resolver answers visibility queries against a finalized constraint list.
// It is constructed once per session and never mutated afterwards, so one
// instance may serve any number of concurrent queries without locking.
type Resolver struct {
	mutex      map[string]map[string]bool // symmetric adjacency
	concurrent map[string]bool            // unordered pair keys
	prereqs    map[string][]string        // zone -> before/sequence predecessors
}

func NewResolver(constraints []types.TemporalConstraint) *Resolver {
	r := &Resolver{
		mutex:      make(map[string]map[string]bool),
		concurrent: make(map[string]bool),
		prereqs:    make(map[string][]string),
	}
	addMutex := func(a, b string) {
		if r.mutex[a] == nil {
			r.mutex[a] = make(map[string]bool)
		}
		r.mutex[a][b] = true
	}
	for _, c := range constraints {
		if c.ZoneA == "" || c.ZoneB == "" || c.ZoneA == c.ZoneB {
			continue
		}
		switch c.Type {
		case types.ConstraintMutex:
			addMutex(c.ZoneA, c.ZoneB)
			addMutex(c.ZoneB, c.ZoneA)
		case types.ConstraintConcurrent:
			r.concurrent[pairKey(c.ZoneA, c.ZoneB)] = true
		case types.ConstraintBefore, types.ConstraintSequence:
			r.prereqs[c.ZoneB] = append(r.prereqs[c.ZoneB], c.ZoneA)
		}
	}
	return r
}

// MutexPartners returns the zones mutually exclusive with the given zone.
func (r *Resolver) MutexPartners(zoneID string) []string {
	partners := make([]string, 0, len(r.mutex[zoneID]))
	for p := range r.mutex[zoneID] {
		partners = append(partners, p)
	}
	sort.Strings(partners)
	return partners
}

// Concurrent reports whether the pair is explicitly allowed together.
func (r *Resolver) Concurrent(a, b string) bool {
	return r.concurrent[pairKey(a, b)]
}

// VisibleZones computes which zones may be shown given the completed set.
// The function is pure: identical inputs always produce identical outputs
// and no state is kept between calls.
//
// Enforcement is driven by constraint type only. Priority values order the
// serialized list for presentation and never gate enforcement here: a
// before/sequence prerequisite binds unconditionally, and a pedagogical
// hint can never override a mutex.
func (r *Resolver) VisibleZones(all []types.Zone, completed map[string]bool, scene int) (visible, blocked map[string]bool) {
	visible = make(map[string]bool)
	blocked = make(map[string]bool)
	if completed == nil {
		completed = map[string]bool{}
	}

	scoped := all
	if scene > 0 {
		scoped = make([]types.Zone, 0, len(all))
		for _, z := range all {
			if z.Scene == scene {
				scoped = append(scoped, z)
			}
		}
	}
	// A zone joins visible unless a mutex partner is already visible and
	// that partner is still in active contention (not itself completed).
	// A completed zone is exempt from its own mutex partners: mutex
	// governs active contention, not the historical record.
	tryAdd := func(id string) {
		if visible[id] || blocked[id] {
			return
		}
		if completed[id] {
			visible[id] = true
			return
		}
		for partner := range r.mutex[id] {
			if visible[partner] && !completed[partner] {
				blocked[id] = true
				return
			}
		}
		visible[id] = true
	}

	// Seed with root zones.
	for _, z := range scoped {
		if z.IsRoot() {
			tryAdd(z.ID)
		}
	}

	// Reveal direct children of completed zones, in a deterministic order.
	// The completed set is deliberately not scene-filtered: a parent
	// finished in an earlier scene still reveals its children here. Only
	// the candidate children are scoped to the queried scene.
	done := make([]string, 0, len(completed))
	for id := range completed {
		done = append(done, id)
	}
	sort.Strings(done)
	for _, parentID := range done {
		for _, z := range scoped {
			if z.ParentID == parentID {
				tryAdd(z.ID)
			}
		}
	}

	// Ordering post-pass: a zone whose before/sequence prerequisite has not
	// completed moves to blocked, regardless of how it became visible.
	for id := range visible {
		for _, pre := range r.prereqs[id] {
			if !completed[pre] {
				delete(visible, id)
				blocked[id] = true
				break
			}
		}
	}

	return visible, blocked
}

// ZonesToHideOnComplete is reserved for future fade-out behavior. The
// current contract is a no-op: completed zones stay visible (dimmed by the
// client) and are never eagerly hidden.
func (r *Resolver) ZonesToHideOnComplete(all []types.Zone, justCompleted string, completed map[string]bool) map[string]bool {
	return map[string]bool{}
}
