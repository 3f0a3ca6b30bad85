package visibility

import (
	"fmt"
	"sort"

	"github.com/yungbote/diagramlab-backend/internal/types"
)

const (
	ReasonParentChild        = "parent_child_hierarchy"
	ReasonSiblings           = "sibling_zones"
	ReasonIntentionalLayer   = "intentional_layering"
	ReasonSameHierarchyTree  = "same_hierarchy_tree"
	ReasonSpatialOverlap     = "spatial_overlap_different_hierarchy"
	ReasonSceneBoundary      = "scene_boundary"
	ReasonPedagogicalOrder   = "pedagogical_order"
)

const DiagMalformedHierarchy = "malformed_hierarchy"

// Diagnostic records a defensively-absorbed data problem, e.g. a cyclic
// parent chain. Diagnostics never abort generation.
type Diagnostic struct {
	Kind   string `json:"kind"`
	ZoneID string `json:"zone_id,omitempty"`
	Detail string `json:"detail"`
}

type GenerateResult struct {
	Constraints []types.TemporalConstraint `json:"constraints"`
	Diagnostics []Diagnostic               `json:"diagnostics,omitempty"`
}

// Generator derives temporal visibility constraints from zone hierarchy and
// spatial overlap. It is pure: no state survives a Generate call.
type Generator struct {
	cfg PriorityConfig
}

func NewGenerator(cfg PriorityConfig) *Generator {
	return &Generator{cfg: cfg}
}

// Generate produces the priority-ordered constraint list for one scene.
// Rules, in order:
//  1. concurrent for every parent-child pair and every sibling pair
//  2. overlapping pairs at or above the IoU floor classify to
//     skip (already related) / concurrent (layered, same tree) /
//     mutex (unrelated hierarchies, the anti-clutter rule)
//  3. stable sort by priority descending
func (g *Generator) Generate(zones []types.Zone, groups []types.ZoneGroup, collision *types.CollisionMetadata, scene int) GenerateResult {
	var res GenerateResult

	scoped := zones
	if scene > 0 {
		scoped = make([]types.Zone, 0, len(zones))
		for _, z := range zones {
			if z.Scene == scene {
				scoped = append(scoped, z)
			}
		}
	}

	idx := buildHierarchyIndex(scoped, groups)

	emitted := make(map[string]bool)
	emit := func(a, b string, ctype types.ConstraintType, reason string, priority int) {
		if a == "" || b == "" || a == b {
			return
		}
		key := pairKey(a, b)
		if emitted[key] {
			return
		}
		emitted[key] = true
		res.Constraints = append(res.Constraints, types.TemporalConstraint{
			ZoneA:    a,
			ZoneB:    b,
			Type:     ctype,
			Reason:   reason,
			Priority: priority,
		})
	}

	// Hierarchy pass: parent-child then siblings, in index order.
	for _, parent := range idx.parents {
		children := idx.children[parent]
		for _, c := range children {
			emit(parent, c, types.ConstraintConcurrent, ReasonParentChild, g.cfg.Hierarchy)
		}
		for i := 0; i < len(children); i++ {
			for j := i + 1; j < len(children); j++ {
				emit(children[i], children[j], types.ConstraintConcurrent, ReasonSiblings, g.cfg.Hierarchy)
			}
		}
	}

	// Overlap pass.
	if collision != nil {
		for _, p := range collision.Pairs {
			if p.IoU < g.cfg.MinOverlapIoU {
				continue
			}
			if _, okA := idx.zones[p.ZoneA]; !okA {
				continue
			}
			if _, okB := idx.zones[p.ZoneB]; !okB {
				continue
			}
			if emitted[pairKey(p.ZoneA, p.ZoneB)] {
				// parent-child or sibling pairs are already covered above
				continue
			}
			switch {
			case idx.related(p.ZoneA, p.ZoneB):
				continue
			case p.IntentionalLayering:
				emit(p.ZoneA, p.ZoneB, types.ConstraintConcurrent, ReasonIntentionalLayer, g.cfg.Hierarchy)
			case idx.sameTree(p.ZoneA, p.ZoneB, &res.Diagnostics):
				emit(p.ZoneA, p.ZoneB, types.ConstraintConcurrent, ReasonSameHierarchyTree, g.cfg.SameTree)
			default:
				emit(p.ZoneA, p.ZoneB, types.ConstraintMutex, ReasonSpatialOverlap, g.cfg.SpatialMutex)
			}
		}
	}

	sort.SliceStable(res.Constraints, func(i, j int) bool {
		return res.Constraints[i].Priority > res.Constraints[j].Priority
	})
	return res
}

type hierarchyIndex struct {
	zones    map[string]types.Zone
	parents  []string            // parent ids in first-seen order
	children map[string][]string // parent -> ordered children
	parentOf map[string]string   // child -> parent
}

// buildHierarchyIndex merges the two hierarchy sources: explicit zone groups
// first, then per-zone parent fields for anything the groups missed.
func buildHierarchyIndex(zones []types.Zone, groups []types.ZoneGroup) *hierarchyIndex {
	idx := &hierarchyIndex{
		zones:    make(map[string]types.Zone, len(zones)),
		children: make(map[string][]string),
		parentOf: make(map[string]string),
	}
	for _, z := range zones {
		idx.zones[z.ID] = z
	}

	addChild := func(parent, child string) {
		if parent == "" || child == "" || parent == child {
			return
		}
		if _, ok := idx.zones[parent]; !ok {
			return
		}
		if _, ok := idx.zones[child]; !ok {
			return
		}
		if _, ok := idx.parentOf[child]; ok {
			return
		}
		if _, ok := idx.children[parent]; !ok {
			idx.parents = append(idx.parents, parent)
		}
		idx.children[parent] = append(idx.children[parent], child)
		idx.parentOf[child] = parent
	}

	for _, g := range groups {
		for _, c := range g.Children {
			addChild(g.ParentID, c)
		}
	}
	for _, z := range zones {
		addChild(z.ParentID, z.ID)
	}
	return idx
}

// related reports a direct parent-child or shared-parent sibling relation.
func (idx *hierarchyIndex) related(a, b string) bool {
	if idx.parentOf[a] == b || idx.parentOf[b] == a {
		return true
	}
	pa, okA := idx.parentOf[a]
	pb, okB := idx.parentOf[b]
	return okA && okB && pa == pb
}

// sameTree reports whether both zones resolve to the same root ancestor.
func (idx *hierarchyIndex) sameTree(a, b string, diags *[]Diagnostic) bool {
	ra, okA := idx.rootAncestor(a, diags)
	rb, okB := idx.rootAncestor(b, diags)
	return okA && okB && ra == rb
}

// rootAncestor walks child->parent with a visited set so a cyclic or
// malformed parent graph terminates. A cycle yields a MalformedHierarchy
// diagnostic and the zone is treated as rootless.
func (idx *hierarchyIndex) rootAncestor(id string, diags *[]Diagnostic) (string, bool) {
	visited := make(map[string]bool)
	cur := id
	for {
		if visited[cur] {
			if diags != nil {
				*diags = append(*diags, Diagnostic{
					Kind:   DiagMalformedHierarchy,
					ZoneID: id,
					Detail: fmt.Sprintf("cyclic parent chain at %q", cur),
				})
			}
			return "", false
		}
		visited[cur] = true
		parent, ok := idx.parentOf[cur]
		if !ok || parent == "" {
			return cur, true
		}
		cur = parent
	}
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}
