package visibility

import (
	"sort"

	"github.com/yungbote/diagramlab-backend/internal/types"
)

// AddPedagogicalHints appends low-priority "before" constraints derived from
// an externally suggested reveal order, plus any explicit hint constraints,
// then re-sorts the list by priority (stable, descending). The input slice
// is not mutated; hints may be applied at most once per session.
//
// The reordering affects presentation and debug output only. The resolver
// enforces by constraint type, so a hint cannot override mutex or an
// existing sequence rule.
func AddPedagogicalHints(cfg PriorityConfig, constraints []types.TemporalConstraint, suggestedOrder []string, hints []types.TemporalConstraint) []types.TemporalConstraint {
	out := make([]types.TemporalConstraint, len(constraints), len(constraints)+len(suggestedOrder)+len(hints))
	copy(out, constraints)

	for i := 0; i+1 < len(suggestedOrder); i++ {
		a, b := suggestedOrder[i], suggestedOrder[i+1]
		if a == "" || b == "" || a == b {
			continue
		}
		out = append(out, types.TemporalConstraint{
			ZoneA:    a,
			ZoneB:    b,
			Type:     types.ConstraintBefore,
			Reason:   ReasonPedagogicalOrder,
			Priority: cfg.Pedagogical,
		})
	}

	for _, h := range hints {
		if h.ZoneA == "" || h.ZoneB == "" || h.ZoneA == h.ZoneB {
			continue
		}
		if h.Priority == 0 {
			h.Priority = cfg.Pedagogical
		}
		if h.Type == "" {
			h.Type = types.ConstraintBefore
		}
		out = append(out, h)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}
