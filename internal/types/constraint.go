package types

import "encoding/json"

type ConstraintType string

const (
	ConstraintMutex      ConstraintType = "mutex"
	ConstraintConcurrent ConstraintType = "concurrent"
	ConstraintBefore     ConstraintType = "before"
	ConstraintSequence   ConstraintType = "sequence"
)

// TemporalConstraint is a visibility rule between two zones. Mutex is
// symmetric; before/sequence are directed ZoneA -> ZoneB. Priority orders the
// generated list (higher first); enforcement is driven by Type only.
type TemporalConstraint struct {
	ZoneA    string         `json:"zone_a"`
	ZoneB    string         `json:"zone_b"`
	Type     ConstraintType `json:"constraint_type"`
	Reason   string         `json:"reason"`
	Priority int            `json:"priority"`
}

// OverlapPair is one spatial intersection reported by the collision resolver.
type OverlapPair struct {
	ZoneA string  `json:"zone_a"`
	ZoneB string  `json:"zone_b"`
	IoU   float64 `json:"iou"`
	// IntentionalLayering marks overlaps the resolver kept on purpose
	// (e.g. a membrane drawn over the structure it encloses).
	IntentionalLayering bool `json:"intentional_layering,omitempty"`
}

// CollisionMetadata is the overlap payload returned by the external zone
// collision resolver. Raw carries the resolver's own summary untouched.
type CollisionMetadata struct {
	Pairs          []OverlapPair   `json:"pairs"`
	PreResolution  string          `json:"pre_resolution,omitempty"`
	PostResolution string          `json:"post_resolution,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}
