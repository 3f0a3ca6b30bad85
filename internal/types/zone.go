package types

// ZoneShape is the geometry kind of a labelable diagram region.
type ZoneShape string

const (
	ZoneShapeCircle  ZoneShape = "circle"
	ZoneShapePolygon ZoneShape = "polygon"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type CircleCoords struct {
	CX     float64 `json:"cx"`
	CY     float64 `json:"cy"`
	Radius float64 `json:"radius"`
}

// Zone is a labelable interactive region on a generated diagram. Identity and
// coordinates are fixed once the detection/collision phases have produced it.
type Zone struct {
	ID      string        `json:"id"`
	Label   string        `json:"label"`
	Shape   ZoneShape     `json:"shape"`
	Circle  *CircleCoords `json:"circle,omitempty"`
	Polygon []Point       `json:"polygon,omitempty"`
	Scene   int           `json:"scene"`
	// Level is the hierarchy nesting depth, 1 = root structure.
	Level    int    `json:"level"`
	ParentID string `json:"parent_id,omitempty"`
}

// IsRoot reports whether the zone is a root candidate: level 1 or no parent.
func (z Zone) IsRoot() bool {
	return z.Level == 1 || z.ParentID == ""
}

// ZoneGroup maps a parent zone to its ordered child zones. Groups come from
// two independent sources (domain hierarchy data and per-zone parent fields)
// and are merged by the constraint generator.
type ZoneGroup struct {
	ParentID string   `json:"parent_id"`
	Children []string `json:"children"`
}
