package gcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/yungbote/diagramlab-backend/internal/logger"
	"github.com/yungbote/diagramlab-backend/internal/types"
)

const VisionModelID = "gcp_vision_v1"

// Detection methods. "auto" requests object localization and text regions
// together; the other two restrict the request to a single feature and are
// used by the detection worker when rotating strategies.
const (
	MethodAuto               = "auto"
	MethodObjectLocalization = "object_localization"
	MethodTextRegions        = "text_regions"
)

type AnnotateInput struct {
	Image          []byte
	ExpectedLabels []string
	// Hierarchy maps a parent label to its child labels, as supplied by the
	// domain knowledge source.
	Hierarchy map[string][]string
	Subject   string
	Method    string
}

type AnnotateOutput struct {
	Zones           []types.Zone
	Groups          []types.ZoneGroup
	ValidationScore float64
	Model           string
	Duration        time.Duration
}

// ZoneAnnotator turns a diagram image into raw labelable zones.
type ZoneAnnotator interface {
	AnnotateZones(ctx context.Context, in AnnotateInput) (*AnnotateOutput, error)
	Close() error
}

type zoneAnnotator struct {
	log          *logger.Logger
	visionClient *vision.ImageAnnotatorClient
}

func NewZoneAnnotator(log *logger.Logger) (ZoneAnnotator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	ctx := context.Background()
	vClient, err := vision.NewImageAnnotatorClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &zoneAnnotator{
		log:          log.With("client", "ZoneAnnotator"),
		visionClient: vClient,
	}, nil
}

func (s *zoneAnnotator) Close() error {
	if s == nil || s.visionClient == nil {
		return nil
	}
	return s.visionClient.Close()
}

func (s *zoneAnnotator) AnnotateZones(ctx context.Context, in AnnotateInput) (*AnnotateOutput, error) {
	if len(in.Image) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var feats []*visionpb.Feature
	switch in.Method {
	case MethodObjectLocalization:
		feats = []*visionpb.Feature{{Type: visionpb.Feature_OBJECT_LOCALIZATION, MaxResults: 50}}
	case MethodTextRegions:
		feats = []*visionpb.Feature{{Type: visionpb.Feature_TEXT_DETECTION, MaxResults: 100}}
	default:
		feats = []*visionpb.Feature{
			{Type: visionpb.Feature_OBJECT_LOCALIZATION, MaxResults: 50},
			{Type: visionpb.Feature_TEXT_DETECTION, MaxResults: 100},
		}
	}

	br := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image:    &visionpb.Image{Content: in.Image},
				Features: feats,
			},
		},
	}
	resp, err := s.visionClient.BatchAnnotateImages(ctx, br)
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, fmt.Errorf("vision returned no responses")
	}
	r := resp.Responses[0]
	if r.Error != nil {
		return nil, fmt.Errorf("vision annotation error: %s", r.Error.Message)
	}

	zones, confSum, confN := s.zonesFromResponse(r, in.ExpectedLabels)
	groups := applyHierarchy(zones, in.Hierarchy)

	out := &AnnotateOutput{
		Zones:           zones,
		Groups:          groups,
		ValidationScore: validationScore(zones, in.ExpectedLabels, confSum, confN),
		Model:           VisionModelID,
		Duration:        time.Since(start),
	}
	s.log.Debug("annotated zones",
		"zones", len(out.Zones),
		"score", out.ValidationScore,
		"method", in.Method,
		"duration_ms", out.Duration.Milliseconds(),
	)
	return out, nil
}

// zonesFromResponse maps localized objects to polygon zones and label-text
// hits to circle zones, keeping at most one zone per expected label.
func (s *zoneAnnotator) zonesFromResponse(r *visionpb.AnnotateImageResponse, expected []string) ([]types.Zone, float64, int) {
	var (
		zones   []types.Zone
		confSum float64
		confN   int
	)
	taken := make(map[string]bool)
	next := 0

	addZone := func(z types.Zone, conf float64) {
		key := strings.ToLower(z.Label)
		if taken[key] {
			return
		}
		taken[key] = true
		next++
		z.ID = fmt.Sprintf("zone_%d", next)
		z.Scene = 1
		z.Level = 1
		zones = append(zones, z)
		if conf > 0 {
			confSum += conf
			confN++
		}
	}

	for _, obj := range r.LocalizedObjectAnnotations {
		label, ok := matchLabel(obj.Name, expected)
		if !ok {
			continue
		}
		poly := normalizedPolygon(obj.BoundingPoly)
		if len(poly) < 3 {
			continue
		}
		addZone(types.Zone{
			Label:   label,
			Shape:   types.ZoneShapePolygon,
			Polygon: poly,
		}, float64(obj.Score))
	}

	// First text annotation is the full-image transcript; skip it.
	for i, txt := range r.TextAnnotations {
		if i == 0 {
			continue
		}
		label, ok := matchLabel(txt.Description, expected)
		if !ok {
			continue
		}
		cx, cy, radius := circleFromPoly(txt.BoundingPoly)
		addZone(types.Zone{
			Label:  label,
			Shape:  types.ZoneShapeCircle,
			Circle: &types.CircleCoords{CX: cx, CY: cy, Radius: radius},
		}, 0)
	}

	return zones, confSum, confN
}

// applyHierarchy assigns parent links and levels from the domain hierarchy
// hints and returns the derived zone groups in a stable order.
func applyHierarchy(zones []types.Zone, hierarchy map[string][]string) []types.ZoneGroup {
	if len(zones) == 0 || len(hierarchy) == 0 {
		return nil
	}
	byLabel := make(map[string]int, len(zones))
	for i, z := range zones {
		byLabel[strings.ToLower(z.Label)] = i
	}

	parents := make([]string, 0, len(hierarchy))
	for p := range hierarchy {
		parents = append(parents, p)
	}
	sort.Strings(parents)

	var groups []types.ZoneGroup
	for _, parentLabel := range parents {
		pi, ok := byLabel[strings.ToLower(parentLabel)]
		if !ok {
			continue
		}
		g := types.ZoneGroup{ParentID: zones[pi].ID}
		for _, childLabel := range hierarchy[parentLabel] {
			ci, ok := byLabel[strings.ToLower(childLabel)]
			if !ok || ci == pi {
				continue
			}
			zones[ci].ParentID = zones[pi].ID
			zones[ci].Level = zones[pi].Level + 1
			g.Children = append(g.Children, zones[ci].ID)
		}
		if len(g.Children) > 0 {
			groups = append(groups, g)
		}
	}
	return groups
}

// validationScore blends label coverage with mean annotation confidence.
func validationScore(zones []types.Zone, expected []string, confSum float64, confN int) float64 {
	if len(expected) == 0 {
		if len(zones) > 0 {
			return 1
		}
		return 0
	}
	found := make(map[string]bool, len(zones))
	for _, z := range zones {
		found[strings.ToLower(z.Label)] = true
	}
	matched := 0
	for _, l := range expected {
		if found[strings.ToLower(l)] {
			matched++
		}
	}
	coverage := float64(matched) / float64(len(expected))
	if confN == 0 {
		return coverage
	}
	return 0.7*coverage + 0.3*(confSum/float64(confN))
}

func matchLabel(name string, expected []string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", false
	}
	for _, l := range expected {
		ll := strings.ToLower(l)
		if n == ll || strings.Contains(n, ll) || strings.Contains(ll, n) {
			return l, true
		}
	}
	return "", false
}

func normalizedPolygon(bp *visionpb.BoundingPoly) []types.Point {
	if bp == nil {
		return nil
	}
	if len(bp.NormalizedVertices) > 0 {
		out := make([]types.Point, 0, len(bp.NormalizedVertices))
		for _, v := range bp.NormalizedVertices {
			out = append(out, types.Point{X: float64(v.X), Y: float64(v.Y)})
		}
		return out
	}
	out := make([]types.Point, 0, len(bp.Vertices))
	for _, v := range bp.Vertices {
		out = append(out, types.Point{X: float64(v.X), Y: float64(v.Y)})
	}
	return out
}

func circleFromPoly(bp *visionpb.BoundingPoly) (cx, cy, radius float64) {
	pts := normalizedPolygon(bp)
	if len(pts) == 0 {
		return 0, 0, 0
	}
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := pts[0].X, pts[0].Y
	for _, p := range pts[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	cx = (minX + maxX) / 2
	cy = (minY + maxY) / 2
	radius = (maxX - minX + maxY - minY) / 4
	if radius <= 0 {
		radius = 0.01
	}
	return cx, cy, radius
}
