package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/yungbote/diagramlab-backend/internal/clients/gcp"
	"github.com/yungbote/diagramlab-backend/internal/types"
)

func detStore() *fakeImageStore {
	return &fakeImageStore{data: map[string][]byte{"/images/cell.png": []byte("png-bytes")}}
}

func detZones(labels ...string) []types.Zone {
	zones := make([]types.Zone, 0, len(labels))
	for i, l := range labels {
		zones = append(zones, types.Zone{
			ID:    fmt.Sprintf("zone_%d", i+1),
			Label: l,
			Shape: types.ZoneShapeCircle,
			Scene: 1,
			Level: 1,
		})
	}
	return zones
}

func TestDetectZonesAcceptsFirstGoodResult(t *testing.T) {
	annotator := &fakeAnnotator{script: []annotateCall{
		{out: &gcp.AnnotateOutput{
			Zones:           detZones("Nucleus", "Membrane"),
			ValidationScore: 0.9,
			Model:           gcp.VisionModelID,
		}},
	}}
	svc := NewDetectionService(testLog(), annotator, detStore())

	res := svc.DetectZones(context.Background(), DetectionRequest{
		ImagePath:       "/images/cell.png",
		CanonicalLabels: []string{"Nucleus", "Membrane"},
	})

	if res.Status != types.PlanStatusSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.FailureReason)
	}
	if res.Retries != 1 {
		t.Fatalf("good first attempt should not retry, got %d attempts", res.Retries)
	}
	if res.Strategy != gcp.MethodAuto {
		t.Fatalf("expected auto strategy, got %q", res.Strategy)
	}
	if res.Model != gcp.VisionModelID {
		t.Fatalf("expected model id recorded, got %q", res.Model)
	}
}

func TestDetectZonesRotatesStrategies(t *testing.T) {
	annotator := &fakeAnnotator{script: []annotateCall{
		{err: fmt.Errorf("deadline exceeded")},
		{out: &gcp.AnnotateOutput{Zones: detZones("Nucleus"), ValidationScore: 0.3}},
		{out: &gcp.AnnotateOutput{Zones: detZones("Nucleus", "Membrane"), ValidationScore: 0.8}},
	}}
	svc := NewDetectionService(testLog(), annotator, detStore())

	res := svc.DetectZones(context.Background(), DetectionRequest{
		ImagePath:       "/images/cell.png",
		CanonicalLabels: []string{"Nucleus", "Membrane"},
	})

	if res.Status != types.PlanStatusSuccess {
		t.Fatalf("expected success on third attempt, got %s", res.Status)
	}
	if res.Retries != 3 {
		t.Fatalf("expected 3 attempts, got %d", res.Retries)
	}
	want := []string{gcp.MethodAuto, gcp.MethodObjectLocalization, gcp.MethodTextRegions}
	if len(annotator.methods) != len(want) {
		t.Fatalf("expected %d annotate calls, got %d", len(want), len(annotator.methods))
	}
	for i, m := range want {
		if annotator.methods[i] != m {
			t.Fatalf("attempt %d used strategy %q, want %q", i+1, annotator.methods[i], m)
		}
	}
	if res.Strategy != gcp.MethodTextRegions {
		t.Fatalf("expected winning strategy recorded, got %q", res.Strategy)
	}
}

func TestDetectZonesKeepsBestDegradedResult(t *testing.T) {
	annotator := &fakeAnnotator{script: []annotateCall{
		{out: &gcp.AnnotateOutput{Zones: detZones("Nucleus"), ValidationScore: 0.2}},
		{out: &gcp.AnnotateOutput{Zones: detZones("Nucleus", "Membrane"), ValidationScore: 0.4}},
		{out: &gcp.AnnotateOutput{Zones: detZones("Nucleus"), ValidationScore: 0.1}},
	}}
	svc := NewDetectionService(testLog(), annotator, detStore())

	res := svc.DetectZones(context.Background(), DetectionRequest{
		ImagePath:       "/images/cell.png",
		CanonicalLabels: []string{"Nucleus", "Membrane"},
	})

	if res.Status != types.PlanStatusDegraded {
		t.Fatalf("expected degraded status, got %s", res.Status)
	}
	if res.ValidationScore != 0.4 {
		t.Fatalf("expected best score kept, got %v", res.ValidationScore)
	}
	if len(res.Zones) != 2 {
		t.Fatalf("expected best attempt's zones, got %d", len(res.Zones))
	}
	if res.Retries != detectionMaxRetries {
		t.Fatalf("expected all %d attempts used, got %d", detectionMaxRetries, res.Retries)
	}
}

func TestDetectZonesFailsAfterAllAttempts(t *testing.T) {
	annotator := &fakeAnnotator{script: []annotateCall{
		{err: fmt.Errorf("unavailable")},
		{err: fmt.Errorf("unavailable")},
		{err: fmt.Errorf("unavailable")},
	}}
	svc := NewDetectionService(testLog(), annotator, detStore())

	res := svc.DetectZones(context.Background(), DetectionRequest{
		ImagePath:       "/images/cell.png",
		CanonicalLabels: []string{"Nucleus"},
	})

	if res.Status != types.PlanStatusError {
		t.Fatalf("expected error status, got %s", res.Status)
	}
	if res.FailureReason == "" {
		t.Fatalf("expected a failure reason")
	}
	if len(res.Trace) != detectionMaxRetries {
		t.Fatalf("expected %d trace entries, got %d", detectionMaxRetries, len(res.Trace))
	}
}

func TestDetectZonesUnreadableImage(t *testing.T) {
	svc := NewDetectionService(testLog(), &fakeAnnotator{}, &fakeImageStore{readErr: fmt.Errorf("gone")})

	res := svc.DetectZones(context.Background(), DetectionRequest{ImagePath: "/images/missing.png"})

	if res.Status != types.PlanStatusError {
		t.Fatalf("expected error status, got %s", res.Status)
	}
	if res.Retries != 0 {
		t.Fatalf("no annotate attempts expected, got %d", res.Retries)
	}
}
