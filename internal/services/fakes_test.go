package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/diagramlab-backend/internal/clients/gcp"
	"github.com/yungbote/diagramlab-backend/internal/clients/websearch"
	"github.com/yungbote/diagramlab-backend/internal/logger"
	"github.com/yungbote/diagramlab-backend/internal/types"
)

func testLog() *logger.Logger {
	return logger.NewNop()
}

type fakeImageStore struct {
	existing map[string]bool
	data     map[string][]byte
	existErr error
	readErr  error
}

func (f *fakeImageStore) Exists(ctx context.Context, path string) (bool, error) {
	if f.existErr != nil {
		return false, f.existErr
	}
	return f.existing[path], nil
}

func (f *fakeImageStore) Read(ctx context.Context, path string) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	raw, ok := f.data[path]
	if !ok {
		return nil, fmt.Errorf("no image at %s", path)
	}
	return raw, nil
}

func (f *fakeImageStore) Close() error { return nil }

type searchCall struct {
	path string
	err  error
}

type fakeSearcher struct {
	script  []searchCall
	queries []string
}

func (f *fakeSearcher) SearchImage(ctx context.Context, query, subject string, count int) (*websearch.SearchResult, error) {
	f.queries = append(f.queries, query)
	if len(f.script) == 0 {
		return nil, fmt.Errorf("no results")
	}
	call := f.script[0]
	f.script = f.script[1:]
	if call.err != nil {
		return nil, call.err
	}
	return &websearch.SearchResult{SelectedPath: call.path}, nil
}

type annotateCall struct {
	out *gcp.AnnotateOutput
	err error
}

type fakeAnnotator struct {
	script  []annotateCall
	methods []string
}

func (f *fakeAnnotator) AnnotateZones(ctx context.Context, in gcp.AnnotateInput) (*gcp.AnnotateOutput, error) {
	f.methods = append(f.methods, in.Method)
	if len(f.script) == 0 {
		return nil, fmt.Errorf("annotator exhausted")
	}
	call := f.script[0]
	f.script = f.script[1:]
	return call.out, call.err
}

func (f *fakeAnnotator) Close() error { return nil }

type fakeCollision struct {
	err      error
	lastReq  *CollisionRequest
	metadata types.CollisionMetadata
}

func (f *fakeCollision) ResolveCollisions(ctx context.Context, req CollisionRequest) (*CollisionResult, error) {
	f.lastReq = &req
	if f.err != nil {
		return nil, f.err
	}
	return &CollisionResult{Zones: req.Zones, Metadata: f.metadata}, nil
}

type fakeKnowledge struct {
	dk  *DomainKnowledge
	err error
}

func (f *fakeKnowledge) Lookup(ctx context.Context, subject, topic string) (*DomainKnowledge, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.dk, nil
}

type fakeAcquisition struct {
	result *AcquisitionResult
}

func (f *fakeAcquisition) AcquireImage(ctx context.Context, req AcquisitionRequest) *AcquisitionResult {
	return f.result
}

type fakeDetection struct {
	result *DetectionResult
}

func (f *fakeDetection) DetectZones(ctx context.Context, req DetectionRequest) *DetectionResult {
	return f.result
}

type fakeRunRepo struct {
	created []*types.ZonePlanRun
}

func (f *fakeRunRepo) Create(ctx context.Context, tx *gorm.DB, runs []*types.ZonePlanRun) ([]*types.ZonePlanRun, error) {
	f.created = append(f.created, runs...)
	return runs, nil
}

func (f *fakeRunRepo) GetByIDs(ctx context.Context, tx *gorm.DB, runIDs []uuid.UUID) ([]*types.ZonePlanRun, error) {
	var out []*types.ZonePlanRun
	for _, run := range f.created {
		for _, id := range runIDs {
			if run.ID == id {
				out = append(out, run)
			}
		}
	}
	return out, nil
}

func (f *fakeRunRepo) GetBySubject(ctx context.Context, tx *gorm.DB, subject string, limit int) ([]*types.ZonePlanRun, error) {
	return nil, nil
}

func (f *fakeRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, runID uuid.UUID, fields map[string]interface{}) error {
	return nil
}

func (f *fakeRunRepo) SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, runIDs []uuid.UUID) error {
	return nil
}
