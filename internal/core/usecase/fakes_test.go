package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
)

type submissionRepoFake struct {
	mu        sync.Mutex
	subs      map[string]*domain.Submission
	states    []domain.PipelineState
	createErr error
	getErr    error
}

func newSubmissionRepoFake(subs ...*domain.Submission) *submissionRepoFake {
	f := &submissionRepoFake{subs: make(map[string]*domain.Submission)}
	for _, sub := range subs {
		f.subs[sub.ID] = sub
	}
	return f
}

func (f *submissionRepoFake) Create(_ context.Context, sub *domain.Submission) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copySub := *sub
	f.subs[sub.ID] = &copySub
	return nil
}

func (f *submissionRepoFake) GetByID(_ context.Context, id string) (*domain.Submission, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSubmissionNotFound, "get submission", errors.New(id))
	}
	copySub := *sub
	return &copySub, nil
}

func (f *submissionRepoFake) UpdateEnrichmentState(_ context.Context, _ string, state domain.PipelineState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return nil
}

func (f *submissionRepoFake) stateLog() []domain.PipelineState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PipelineState(nil), f.states...)
}

// resultStoreFake keeps encoded documents the way the Postgres store does.
type resultStoreFake struct {
	mu          sync.Mutex
	maxChars    int
	docs        map[string][]byte
	projections map[string]domain.ClassificationProjection
	ensureCalls int
	saveCalls   int
	slimmed     int
	writes      []string
	saveErr     error
	classifyErr error
}

func newResultStoreFake() *resultStoreFake {
	return &resultStoreFake{
		docs:        make(map[string][]byte),
		projections: make(map[string]domain.ClassificationProjection),
	}
}

func (f *resultStoreFake) Ensure(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	if _, ok := f.docs[id]; !ok {
		f.docs[id] = []byte("{}")
	}
	return nil
}

func (f *resultStoreFake) Load(_ context.Context, id string) (*domain.ResultDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.ParseResultDocument(f.docs[id]), nil
}

func (f *resultStoreFake) SaveDocument(_ context.Context, id string, doc *domain.ResultDocument) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := doc.MarshalJSON()
	if err != nil {
		return err
	}
	f.store(id, raw)
	return nil
}

func (f *resultStoreFake) SaveClassification(_ context.Context, id string, doc *domain.ResultDocument, projection domain.ClassificationProjection) error {
	if f.classifyErr != nil {
		return f.classifyErr
	}
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, slimmed, err := doc.Encode(f.maxChars)
	if err != nil {
		return err
	}
	f.store(id, raw)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projections[id] = projection
	if slimmed {
		f.slimmed++
	}
	return nil
}

func (f *resultStoreFake) store(id string, raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	f.docs[id] = raw
	f.writes = append(f.writes, string(raw))
}

func (f *resultStoreFake) writeLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *resultStoreFake) GetAnalysis(_ context.Context, id string) (*domain.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.docs[id]
	if !ok {
		return nil, domain.ErrSubmissionNotFound
	}
	projection := f.projections[id]
	return &domain.Analysis{
		SubmissionID: id,
		Category:     projection.Category,
		Priority:     projection.Priority,
		Tags:         projection.Tags,
		Summary:      projection.Summary,
		Document:     domain.ParseResultDocument(raw),
	}, nil
}

func (f *resultStoreFake) raw(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.docs[id])
}

type storageFake struct {
	mu    sync.Mutex
	paths map[string]string
	saved map[string][]byte
	err   error
}

func newStorageFake(paths map[string]string) *storageFake {
	if paths == nil {
		paths = map[string]string{}
	}
	return &storageFake{paths: paths, saved: map[string][]byte{}}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[key] = raw
	return nil
}

func (f *storageFake) Resolve(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path, ok := f.paths[key]
	if !ok {
		return "", domain.WrapError(domain.ErrFileNotFound, "resolve", errors.New(key))
	}
	return path, nil
}

type ocrEngineFake struct {
	readyErr error
	texts    map[string]string
	errs     map[string]error
	calls    []string
}

func (f *ocrEngineFake) Ready(context.Context) error { return f.readyErr }

func (f *ocrEngineFake) Recognize(_ context.Context, path string) (string, error) {
	f.calls = append(f.calls, path)
	if err := f.errs[path]; err != nil {
		return "", err
	}
	return f.texts[path], nil
}

type converterFake struct {
	err   error
	calls [][2]string
}

func (f *converterFake) ExtractAudio(_ context.Context, src, dst string) error {
	f.calls = append(f.calls, [2]string{src, dst})
	return f.err
}

type recognizerFake struct {
	mu          sync.Mutex
	transcripts map[string]domain.Transcript
	errs        map[string]error
	fallback    *domain.Transcript
	calls       []string
}

func (f *recognizerFake) Transcribe(_ context.Context, path string) (domain.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, path)
	if err := f.errs[path]; err != nil {
		return domain.Transcript{}, err
	}
	if transcript, ok := f.transcripts[path]; ok {
		return transcript, nil
	}
	if f.fallback != nil {
		return *f.fallback, nil
	}
	return domain.Transcript{}, errors.New("unexpected audio path " + path)
}

type oracleFake struct {
	mu       sync.Mutex
	reply    domain.OracleReply
	err      error
	requests []domain.OracleRequest
}

func (f *oracleFake) Complete(_ context.Context, req domain.OracleRequest) (domain.OracleReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return domain.OracleReply{}, f.err
	}
	return f.reply, nil
}

func (f *oracleFake) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type observerFake struct {
	mu        sync.Mutex
	started   int
	finished  []domain.PipelineState
	stages    []string
	fallbacks []string
}

func (f *observerFake) StartPipeline() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *observerFake) FinishPipeline(state domain.PipelineState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, state)
}

func (f *observerFake) ObserveStage(stage domain.StageName, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, string(stage)+":"+status)
}

func (f *observerFake) ObserveFallback(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallbacks = append(f.fallbacks, reason)
}
