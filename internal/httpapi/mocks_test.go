package httpapi_test

import (
	"context"

	"signal-intel/internal/service"
	"signal-intel/internal/storage"
)

type mockOperations struct {
	ingestFn   func(ctx context.Context, items []storage.RawItem) (int, error)
	collectFn  func(ctx context.Context) service.CollectResult
	processFn  func(ctx context.Context) service.ProcessResult
	validateFn func(ctx context.Context) service.ValidateResult
	learnFn    func(ctx context.Context) service.LearnResult
	signalsFn  func(ctx context.Context, limit int) ([]storage.Signal, error)
	sourcesFn  func(ctx context.Context) ([]storage.SourceCredibility, error)
}

func (m *mockOperations) Ingest(ctx context.Context, items []storage.RawItem) (int, error) {
	if m.ingestFn != nil {
		return m.ingestFn(ctx, items)
	}
	return len(items), nil
}

func (m *mockOperations) Collect(ctx context.Context) service.CollectResult {
	if m.collectFn != nil {
		return m.collectFn(ctx)
	}
	return service.CollectResult{Success: true}
}

func (m *mockOperations) Process(ctx context.Context) service.ProcessResult {
	if m.processFn != nil {
		return m.processFn(ctx)
	}
	return service.ProcessResult{Success: true}
}

func (m *mockOperations) Validate(ctx context.Context) service.ValidateResult {
	if m.validateFn != nil {
		return m.validateFn(ctx)
	}
	return service.ValidateResult{Success: true}
}

func (m *mockOperations) Learn(ctx context.Context) service.LearnResult {
	if m.learnFn != nil {
		return m.learnFn(ctx)
	}
	return service.LearnResult{Success: true}
}

func (m *mockOperations) RecentSignals(ctx context.Context, limit int) ([]storage.Signal, error) {
	if m.signalsFn != nil {
		return m.signalsFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockOperations) Sources(ctx context.Context) ([]storage.SourceCredibility, error) {
	if m.sourcesFn != nil {
		return m.sourcesFn(ctx)
	}
	return nil, nil
}
