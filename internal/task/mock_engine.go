package task

import (
	"context"
	"sync"
)

// MockEngine is an Engine for testing. AnalyzeFn decides the outcome and
// every received job is recorded.
type MockEngine struct {
	AnalyzeFn func(ctx context.Context, job Job) (*ResultSet, error)

	mu   sync.Mutex
	jobs []Job
}

// NewMockEngine creates a MockEngine that reports no binding sites.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		AnalyzeFn: func(ctx context.Context, job Job) (*ResultSet, error) {
			return &ResultSet{}, nil
		},
	}
}

// Analyze implements Engine.
func (m *MockEngine) Analyze(ctx context.Context, job Job) (*ResultSet, error) {
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()
	return m.AnalyzeFn(ctx, job)
}

// Jobs returns a copy of the jobs received so far.
func (m *MockEngine) Jobs() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Job(nil), m.jobs...)
}

// MockFetcher is a StructureFetcher for testing.
type MockFetcher struct {
	FetchFn func(ctx context.Context, reference string) ([]byte, error)
}

// NewMockFetcher creates a MockFetcher that serves data for every reference.
func NewMockFetcher(data []byte) *MockFetcher {
	return &MockFetcher{
		FetchFn: func(ctx context.Context, reference string) ([]byte, error) {
			return data, nil
		},
	}
}

// FetchStructure implements StructureFetcher.
func (m *MockFetcher) FetchStructure(ctx context.Context, reference string) ([]byte, error) {
	return m.FetchFn(ctx, reference)
}
