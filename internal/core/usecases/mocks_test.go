package usecases_test

import (
	"context"
	"errors"
	"sync"

	"github.com/samirrijal/riskgrid/internal/core/domain"
)

// --- Mock ObservationRepository ---

type mockObsRepo struct {
	mu          sync.Mutex
	insertFn    func(ctx context.Context, o *domain.Observation) error
	insertBatch func(ctx context.Context, obs []domain.Observation) error
	listFn      func(ctx context.Context, r domain.DateRange) ([]domain.Observation, error)
	listPageFn  func(ctx context.Context, r domain.DateRange, offset, limit int) ([]domain.Observation, int, error)
	inBoxFn     func(ctx context.Context, box domain.Bounds, limit int) ([]domain.Observation, error)
	version     string
	listCalls   int
}

func (m *mockObsRepo) Insert(ctx context.Context, o *domain.Observation) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, o)
	}
	return nil
}

func (m *mockObsRepo) InsertBatch(ctx context.Context, obs []domain.Observation) error {
	if m.insertBatch != nil {
		return m.insertBatch(ctx, obs)
	}
	return nil
}

func (m *mockObsRepo) List(ctx context.Context, r domain.DateRange) ([]domain.Observation, error) {
	m.mu.Lock()
	m.listCalls++
	m.mu.Unlock()
	if m.listFn != nil {
		return m.listFn(ctx, r)
	}
	return nil, nil
}

func (m *mockObsRepo) ListPage(ctx context.Context, r domain.DateRange, offset, limit int) ([]domain.Observation, int, error) {
	if m.listPageFn != nil {
		return m.listPageFn(ctx, r, offset, limit)
	}
	return nil, 0, nil
}

func (m *mockObsRepo) InBox(ctx context.Context, box domain.Bounds, limit int) ([]domain.Observation, error) {
	if m.inBoxFn != nil {
		return m.inBoxFn(ctx, box, limit)
	}
	return nil, nil
}

func (m *mockObsRepo) Version(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.version == "" {
		return "v1", nil
	}
	return m.version, nil
}

func (m *mockObsRepo) setVersion(v string) {
	m.mu.Lock()
	m.version = v
	m.mu.Unlock()
}

func (m *mockObsRepo) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	mu           sync.Mutex
	observations []domain.Observation
	updates      []domain.GridUpdate
	alerts       []domain.CriticalAlert
}

func (m *mockPublisher) PublishObservation(ctx context.Context, o *domain.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations = append(m.observations, *o)
	return nil
}

func (m *mockPublisher) PublishGridUpdated(ctx context.Context, u *domain.GridUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, *u)
	return nil
}

func (m *mockPublisher) PublishCriticalAlert(ctx context.Context, a *domain.CriticalAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, *a)
	return nil
}

func (m *mockPublisher) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

// --- Mock CacheService ---

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

var errCacheMiss = errors.New("cache miss")

func newMockCache() *mockCache { return &mockCache{data: make(map[string][]byte)} }

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errCacheMiss
	}
	return v, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttl int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
