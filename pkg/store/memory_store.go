package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"foundersforum/pkg/domain"
)

// DefaultSimulatedDelay mimics the latency of the hosted store.
const DefaultSimulatedDelay = time.Second

// MemoryOptions tunes the in-process simulation.
type MemoryOptions struct {
	// Delay is applied before every insert. Zero disables it.
	Delay time.Duration
	// RetainInserts keeps inserted rows so later searches can find them.
	// When false, inserts are echoed back and searches only see the seed rows.
	RetainInserts bool
	// Seed rows visible to searches. Nil means Fixtures().
	Seed []domain.Registration
	Now  func() time.Time
}

// MemoryStore keeps registrations in-process. It stands in for the hosted
// store when no credentials are configured.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   []domain.Registration
	seq    int64
	delay  time.Duration
	retain bool
	now    func() time.Time
}

// NewMemoryStore initializes the simulation.
func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	seed := opts.Seed
	if seed == nil {
		seed = Fixtures(now().UTC())
	}
	rows := make([]domain.Registration, len(seed))
	copy(rows, seed)
	return &MemoryStore{
		rows:   rows,
		delay:  opts.Delay,
		retain: opts.RetainInserts,
		now:    now,
	}
}

// Fixtures returns the fixed registrations served by the simulation.
func Fixtures(createdAt time.Time) []domain.Registration {
	return []domain.Registration{
		{
			ID: "dev-1",
			Application: domain.Application{
				Name:          "김개발",
				Phone:         "010-1234-5678",
				Email:         "dev@example.com",
				Organization:  "개발회사",
				Position:      "개발자",
				IsFounder:     true,
				CompanyName:   "스타트업",
				IsPitching:    true,
				PitchFileURL:  "https://example.com/pitch.pdf",
				PrivacyAgreed: true,
			},
			CreatedAt: createdAt,
		},
		{
			ID: "dev-2",
			Application: domain.Application{
				Name:          "박테스트",
				Phone:         "010-9876-5432",
				Email:         "test@example.com",
				Organization:  "테스트회사",
				Position:      "매니저",
				PrivacyAgreed: true,
			},
			CreatedAt: createdAt,
		},
	}
}

// InsertRegistration synthesizes an id and timestamp after the configured delay.
func (m *MemoryStore) InsertRegistration(ctx context.Context, app domain.Application) (domain.Registration, error) {
	if err := sleepContext(ctx, m.delay); err != nil {
		return domain.Registration{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	now := m.now().UTC()
	reg := domain.Registration{
		ID:          fmt.Sprintf("dev-%d-%d", now.UnixMilli(), m.seq),
		Application: app,
		CreatedAt:   now,
	}
	if m.retain {
		m.rows = append(m.rows, reg)
	}
	return reg, nil
}

// SearchRegistrations applies the same identity rule as the live store.
func (m *MemoryStore) SearchRegistrations(ctx context.Context, name, email string) ([]domain.Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Registration, 0)
	for _, r := range m.rows {
		if r.MatchesIdentity(name, email) {
			res = append(res, r)
		}
	}
	sortNewestFirst(res)
	return res, nil
}

// ListRegistrations returns up to limit rows, newest first.
func (m *MemoryStore) ListRegistrations(ctx context.Context, limit int) ([]domain.Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	res := make([]domain.Registration, len(m.rows))
	copy(res, m.rows)
	m.mu.RUnlock()
	sortNewestFirst(res)
	if limit = clampLimit(limit); len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func sortNewestFirst(rows []domain.Registration) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
