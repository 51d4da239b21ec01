package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"foundersforum/pkg/domain"
	"foundersforum/pkg/store"
)

type fakeAdapter struct {
	mu        sync.Mutex
	inserts   []domain.Application
	uploads   []string
	searches  [][2]string
	discarded []string

	insertErr error
	uploadErr error
	searchErr error
	results   []domain.Registration

	// When set, Insert and Search signal entered and then wait for release.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeAdapter) wait(ctx context.Context) error {
	if f.entered == nil {
		return nil
	}
	f.entered <- struct{}{}
	select {
	case <-f.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAdapter) Insert(ctx context.Context, app domain.Application) (domain.Registration, error) {
	if err := f.wait(ctx); err != nil {
		return domain.Registration{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, app)
	if f.insertErr != nil {
		return domain.Registration{}, f.insertErr
	}
	return domain.Registration{
		ID:          fmt.Sprintf("reg-%d", len(f.inserts)),
		Application: app,
		CreatedAt:   time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeAdapter) Search(ctx context.Context, name, email string) ([]domain.Registration, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, [2]string{name, email})
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeAdapter) UploadFile(_ context.Context, _ []byte, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, key)
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return "https://files.test/pitch-files/" + key, nil
}

func (f *fakeAdapter) DiscardFile(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, key)
	return nil
}

func (f *fakeAdapter) counts() (inserts, uploads, searches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserts), len(f.uploads), len(f.searches)
}

func fixedKey(filename string) string {
	return "1700000000000_abcd1234_" + filename
}

func validPDF() *domain.PitchFile {
	return &domain.PitchFile{Filename: "deck.pdf", Content: []byte("%PDF-1.4\n%fake deck\n")}
}

func validForm() domain.Form {
	return domain.Form{
		Name:          "Alice Kim",
		Phone:         "010-1111-2222",
		Email:         "alice@example.com",
		Organization:  "Acme",
		Position:      "CEO",
		PrivacyAgreed: true,
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	regs  []domain.Registration
	err   error
}

func (n *recordingNotifier) NotifyRegistered(_ context.Context, reg domain.Registration) error {
	n.mu.Lock()
	n.regs = append(n.regs, reg)
	n.mu.Unlock()
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.regs)
}

// blockingStore holds inserts and searches until release is closed.
type blockingStore struct {
	*store.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func newBlockingStore() *blockingStore {
	return &blockingStore{
		MemoryStore: store.NewMemoryStore(store.MemoryOptions{RetainInserts: true, Seed: []domain.Registration{}}),
		entered:     make(chan struct{}, 8),
		release:     make(chan struct{}),
	}
}

func (b *blockingStore) hold(ctx context.Context) error {
	b.entered <- struct{}{}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *blockingStore) InsertRegistration(ctx context.Context, app domain.Application) (domain.Registration, error) {
	if err := b.hold(ctx); err != nil {
		return domain.Registration{}, err
	}
	return b.MemoryStore.InsertRegistration(ctx, app)
}

func (b *blockingStore) SearchRegistrations(ctx context.Context, name, email string) ([]domain.Registration, error) {
	if err := b.hold(ctx); err != nil {
		return nil, err
	}
	return b.MemoryStore.SearchRegistrations(ctx, name, email)
}
