package app

import (
	"bytes"
	"context"
	"fmt"

	"foundersforum/pkg/domain"
	"foundersforum/pkg/storage"
	"foundersforum/pkg/store"
)

// StorageAdapter is the collaborator both workflows consume.
type StorageAdapter interface {
	Insert(ctx context.Context, app domain.Application) (domain.Registration, error)
	Search(ctx context.Context, name, email string) ([]domain.Registration, error)
	UploadFile(ctx context.Context, data []byte, key string) (string, error)
}

// Mode names the adapter implementation chosen at startup.
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)

// Adapter composes a row store and a blob store into a StorageAdapter.
// Every failure is returned as *StoreError.
type Adapter struct {
	rows  store.Store
	blobs storage.ObjectStore
}

// NewAdapter composes rows and blobs.
func NewAdapter(rows store.Store, blobs storage.ObjectStore) *Adapter {
	return &Adapter{rows: rows, blobs: blobs}
}

func (a *Adapter) Insert(ctx context.Context, app domain.Application) (domain.Registration, error) {
	reg, err := a.rows.InsertRegistration(ctx, app)
	if err != nil {
		return domain.Registration{}, storeError(OpInsert, err)
	}
	return reg, nil
}

func (a *Adapter) Search(ctx context.Context, name, email string) ([]domain.Registration, error) {
	regs, err := a.rows.SearchRegistrations(ctx, name, email)
	if err != nil {
		return nil, storeError(OpSearch, err)
	}
	if regs == nil {
		regs = []domain.Registration{}
	}
	return regs, nil
}

func (a *Adapter) UploadFile(ctx context.Context, data []byte, key string) (string, error) {
	if err := a.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), pdfContentType); err != nil {
		return "", storeError(OpUpload, err)
	}
	return a.blobs.PublicURL(key), nil
}

// List returns the newest registrations first.
func (a *Adapter) List(ctx context.Context, limit int) ([]domain.Registration, error) {
	regs, err := a.rows.ListRegistrations(ctx, limit)
	if err != nil {
		return nil, storeError(OpList, err)
	}
	return regs, nil
}

// AdapterConfig carries what SelectAdapter needs to build either mode.
type AdapterConfig struct {
	Live        bool
	DatabaseURL string
	Database    store.GormOptions
	Storage     storage.MinioOptions
	Simulation  store.MemoryOptions
}

// SelectAdapter resolves the storage capability once at startup.
func SelectAdapter(cfg AdapterConfig) (*Adapter, Mode, error) {
	if !cfg.Live {
		return NewAdapter(store.NewMemoryStore(cfg.Simulation), storage.NewPlaceholderStore()), ModeSimulated, nil
	}
	rows, err := store.NewGormStore(cfg.DatabaseURL, cfg.Database)
	if err != nil {
		return nil, "", fmt.Errorf("init postgres store: %w", err)
	}
	blobs, err := storage.NewMinioStore(cfg.Storage)
	if err != nil {
		return nil, "", fmt.Errorf("init object store: %w", err)
	}
	return NewAdapter(rows, blobs), ModeLive, nil
}

// DiscardFile removes a blob uploaded for a registration that failed to insert.
func (a *Adapter) DiscardFile(ctx context.Context, key string) error {
	if err := a.blobs.Delete(ctx, key); err != nil {
		return storeError(OpUpload, err)
	}
	return nil
}
