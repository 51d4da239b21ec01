package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"foundersforum/internal/admintoken"
	"foundersforum/internal/util"
	"foundersforum/pkg/auth"
	"foundersforum/pkg/domain"
	"foundersforum/pkg/notify"
	"foundersforum/pkg/storage"
	"foundersforum/pkg/store"
)

const (
	adminSubject  = "admin"
	notifyTimeout = 30 * time.Second
)

// Config holds runtime configuration for the registration application.
type Config struct {
	Adapter AdapterConfig
	// Store and Objects replace the adapter chosen by SelectAdapter when both are set.
	Store          store.Store
	Objects        storage.ObjectStore
	MaxUploadBytes int64
	Notifier       notify.Notifier
	NewKey         KeyFunc

	AdminPasswordHash string
	AdminTokens       *admintoken.Manager
}

// App wires the storage adapter, notifications and admin access together.
// Intake and Lookup workflows are created per use.
type App struct {
	adapter        *Adapter
	mode           Mode
	maxUploadBytes int64
	newKey         KeyFunc
	notifier       notify.Notifier
	adminHash      string
	adminTokens    *admintoken.Manager

	pending sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// New constructs the application, resolving the storage mode once.
func New(cfg Config) (*App, error) {
	var (
		adapter *Adapter
		mode    Mode
		err     error
	)
	if cfg.Store != nil && cfg.Objects != nil {
		adapter = NewAdapter(cfg.Store, cfg.Objects)
		mode = ModeSimulated
		if cfg.Adapter.Live {
			mode = ModeLive
		}
	} else {
		adapter, mode, err = SelectAdapter(cfg.Adapter)
		if err != nil {
			return nil, err
		}
	}
	if cfg.AdminPasswordHash != "" && cfg.AdminTokens == nil {
		return nil, fmt.Errorf("admin token manager required when admin password is set")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	newKey := cfg.NewKey
	if newKey == nil {
		newKey = NewPitchKeyFunc(nil)
	}
	return &App{
		adapter:        adapter,
		mode:           mode,
		maxUploadBytes: cfg.MaxUploadBytes,
		newKey:         newKey,
		notifier:       notifier,
		adminHash:      cfg.AdminPasswordHash,
		adminTokens:    cfg.AdminTokens,
		inflight:       make(map[string]struct{}),
	}, nil
}

// Mode reports whether the live store or the simulation is in use.
func (a *App) Mode() Mode {
	return a.mode
}

// NewIntake returns a fresh intake workflow.
func (a *App) NewIntake() *Intake {
	return NewIntake(a.adapter, IntakeOptions{
		MaxUploadBytes: a.maxUploadBytes,
		NewKey:         a.newKey,
		OnSuccess:      a.notifyRegistered,
	})
}

// NewLookup returns a fresh lookup workflow.
func (a *App) NewLookup() *Lookup {
	return NewLookup(a.adapter)
}

// Register runs a single submit of form on a fresh intake workflow. A second
// Register for the same applicant while the first is still storing gets
// ErrSubmitInProgress, so a double-clicked submit inserts once.
func (a *App) Register(ctx context.Context, form domain.Form) (IntakeState, error) {
	intake := a.NewIntake()
	if err := intake.SetForm(form); err != nil {
		return intake.State(), err
	}
	if fields := intake.Validate(); len(fields) > 0 {
		return intake.State(), &ValidationError{Fields: fields}
	}
	release, ok := a.claim(identityKey("submit", form.Name, form.Email))
	if !ok {
		return intake.State(), ErrSubmitInProgress
	}
	defer release()
	return intake.Submit(ctx)
}

// Search runs a single lookup on a fresh lookup workflow. Identical searches
// do not overlap; the later one gets ErrSearchInProgress.
func (a *App) Search(ctx context.Context, name, email string) (LookupState, error) {
	lookup := a.NewLookup()
	if strings.TrimSpace(name) != "" && strings.TrimSpace(email) != "" {
		release, ok := a.claim(identityKey("search", name, email))
		if !ok {
			return lookup.State(), ErrSearchInProgress
		}
		defer release()
	}
	return lookup.Search(ctx, name, email)
}

// claim marks key in flight. The returned func clears it.
func (a *App) claim(key string) (func(), bool) {
	a.inflightMu.Lock()
	defer a.inflightMu.Unlock()
	if _, busy := a.inflight[key]; busy {
		return nil, false
	}
	a.inflight[key] = struct{}{}
	return func() {
		a.inflightMu.Lock()
		delete(a.inflight, key)
		a.inflightMu.Unlock()
	}, true
}

// identityKey folds case and surrounding space the way search matching does.
func identityKey(op, name, email string) string {
	return op + "\x00" + strings.ToLower(strings.TrimSpace(email)) + "\x00" + strings.ToLower(strings.TrimSpace(name))
}

// notifyRegistered sends confirmations in the background. Failures are logged only.
func (a *App) notifyRegistered(ctx context.Context, reg domain.Registration) {
	logger := util.LoggerFromContext(ctx)
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := a.notifier.NotifyRegistered(nctx, reg); err != nil {
			logger.Warn("registration notification failed", "registration_id", reg.ID, "err", err)
		}
	}()
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (a *App) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AdminEnabled reports whether an admin password is configured.
func (a *App) AdminEnabled() bool {
	return a.adminHash != "" && a.adminTokens != nil
}

// IssueAdminToken exchanges the admin password for a bearer token.
func (a *App) IssueAdminToken(password string) (string, time.Time, error) {
	if !a.AdminEnabled() {
		return "", time.Time{}, ErrAdminDisabled
	}
	if !auth.CheckPassword(password, a.adminHash) {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return a.adminTokens.Sign(adminSubject)
}

// AuthorizeAdmin validates a bearer token issued by IssueAdminToken.
func (a *App) AuthorizeAdmin(token string) error {
	if !a.AdminEnabled() {
		return ErrAdminDisabled
	}
	claims, err := a.adminTokens.Verify(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if claims.Subject != adminSubject {
		return ErrInvalidCredentials
	}
	return nil
}

// ListRegistrations returns the newest registrations first.
func (a *App) ListRegistrations(ctx context.Context, limit int) ([]domain.Registration, error) {
	regs, err := a.adapter.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	if regs == nil {
		regs = []domain.Registration{}
	}
	return regs, nil
}

// LogStartup records how the application was wired.
func (a *App) LogStartup(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"mode", a.mode, "admin", a.AdminEnabled()}
	if a.mode == ModeSimulated {
		logger.Warn("store credentials missing, using simulated registrations", attrs...)
		return
	}
	logger.Info("registration store ready", attrs...)
}

// IsClientError reports whether err was caused by the request rather than a collaborator.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrSubmitInProgress) ||
		errors.Is(err, ErrSearchInProgress) ||
		errors.Is(err, ErrInvalidTransition)
}
