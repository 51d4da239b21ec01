package app

import (
	"context"
	"slices"
	"strings"
	"sync"

	"foundersforum/internal/util"
	"foundersforum/pkg/domain"
)

// LookupPhase is the state of a lookup workflow.
type LookupPhase string

const (
	LookupIdle      LookupPhase = "idle"
	LookupSearching LookupPhase = "searching"
	LookupSuccess   LookupPhase = "success"
	LookupEmpty     LookupPhase = "empty"
	LookupError     LookupPhase = "error"
)

var lookupTransitions = map[LookupPhase][]LookupPhase{
	LookupIdle:      {LookupSearching},
	LookupSearching: {LookupSuccess, LookupEmpty, LookupError, LookupIdle},
	LookupSuccess:   {LookupSearching, LookupIdle},
	LookupEmpty:     {LookupSearching, LookupIdle},
	LookupError:     {LookupSearching, LookupIdle},
}

func canLookupTransition(from, to LookupPhase) bool {
	return slices.Contains(lookupTransitions[from], to)
}

// LookupState is a snapshot of a lookup workflow.
type LookupState struct {
	Phase        LookupPhase           `json:"status"`
	Searching    bool                  `json:"searching"`
	Name         string                `json:"name"`
	Email        string                `json:"email"`
	Results      []domain.Registration `json:"items"`
	ErrorMessage string                `json:"errorMessage,omitempty"`
}

// Lookup finds an applicant's registrations by name and email.
type Lookup struct {
	adapter StorageAdapter

	mu         sync.Mutex
	phase      LookupPhase
	name       string
	email      string
	results    []domain.Registration
	errMsg     string
	inFlight   bool
	generation uint64
}

// NewLookup returns an idle lookup workflow bound to adapter.
func NewLookup(adapter StorageAdapter) *Lookup {
	return &Lookup{adapter: adapter, phase: LookupIdle}
}

// State returns a snapshot.
func (l *Lookup) State() LookupState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

func (l *Lookup) stateLocked() LookupState {
	return LookupState{
		Phase:        l.phase,
		Searching:    l.phase == LookupSearching,
		Name:         l.name,
		Email:        l.email,
		Results:      slices.Clone(l.results),
		ErrorMessage: l.errMsg,
	}
}

// Search runs one lookup. Zero matches is LookupEmpty, not an error. A store
// failure moves to LookupError, clears results and keeps the typed inputs.
// If Reset is called while the search is in flight its result is dropped and
// ErrLookupReset is returned.
func (l *Lookup) Search(ctx context.Context, name, email string) (LookupState, error) {
	l.mu.Lock()
	if l.inFlight {
		st := l.stateLocked()
		l.mu.Unlock()
		return st, ErrSearchInProgress
	}
	trimmedName, trimmedEmail := strings.TrimSpace(name), strings.TrimSpace(email)
	var missing []string
	if trimmedName == "" {
		missing = append(missing, "name")
	}
	if trimmedEmail == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		st := l.stateLocked()
		l.mu.Unlock()
		return st, &ValidationError{Fields: missing}
	}
	if !canLookupTransition(l.phase, LookupSearching) {
		st := l.stateLocked()
		l.mu.Unlock()
		return st, ErrInvalidTransition
	}
	l.name, l.email = name, email
	l.phase = LookupSearching
	l.results = nil
	l.errMsg = ""
	l.inFlight = true
	gen := l.generation
	l.mu.Unlock()

	regs, err := l.adapter.Search(ctx, trimmedName, trimmedEmail)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight = false
	if gen != l.generation {
		return l.stateLocked(), ErrLookupReset
	}
	if err != nil {
		err = storeError(OpSearch, err)
		l.phase = LookupError
		l.errMsg = userMessage(err)
		util.LoggerFromContext(ctx).Error("registration lookup failed", "email", util.MaskEmail(trimmedEmail), "err", err)
		return l.stateLocked(), err
	}
	if len(regs) == 0 {
		l.phase = LookupEmpty
		return l.stateLocked(), nil
	}
	l.phase = LookupSuccess
	l.results = regs
	return l.stateLocked(), nil
}

// Reset clears inputs and results and returns to idle. An in-flight search
// keeps its guard until the store call returns, but its result is discarded.
func (l *Lookup) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation++
	l.phase = LookupIdle
	l.name, l.email = "", ""
	l.results = nil
	l.errMsg = ""
}
