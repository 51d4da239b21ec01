package app

import (
	"context"
	"slices"
	"sync"

	"foundersforum/internal/util"
	"foundersforum/pkg/domain"
)

// IntakePhase is the state of an intake workflow.
type IntakePhase string

const (
	IntakeIdle       IntakePhase = "idle"
	IntakeSubmitting IntakePhase = "submitting"
	IntakeSuccess    IntakePhase = "success"
	IntakeError      IntakePhase = "error"
)

var intakeTransitions = map[IntakePhase][]IntakePhase{
	IntakeIdle:       {IntakeSubmitting},
	IntakeSubmitting: {IntakeSuccess, IntakeError},
	IntakeSuccess:    {IntakeIdle},
	IntakeError:      {IntakeSubmitting, IntakeIdle},
}

func canIntakeTransition(from, to IntakePhase) bool {
	return slices.Contains(intakeTransitions[from], to)
}

// Confirmation names the applicant after a successful submit.
type Confirmation struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// IntakeState is a snapshot of an intake workflow.
type IntakeState struct {
	Phase        IntakePhase          `json:"status"`
	Submitting   bool                 `json:"submitting"`
	Form         domain.Form          `json:"form"`
	ErrorMessage string               `json:"errorMessage,omitempty"`
	Confirmation *Confirmation        `json:"confirmation,omitempty"`
	Registration *domain.Registration `json:"registration,omitempty"`
}

// IntakeOptions tunes an intake workflow.
type IntakeOptions struct {
	// MaxUploadBytes bounds the pitch file; <= 0 disables the check.
	MaxUploadBytes int64
	NewKey         KeyFunc
	// OnSuccess runs after the registration is stored. It must not block.
	OnSuccess func(ctx context.Context, reg domain.Registration)
}

// fileDiscarder is implemented by adapters that can remove an uploaded blob
// whose registration never made it into the store.
type fileDiscarder interface {
	DiscardFile(ctx context.Context, key string) error
}

// Intake validates an applicant form and persists exactly one registration
// per successful submit.
type Intake struct {
	adapter StorageAdapter
	opts    IntakeOptions

	mu           sync.Mutex
	phase        IntakePhase
	form         domain.Form
	errMsg       string
	confirmation *Confirmation
	registration *domain.Registration
}

// NewIntake returns an idle intake workflow bound to adapter.
func NewIntake(adapter StorageAdapter, opts IntakeOptions) *Intake {
	if opts.NewKey == nil {
		opts.NewKey = NewPitchKeyFunc(nil)
	}
	return &Intake{adapter: adapter, opts: opts, phase: IntakeIdle}
}

// SetForm replaces the form values. It is rejected while a submit is in flight.
func (in *Intake) SetForm(f domain.Form) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.phase == IntakeSubmitting {
		return ErrSubmitInProgress
	}
	in.form = f
	return nil
}

// State returns a snapshot.
func (in *Intake) State() IntakeState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stateLocked()
}

func (in *Intake) stateLocked() IntakeState {
	st := IntakeState{
		Phase:        in.phase,
		Submitting:   in.phase == IntakeSubmitting,
		Form:         in.form,
		ErrorMessage: in.errMsg,
	}
	if in.confirmation != nil {
		c := *in.confirmation
		st.Confirmation = &c
	}
	if in.registration != nil {
		r := *in.registration
		st.Registration = &r
	}
	return st
}

// Dismiss closes the confirmation or error and returns to idle.
func (in *Intake) Dismiss() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.phase == IntakeIdle {
		return nil
	}
	if !canIntakeTransition(in.phase, IntakeIdle) {
		return ErrSubmitInProgress
	}
	in.phase = IntakeIdle
	in.errMsg = ""
	in.confirmation = nil
	in.registration = nil
	return nil
}

// Validate returns the fields that would block a submit.
func (in *Intake) Validate() []string {
	in.mu.Lock()
	form := in.form
	in.mu.Unlock()
	return validateForm(form.Normalized(), in.opts.MaxUploadBytes)
}

func validateForm(form domain.Form, maxUploadBytes int64) []string {
	fields := form.MissingFields()
	if form.IsPitching && form.PitchFile != nil && !slices.Contains(fields, "pitch_file") {
		if pitchFileProblem(form.PitchFile, maxUploadBytes) != "" {
			fields = append(fields, "pitch_file")
		}
	}
	return fields
}

// Submit validates the form, uploads the pitch file when pitching, and inserts
// the registration. Validation failures return *ValidationError and leave the
// state untouched; store failures move to the error phase and keep the form.
func (in *Intake) Submit(ctx context.Context) (IntakeState, error) {
	in.mu.Lock()
	if in.phase == IntakeSubmitting {
		st := in.stateLocked()
		in.mu.Unlock()
		return st, ErrSubmitInProgress
	}
	if !canIntakeTransition(in.phase, IntakeSubmitting) {
		st := in.stateLocked()
		in.mu.Unlock()
		return st, ErrInvalidTransition
	}
	form := in.form.Normalized()
	if fields := validateForm(form, in.opts.MaxUploadBytes); len(fields) > 0 {
		st := in.stateLocked()
		in.mu.Unlock()
		return st, &ValidationError{Fields: fields}
	}
	in.phase = IntakeSubmitting
	in.errMsg = ""
	in.mu.Unlock()

	reg, err := in.persist(ctx, form)

	in.mu.Lock()
	if err != nil {
		in.phase = IntakeError
		in.errMsg = userMessage(err)
		st := in.stateLocked()
		in.mu.Unlock()
		util.LoggerFromContext(ctx).Error("registration failed", "email", util.MaskEmail(form.Email), "err", err)
		return st, err
	}
	in.phase = IntakeSuccess
	in.confirmation = &Confirmation{Name: form.Name, Email: form.Email}
	in.registration = &reg
	in.form = domain.Form{}
	st := in.stateLocked()
	in.mu.Unlock()

	util.LoggerFromContext(ctx).Info("registration stored",
		"registration_id", reg.ID,
		"email", util.MaskEmail(reg.Email),
		"is_founder", reg.IsFounder,
		"is_pitching", reg.IsPitching,
	)
	if in.opts.OnSuccess != nil {
		in.opts.OnSuccess(ctx, reg)
	}
	return st, nil
}

func (in *Intake) persist(ctx context.Context, form domain.Form) (domain.Registration, error) {
	logger := util.LoggerFromContext(ctx)
	var (
		pitchURL string
		pitchKey string
	)
	if form.IsPitching && form.PitchFile != nil {
		if pages, err := countPDFPages(form.PitchFile.Content); err != nil {
			logger.Warn("pitch file not parseable", "filename", form.PitchFile.Filename, "err", err)
		} else {
			logger.Debug("pitch file inspected", "filename", form.PitchFile.Filename, "pages", pages)
		}
		pitchKey = in.opts.NewKey(form.PitchFile.Filename)
		url, err := in.adapter.UploadFile(ctx, form.PitchFile.Content, pitchKey)
		if err != nil {
			return domain.Registration{}, storeError(OpUpload, err)
		}
		pitchURL = url
	}
	reg, err := in.adapter.Insert(ctx, form.Application(pitchURL))
	if err != nil {
		if d, ok := in.adapter.(fileDiscarder); ok && pitchKey != "" {
			if derr := d.DiscardFile(context.WithoutCancel(ctx), pitchKey); derr != nil {
				logger.Warn("discard orphaned pitch file", "key", pitchKey, "err", derr)
			}
		}
		return domain.Registration{}, storeError(OpInsert, err)
	}
	return reg, nil
}
