package app

import (
	"context"
	"errors"
	"slices"
	"testing"

	"foundersforum/pkg/domain"
)

func newTestIntake(adapter StorageAdapter) *Intake {
	return NewIntake(adapter, IntakeOptions{MaxUploadBytes: 1 << 20, NewKey: fixedKey})
}

func TestIntakeSubmitInsertsOnce(t *testing.T) {
	adapter := &fakeAdapter{}
	in := newTestIntake(adapter)
	form := validForm()
	form.Name = "  Alice Kim "
	if err := in.SetForm(form); err != nil {
		t.Fatalf("set form: %v", err)
	}

	st, err := in.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if st.Phase != IntakeSuccess {
		t.Fatalf("expected success, got %s", st.Phase)
	}
	inserts, uploads, _ := adapter.counts()
	if inserts != 1 || uploads != 0 {
		t.Fatalf("expected 1 insert and 0 uploads, got %d/%d", inserts, uploads)
	}
	want := domain.Application{
		Name:          "Alice Kim",
		Phone:         "010-1111-2222",
		Email:         "alice@example.com",
		Organization:  "Acme",
		Position:      "CEO",
		PrivacyAgreed: true,
	}
	if adapter.inserts[0] != want {
		t.Fatalf("unexpected payload: %+v", adapter.inserts[0])
	}
	if st.Confirmation == nil || st.Confirmation.Name != "Alice Kim" || st.Confirmation.Email != "alice@example.com" {
		t.Fatalf("unexpected confirmation: %+v", st.Confirmation)
	}
	if st.Form != (domain.Form{}) {
		t.Fatalf("expected form reset, got %+v", st.Form)
	}
	if st.Registration == nil || st.Registration.ID == "" {
		t.Fatalf("expected stored registration, got %+v", st.Registration)
	}
}

func TestIntakeValidationBlocksStoreCalls(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Form)
		field  string
	}{
		{"missing name", func(f *domain.Form) { f.Name = "   " }, "name"},
		{"missing phone", func(f *domain.Form) { f.Phone = "" }, "phone"},
		{"bad email", func(f *domain.Form) { f.Email = "not-an-email" }, "email"},
		{"missing organization", func(f *domain.Form) { f.Organization = "" }, "organization"},
		{"missing position", func(f *domain.Form) { f.Position = "" }, "position"},
		{"consent withheld", func(f *domain.Form) { f.PrivacyAgreed = false }, "privacy_agreed"},
		{"founder without company", func(f *domain.Form) { f.IsFounder = true }, "company_name"},
		{"pitching without file", func(f *domain.Form) { f.IsPitching = true }, "pitch_file"},
		{"pitching with non-pdf", func(f *domain.Form) {
			f.IsPitching = true
			f.PitchFile = &domain.PitchFile{Filename: "deck.pptx", Content: []byte("PK")}
		}, "pitch_file"},
		{"pitching with empty pdf", func(f *domain.Form) {
			f.IsPitching = true
			f.PitchFile = &domain.PitchFile{Filename: "deck.pdf"}
		}, "pitch_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := &fakeAdapter{}
			in := newTestIntake(adapter)
			form := validForm()
			tt.mutate(&form)
			_ = in.SetForm(form)

			st, err := in.Submit(context.Background())
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !slices.Contains(ve.Fields, tt.field) {
				t.Fatalf("expected %q in %v", tt.field, ve.Fields)
			}
			if st.Phase != IntakeIdle {
				t.Fatalf("expected phase unchanged, got %s", st.Phase)
			}
			if inserts, uploads, _ := adapter.counts(); inserts != 0 || uploads != 0 {
				t.Fatalf("expected no store calls, got %d inserts %d uploads", inserts, uploads)
			}
		})
	}
}

func TestIntakePitchFileTooLarge(t *testing.T) {
	adapter := &fakeAdapter{}
	in := NewIntake(adapter, IntakeOptions{MaxUploadBytes: 8, NewKey: fixedKey})
	form := validForm()
	form.IsPitching = true
	form.PitchFile = validPDF()
	_ = in.SetForm(form)

	_, err := in.Submit(context.Background())
	var ve *ValidationError
	if !errors.As(err, &ve) || !slices.Contains(ve.Fields, "pitch_file") {
		t.Fatalf("expected pitch_file validation error, got %v", err)
	}
}

func TestIntakeNonFounderDropsCompanyName(t *testing.T) {
	adapter := &fakeAdapter{}
	in := newTestIntake(adapter)
	form := validForm()
	form.CompanyName = "Leftover Inc"
	_ = in.SetForm(form)

	if _, err := in.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := adapter.inserts[0].CompanyName; got != "" {
		t.Fatalf("expected company name dropped, got %q", got)
	}
}

func TestIntakePitchingUploadsBeforeInsert(t *testing.T) {
	adapter := &fakeAdapter{}
	in := newTestIntake(adapter)
	form := validForm()
	form.IsFounder = true
	form.CompanyName = "Acme Labs"
	form.IsPitching = true
	form.PitchFile = validPDF()
	_ = in.SetForm(form)

	if _, err := in.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	inserts, uploads, _ := adapter.counts()
	if inserts != 1 || uploads != 1 {
		t.Fatalf("expected 1 insert and 1 upload, got %d/%d", inserts, uploads)
	}
	got := adapter.inserts[0]
	if got.PitchFileURL != "https://files.test/pitch-files/"+fixedKey("deck.pdf") {
		t.Fatalf("unexpected pitch url %q", got.PitchFileURL)
	}
	if got.CompanyName != "Acme Labs" || !got.IsFounder || !got.IsPitching {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestIntakeAttachedFileIgnoredWhenNotPitching(t *testing.T) {
	adapter := &fakeAdapter{}
	in := newTestIntake(adapter)
	form := validForm()
	form.PitchFile = &domain.PitchFile{Filename: "notes.txt", Content: []byte("hello")}
	_ = in.SetForm(form)

	if _, err := in.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, uploads, _ := adapter.counts(); uploads != 0 {
		t.Fatalf("expected no upload, got %d", uploads)
	}
	if adapter.inserts[0].PitchFileURL != "" {
		t.Fatalf("expected empty pitch url, got %q", adapter.inserts[0].PitchFileURL)
	}
}

func TestIntakeInsertFailureKeepsForm(t *testing.T) {
	adapter := &fakeAdapter{insertErr: errors.New("connection refused")}
	in := newTestIntake(adapter)
	form := validForm()
	_ = in.SetForm(form)

	st, err := in.Submit(context.Background())
	var se *StoreError
	if !errors.As(err, &se) || se.Op != OpInsert {
		t.Fatalf("expected insert store error, got %v", err)
	}
	if st.Phase != IntakeError {
		t.Fatalf("expected error phase, got %s", st.Phase)
	}
	if st.ErrorMessage == "" {
		t.Fatalf("expected user message")
	}
	if st.Form != form {
		t.Fatalf("expected form preserved, got %+v", st.Form)
	}
	if st.Confirmation != nil {
		t.Fatalf("unexpected confirmation")
	}
}

func TestIntakeInsertFailureDiscardsUpload(t *testing.T) {
	adapter := &fakeAdapter{insertErr: errors.New("timeout")}
	in := newTestIntake(adapter)
	form := validForm()
	form.IsPitching = true
	form.PitchFile = validPDF()
	_ = in.SetForm(form)

	if _, err := in.Submit(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if len(adapter.discarded) != 1 || adapter.discarded[0] != fixedKey("deck.pdf") {
		t.Fatalf("expected uploaded key discarded, got %v", adapter.discarded)
	}
}

func TestIntakeUploadFailureSkipsInsert(t *testing.T) {
	adapter := &fakeAdapter{uploadErr: errors.New("bucket gone")}
	in := newTestIntake(adapter)
	form := validForm()
	form.IsPitching = true
	form.PitchFile = validPDF()
	_ = in.SetForm(form)

	st, err := in.Submit(context.Background())
	var se *StoreError
	if !errors.As(err, &se) || se.Op != OpUpload {
		t.Fatalf("expected upload store error, got %v", err)
	}
	if inserts, _, _ := adapter.counts(); inserts != 0 {
		t.Fatalf("expected no insert, got %d", inserts)
	}
	if st.Phase != IntakeError || st.Form.PitchFile == nil {
		t.Fatalf("expected error phase with form kept, got %+v", st)
	}
}

func TestIntakeRetryAfterError(t *testing.T) {
	adapter := &fakeAdapter{insertErr: errors.New("flaky")}
	in := newTestIntake(adapter)
	_ = in.SetForm(validForm())
	if _, err := in.Submit(context.Background()); err == nil {
		t.Fatalf("expected first submit to fail")
	}

	adapter.mu.Lock()
	adapter.insertErr = nil
	adapter.mu.Unlock()

	st, err := in.Submit(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if st.Phase != IntakeSuccess || st.ErrorMessage != "" {
		t.Fatalf("unexpected state after retry: %+v", st)
	}
}

func TestIntakeSubmitAfterSuccessRequiresDismiss(t *testing.T) {
	adapter := &fakeAdapter{}
	in := newTestIntake(adapter)
	_ = in.SetForm(validForm())
	if _, err := in.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_ = in.SetForm(validForm())
	if _, err := in.Submit(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if err := in.Dismiss(); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	st := in.State()
	if st.Phase != IntakeIdle || st.Confirmation != nil {
		t.Fatalf("unexpected state after dismiss: %+v", st)
	}
	if _, err := in.Submit(context.Background()); err != nil {
		t.Fatalf("submit after dismiss: %v", err)
	}
	if inserts, _, _ := adapter.counts(); inserts != 2 {
		t.Fatalf("expected 2 inserts, got %d", inserts)
	}
}

func TestIntakeDoubleSubmitInsertsOnce(t *testing.T) {
	adapter := &fakeAdapter{entered: make(chan struct{}), release: make(chan struct{})}
	in := newTestIntake(adapter)
	_ = in.SetForm(validForm())

	done := make(chan error, 1)
	go func() {
		_, err := in.Submit(context.Background())
		done <- err
	}()
	<-adapter.entered

	st, err := in.Submit(context.Background())
	if !errors.Is(err, ErrSubmitInProgress) {
		t.Fatalf("expected ErrSubmitInProgress, got %v", err)
	}
	if !st.Submitting {
		t.Fatalf("expected submitting state, got %+v", st)
	}
	if err := in.SetForm(domain.Form{}); !errors.Is(err, ErrSubmitInProgress) {
		t.Fatalf("expected form edits rejected, got %v", err)
	}
	if err := in.Dismiss(); !errors.Is(err, ErrSubmitInProgress) {
		t.Fatalf("expected dismiss rejected, got %v", err)
	}

	close(adapter.release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if inserts, _, _ := adapter.counts(); inserts != 1 {
		t.Fatalf("expected exactly one insert, got %d", inserts)
	}
}

func TestIntakeOnSuccessHook(t *testing.T) {
	adapter := &fakeAdapter{}
	var got []domain.Registration
	in := NewIntake(adapter, IntakeOptions{
		NewKey: fixedKey,
		OnSuccess: func(_ context.Context, reg domain.Registration) {
			got = append(got, reg)
		},
	})
	_ = in.SetForm(validForm())
	if _, err := in.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(got) != 1 || got[0].Email != "alice@example.com" {
		t.Fatalf("unexpected hook calls: %+v", got)
	}

	failing := NewIntake(&fakeAdapter{insertErr: errors.New("down")}, IntakeOptions{
		OnSuccess: func(context.Context, domain.Registration) { t.Fatalf("hook must not run on failure") },
	})
	_ = failing.SetForm(validForm())
	_, _ = failing.Submit(context.Background())
}

func TestIntakeValidateReportsBlockingFields(t *testing.T) {
	adapter := &fakeAdapter{}
	in := newTestIntake(adapter)
	if got := in.Validate(); !slices.Equal(got, []string{"name", "phone", "email", "organization", "position", "privacy_agreed"}) {
		t.Fatalf("empty form fields = %v", got)
	}

	form := validForm()
	form.IsPitching = true
	form.PitchFile = &domain.PitchFile{Filename: "deck.pptx", Content: []byte("PK")}
	if err := in.SetForm(form); err != nil {
		t.Fatalf("set form: %v", err)
	}
	if got := in.Validate(); !slices.Equal(got, []string{"pitch_file"}) {
		t.Fatalf("bad pitch file fields = %v", got)
	}

	form.PitchFile = validPDF()
	_ = in.SetForm(form)
	if got := in.Validate(); len(got) != 0 {
		t.Fatalf("valid form fields = %v", got)
	}
	if inserts, uploads, _ := adapter.counts(); inserts != 0 || uploads != 0 {
		t.Fatalf("validate touched the store: %d/%d", inserts, uploads)
	}
}
