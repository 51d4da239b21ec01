package app

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSubmitInProgress is returned when a submit is already in flight.
	ErrSubmitInProgress = errors.New("submission already in progress")
	// ErrSearchInProgress is returned when a lookup is already in flight.
	ErrSearchInProgress = errors.New("search already in progress")
	// ErrLookupReset is returned when the lookup was reset while its search ran.
	ErrLookupReset = errors.New("lookup reset during search")
	// ErrInvalidTransition is returned for a state change the workflow does not allow,
	// e.g. submitting again before the confirmation is dismissed.
	ErrInvalidTransition = errors.New("invalid workflow transition")
	// ErrAdminDisabled is returned when no admin credentials are configured.
	ErrAdminDisabled = errors.New("admin export disabled")
	// ErrInvalidCredentials is returned for a wrong admin password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Store operations named in StoreError.
const (
	OpUpload = "upload"
	OpInsert = "insert"
	OpSearch = "search"
	OpList   = "list"
)

// ValidationError lists the fields that failed their precondition. No store
// call is made when it is returned.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid fields: " + strings.Join(e.Fields, ", ")
}

// StoreError wraps any failure of the storage collaborator.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// UserMessage is the readable text surfaced to the applicant.
func (e *StoreError) UserMessage() string {
	switch e.Op {
	case OpUpload:
		return "피칭 파일 업로드 중 오류가 발생했습니다. 잠시 후 다시 시도해주세요."
	case OpInsert:
		return "참가신청 중 오류가 발생했습니다. 잠시 후 다시 시도해주세요."
	case OpSearch:
		return "검색 중 오류가 발생했습니다. 잠시 후 다시 시도해주세요."
	default:
		return "일시적인 오류가 발생했습니다."
	}
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func userMessage(err error) string {
	var se *StoreError
	if errors.As(err, &se) {
		return se.UserMessage()
	}
	return "일시적인 오류가 발생했습니다."
}
