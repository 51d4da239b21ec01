package domain

import (
	"strings"
	"time"
)

// Application is the registration payload written to the store. It carries
// every persisted field except the store-assigned id and created_at.
type Application struct {
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	Organization  string `json:"organization"`
	Position      string `json:"position"`
	IsFounder     bool   `json:"is_founder"`
	CompanyName   string `json:"company_name,omitempty"`
	IsPitching    bool   `json:"is_pitching"`
	PitchFileURL  string `json:"pitch_file_url,omitempty"`
	PrivacyAgreed bool   `json:"privacy_agreed"`
}

// Registration is a persisted application.
type Registration struct {
	ID string `json:"id"`
	Application
	CreatedAt time.Time `json:"created_at"`
}

// PitchFile is an uploaded pitch deck. It only lives for the duration of a
// submission.
type PitchFile struct {
	Filename string
	Content  []byte
}

// Size returns the payload length in bytes.
func (p *PitchFile) Size() int64 {
	if p == nil {
		return 0
	}
	return int64(len(p.Content))
}

// MatchesIdentity reports whether the registration belongs to the given
// name/email pair. Both fields must match exactly, ignoring case.
func (r Registration) MatchesIdentity(name, email string) bool {
	return strings.EqualFold(r.Name, name) && strings.EqualFold(r.Email, email)
}
