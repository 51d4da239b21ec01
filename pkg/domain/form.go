package domain

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Form holds the raw intake input as entered by the applicant.
type Form struct {
	Name          string     `json:"name" validate:"required"`
	Phone         string     `json:"phone" validate:"required"`
	Email         string     `json:"email" validate:"required,email"`
	Organization  string     `json:"organization" validate:"required"`
	Position      string     `json:"position" validate:"required"`
	IsFounder     bool       `json:"isFounder"`
	CompanyName   string     `json:"companyName" validate:"required_if=IsFounder true"`
	IsPitching    bool       `json:"isPitching"`
	PitchFile     *PitchFile `json:"-" validate:"required_if=IsPitching true"`
	PrivacyAgreed bool       `json:"privacyAgreed" validate:"required"`
}

// Normalized returns a copy with surrounding whitespace removed from every
// text field.
func (f Form) Normalized() Form {
	f.Name = strings.TrimSpace(f.Name)
	f.Phone = strings.TrimSpace(f.Phone)
	f.Email = strings.TrimSpace(f.Email)
	f.Organization = strings.TrimSpace(f.Organization)
	f.Position = strings.TrimSpace(f.Position)
	f.CompanyName = strings.TrimSpace(f.CompanyName)
	return f
}

// MissingFields validates the normalized form and returns the json names of
// the fields that fail their precondition, in declaration order.
func (f Form) MissingFields() []string {
	err := validate.Struct(f.Normalized())
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{"form"}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, jsonFieldName(fe.StructField()))
	}
	return fields
}

// Application builds the store payload from the form. The company name is
// only carried for founders; the pitch URL only for pitching applicants.
func (f Form) Application(pitchFileURL string) Application {
	f = f.Normalized()
	app := Application{
		Name:          f.Name,
		Phone:         f.Phone,
		Email:         f.Email,
		Organization:  f.Organization,
		Position:      f.Position,
		IsFounder:     f.IsFounder,
		IsPitching:    f.IsPitching,
		PrivacyAgreed: f.PrivacyAgreed,
	}
	if f.IsFounder {
		app.CompanyName = f.CompanyName
	}
	if f.IsPitching {
		app.PitchFileURL = pitchFileURL
	}
	return app
}

func jsonFieldName(structField string) string {
	switch structField {
	case "Name":
		return "name"
	case "Phone":
		return "phone"
	case "Email":
		return "email"
	case "Organization":
		return "organization"
	case "Position":
		return "position"
	case "CompanyName":
		return "company_name"
	case "PitchFile":
		return "pitch_file"
	case "PrivacyAgreed":
		return "privacy_agreed"
	default:
		return strings.ToLower(structField)
	}
}
