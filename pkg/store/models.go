package store

import (
	"time"

	"foundersforum/pkg/domain"
)

// RegistrationModel is the GORM row for the registrations table.
type RegistrationModel struct {
	ID            string    `gorm:"primaryKey"`
	Name          string    `gorm:"not null"`
	Phone         string    `gorm:"not null"`
	Email         string    `gorm:"not null"`
	Organization  string    `gorm:"not null"`
	Position      string    `gorm:"not null"`
	IsFounder     bool      `gorm:"not null;default:false"`
	CompanyName   *string
	IsPitching    bool `gorm:"not null;default:false"`
	PitchFileURL  *string
	PrivacyAgreed bool      `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;index"`
}

// TableName pins the table name used by the hosted schema.
func (RegistrationModel) TableName() string {
	return "registrations"
}

func registrationToModel(id string, app domain.Application, createdAt time.Time) RegistrationModel {
	return RegistrationModel{
		ID:            id,
		Name:          app.Name,
		Phone:         app.Phone,
		Email:         app.Email,
		Organization:  app.Organization,
		Position:      app.Position,
		IsFounder:     app.IsFounder,
		CompanyName:   optionalString(app.CompanyName),
		IsPitching:    app.IsPitching,
		PitchFileURL:  optionalString(app.PitchFileURL),
		PrivacyAgreed: app.PrivacyAgreed,
		CreatedAt:     createdAt,
	}
}

func registrationFromModel(m RegistrationModel) domain.Registration {
	return domain.Registration{
		ID: m.ID,
		Application: domain.Application{
			Name:          m.Name,
			Phone:         m.Phone,
			Email:         m.Email,
			Organization:  m.Organization,
			Position:      m.Position,
			IsFounder:     m.IsFounder,
			CompanyName:   derefString(m.CompanyName),
			IsPitching:    m.IsPitching,
			PitchFileURL:  derefString(m.PitchFileURL),
			PrivacyAgreed: m.PrivacyAgreed,
		},
		CreatedAt: m.CreatedAt,
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
