// Package models defines the core data structures for AgriAI.
//
// It includes farmer users, diagnoses, feedback and the ephemeral weather snapshot,
// which are shared across the store, diagnosis, dispatch and api modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// RiskLevel describes how urgently a diagnosed issue needs attention.
type RiskLevel string

const (
	// RiskLow indicates the issue can wait.
	RiskLow RiskLevel = "low"
	// RiskMedium indicates the issue should be addressed soon.
	RiskMedium RiskLevel = "medium"
	// RiskHigh indicates the issue threatens the crop.
	RiskHigh RiskLevel = "high"
	// RiskUnknown is used when the risk could not be assessed.
	RiskUnknown RiskLevel = "unknown"
)

// DiagnosisMethod records which tier of the diagnosis engine produced a result.
type DiagnosisMethod string

const (
	// MethodAI marks a diagnosis produced by the remote language model.
	MethodAI DiagnosisMethod = "ai"
	// MethodRuleBased marks a diagnosis produced by the keyword classifier.
	MethodRuleBased DiagnosisMethod = "rule-based"
)

// Confidence bounds for a diagnosis.
const (
	MinConfidence = 0
	MaxConfidence = 100
)

const (
	// DefaultUserName is assigned to users created on first contact.
	DefaultUserName = "Farmer"
	// UnknownValue is used for absent crop and location values.
	UnknownValue = "unknown"
	// PremiumReferralThreshold is the referral count that unlocks premium features.
	PremiumReferralThreshold = 3
)

// Error variables for validation
var (
	ErrEmptyPhone           = errors.New("phone cannot be empty")
	ErrEmptyIssue           = errors.New("diagnosis issue cannot be empty")
	ErrEmptyRecommendation  = errors.New("diagnosis recommendation cannot be empty")
	ErrConfidenceOutOfRange = errors.New("confidence must be between 0 and 100")
	ErrInvalidRiskLevel     = errors.New("invalid risk level")
	ErrInvalidMethod        = errors.New("invalid diagnosis method")
	ErrEmptyUserID          = errors.New("user id cannot be empty")
	ErrEmptyFeedbackKind    = errors.New("feedback kind cannot be empty")
)

// IsValidRiskLevel checks if the given risk level is one of the enumerated literals.
func IsValidRiskLevel(r RiskLevel) bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskUnknown:
		return true
	default:
		return false
	}
}

// NormalizeRiskLevel maps free text onto a RiskLevel, returning RiskUnknown for anything unrecognised.
func NormalizeRiskLevel(s string) RiskLevel {
	r := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if IsValidRiskLevel(r) {
		return r
	}
	return RiskUnknown
}

// ClampConfidence bounds a confidence score to [MinConfidence, MaxConfidence].
func ClampConfidence(c int) int {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// User is a farmer identified by the phone number they message from.
type User struct {
	ID           string    `json:"id"`
	Phone        string    `json:"phone"`
	Name         string    `json:"name"`
	PrimaryCrop  string    `json:"primary_crop,omitempty"`
	Location     string    `json:"location,omitempty"`
	ReferralCode string    `json:"referral_code"`
	Referrals    int       `json:"referrals"`
	CreatedAt    time.Time `json:"created_at"`
}

// CropOrUnknown returns the user's primary crop, or "unknown" when none is stored.
func (u User) CropOrUnknown() string {
	if strings.TrimSpace(u.PrimaryCrop) == "" {
		return UnknownValue
	}
	return u.PrimaryCrop
}

// LocationOrUnknown returns the user's location, or "unknown" when none is stored.
func (u User) LocationOrUnknown() string {
	if strings.TrimSpace(u.Location) == "" {
		return UnknownValue
	}
	return u.Location
}

// HasLocation reports whether a weather lookup is possible for this user.
func (u User) HasLocation() bool {
	return strings.TrimSpace(u.Location) != ""
}

// Validate checks the fields required to persist a user.
func (u *User) Validate() error {
	if u.Phone == "" {
		return ErrEmptyPhone
	}
	return nil
}

// Diagnosis is the structured outcome of analysing a farmer's observation.
// Its JSON shape is also the contract requested from the remote model.
type Diagnosis struct {
	Crop           string          `json:"crop"`
	Issue          string          `json:"issue"`
	Confidence     int             `json:"confidence"`
	Recommendation string          `json:"recommendation"`
	Risk           RiskLevel       `json:"risk"`
	Method         DiagnosisMethod `json:"method"`
}

// Validate performs validation on a Diagnosis.
func (d *Diagnosis) Validate() error {
	if d.Issue == "" {
		return ErrEmptyIssue
	}
	if d.Recommendation == "" {
		return ErrEmptyRecommendation
	}
	if d.Confidence < MinConfidence || d.Confidence > MaxConfidence {
		return ErrConfidenceOutOfRange
	}
	if !IsValidRiskLevel(d.Risk) {
		return ErrInvalidRiskLevel
	}
	if d.Method != MethodAI && d.Method != MethodRuleBased {
		return ErrInvalidMethod
	}
	return nil
}

// DiagnosisRecord is a persisted Diagnosis linked to the user who asked for it.
type DiagnosisRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Diagnosis
}

// Feedback kinds sent in reply to a diagnosis.
const (
	FeedbackHelpful    = "helpful"
	FeedbackNotHelpful = "not_helpful"
)

// Feedback is a farmer's rating of a diagnosis. Feedback is append-only.
type Feedback struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	DiagnosisID string    `json:"diagnosis_id"`
	Kind        string    `json:"feedback_type"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the fields required to persist feedback.
func (f *Feedback) Validate() error {
	if f.UserID == "" {
		return ErrEmptyUserID
	}
	if f.Kind == "" {
		return ErrEmptyFeedbackKind
	}
	return nil
}

// WeatherSnapshot holds current and daily conditions at a user's location.
// It is fetched per diagnosis request and never persisted.
type WeatherSnapshot struct {
	Temperature      float64 `json:"temperature"`       // °C
	WindSpeed        float64 `json:"windspeed"`         // km/h
	TemperatureMax   float64 `json:"temperature_max"`   // °C, today
	TemperatureMin   float64 `json:"temperature_min"`   // °C, today
	PrecipitationSum float64 `json:"precipitation_sum"` // mm, today
}

// Stats summarises stored records for the dashboard and /stats endpoint.
type Stats struct {
	TotalUsers     int `json:"total_users"`
	TotalDiagnoses int `json:"total_diagnoses"`
}
