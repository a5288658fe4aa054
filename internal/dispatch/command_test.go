package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/BTreeMap/AgriAI/internal/models"
	"github.com/BTreeMap/AgriAI/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		want Command
		err  error
	}{
		{"help", CommandHelp{}, nil},
		{"  MENU ", CommandHelp{}, nil},
		{"Start", CommandHelp{}, nil},
		{"help me with maize", CommandDiagnose{Text: "help me with maize"}, nil},
		{"JOIN ab12cd34", CommandJoin{Code: "AB12CD34"}, nil},
		{"join  ab12cd34 please", CommandJoin{Code: "AB12CD34"}, nil},
		{"JOIN ", nil, ErrMissingReferralCode},
		{"join", CommandDiagnose{Text: "join"}, nil},
		{"joining a cooperative", CommandDiagnose{Text: "joining a cooperative"}, nil},
		{"YES", CommandFeedback{Helpful: true}, nil},
		{" no ", CommandFeedback{Helpful: false}, nil},
		{"yes the leaves are yellow", CommandDiagnose{Text: "yes the leaves are yellow"}, nil},
		{"", nil, ErrEmptyText},
		{"   ", nil, ErrEmptyText},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := ParseCommand(tt.text)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestCategorize(t *testing.T) {
	syntaxErr := json.Unmarshal([]byte("{x"), &struct{}{})
	require.Error(t, syntaxErr)

	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"deadline", context.DeadlineExceeded, CategoryTimeout},
		{"wrapped deadline", fmt.Errorf("diagnose: %w", context.DeadlineExceeded), CategoryTimeout},
		{"net timeout", timeoutErr{}, CategoryTimeout},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), CategoryConnectivity},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.groq.com"}, CategoryConnectivity},
		{"json", syntaxErr, CategoryParse},
		{"not found", fmt.Errorf("user: %w", store.ErrNotFound), CategoryLookup},
		{"empty text", ErrEmptyText, CategoryValidation},
		{"missing code", ErrMissingReferralCode, CategoryValidation},
		{"empty phone", models.ErrEmptyPhone, CategoryValidation},
		{"other", errors.New("boom"), CategoryGeneric},
		{"nil", nil, CategoryGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.err))
		})
	}
}

func TestCategoryMessage(t *testing.T) {
	for _, c := range []Category{CategoryTimeout, CategoryConnectivity, CategoryParse, CategoryLookup, CategoryValidation, CategoryGeneric} {
		assert.NotEmpty(t, CategoryMessage(c), c)
	}
	assert.Equal(t, CategoryMessage(CategoryGeneric), CategoryMessage("unheard-of"))
	assert.Equal(t, CategoryMessage(CategoryValidation), ErrorMessage(ErrEmptyText))
}

func TestFormatDiagnosis(t *testing.T) {
	out := FormatDiagnosis(models.Diagnosis{
		Crop: "maize", Issue: "Rust", Confidence: 82, Recommendation: "Spray fungicide",
		Risk: models.RiskHigh, Method: models.MethodAI,
	})
	assert.Contains(t, out, "*Diagnosis for maize*")
	assert.Contains(t, out, "*Issue:* Rust")
	assert.Contains(t, out, "*Confidence:* 82%")
	assert.Contains(t, out, "Spray fungicide")
	assert.Contains(t, out, "*Risk Level:* high")
	assert.Contains(t, out, "Reply: YES or NO for feedback")
}

func TestReferralMessages(t *testing.T) {
	assert.Equal(t, "✅ New referral! (2/3 for premium)", referralProgressMessage(2))
	assert.Contains(t, premiumUnlockedMessage(3), "You've referred 3 farmers!")
	assert.Contains(t, referralWelcomeMessage("Amina"), "Referred by Amina.")
	assert.Contains(t, referralWelcomeMessage(""), "Referred by a farmer.")
}
