package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"strconv"
	"syscall"

	"github.com/BTreeMap/AgriAI/internal/models"
	"github.com/BTreeMap/AgriAI/internal/store"
)

// Category groups failures for the user-visible error reply.
type Category string

const (
	CategoryTimeout      Category = "timeout"
	CategoryConnectivity Category = "connectivity"
	CategoryParse        Category = "parse"
	CategoryLookup       Category = "lookup"
	CategoryValidation   Category = "validation"
	CategoryGeneric      Category = "generic"
)

var categoryMessages = map[Category]string{
	CategoryTimeout:      "⏱️ That took too long. Please try again in a moment.",
	CategoryConnectivity: "📡 Connection problem on our side. Please try again shortly.",
	CategoryParse:        "🤔 Sorry, I couldn't understand that. Please describe your crop issue again.",
	CategoryLookup:       "🔍 We couldn't load your account right now. Please try again.",
	CategoryValidation:   "⚠️ That message looks incomplete. Send HELP to see what I can do.",
	CategoryGeneric:      "❌ Something went wrong. Please try again later.",
}

// Categorize maps an error to the category shown to the farmer.
func Categorize(err error) Category {
	if err == nil {
		return CategoryGeneric
	}
	var (
		netErr    net.Error
		opErr     *net.OpError
		dnsErr    *net.DNSError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		numErr    *strconv.NumError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return CategoryTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return CategoryTimeout
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.As(err, &opErr), errors.As(err, &dnsErr):
		return CategoryConnectivity
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.As(err, &numErr):
		return CategoryParse
	case errors.Is(err, store.ErrNotFound):
		return CategoryLookup
	case errors.Is(err, ErrEmptyText), errors.Is(err, ErrMissingReferralCode),
		errors.Is(err, models.ErrEmptyPhone), errors.Is(err, models.ErrEmptyUserID),
		errors.Is(err, models.ErrEmptyFeedbackKind):
		return CategoryValidation
	}
	return CategoryGeneric
}

// CategoryMessage returns the localized reply for a category.
func CategoryMessage(c Category) string {
	if msg, ok := categoryMessages[c]; ok {
		return msg
	}
	return categoryMessages[CategoryGeneric]
}

// ErrorMessage returns the localized reply for err.
func ErrorMessage(err error) string {
	return CategoryMessage(Categorize(err))
}
