// Package messaging delivers replies to farmers over WhatsApp.
//
// Several transports satisfy Service: the WhatsApp Cloud API, Twilio, a whatsmeow
// (WhatsApp Web) session and a dry-run logger used when nothing is configured.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"
)

// Transport names accepted by MESSAGING_TRANSPORT.
const (
	TransportCloud     = "cloud"
	TransportTwilio    = "twilio"
	TransportWhatsmeow = "whatsmeow"
	TransportDryRun    = "dry-run"
)

const (
	// DefaultSendTimeout bounds every outbound send.
	DefaultSendTimeout = 10 * time.Second
	// MinPhoneDigits is the shortest canonical phone accepted as a recipient.
	MinPhoneDigits = 6
)

var (
	// ErrNotConfigured is returned by transports that lack credentials.
	ErrNotConfigured = errors.New("messaging transport not configured")
	// ErrEmptyRecipient is returned when the recipient is blank.
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	// ErrEmptyBody is returned when a text message has no body.
	ErrEmptyBody = errors.New("message body cannot be empty")
)

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service sends text and image replies to a chat identity.
type Service interface {
	SendText(ctx context.Context, to, body string) error
	SendImage(ctx context.Context, to, link, caption string) error
	// Name identifies the transport for health reporting.
	Name() string
	// Configured reports whether the transport can actually deliver.
	Configured() bool
}

// CanonicalizePhone strips every non-digit (including a "whatsapp:" prefix or '+')
// and requires at least MinPhoneDigits digits.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	if canonical != recipient {
		slog.Debug("CanonicalizePhone: recipient modified", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Deliver sends a text reply and reports success. It never panics or returns an error.
func Deliver(ctx context.Context, svc Service, to, body string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Messaging.Deliver: panic recovered", "phone", to, "panic", r)
			ok = false
		}
	}()
	if svc == nil {
		slog.Warn("Messaging.Deliver: no service", "phone", to)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultSendTimeout)
	defer cancel()
	if err := svc.SendText(ctx, to, body); err != nil {
		if !errors.Is(err, ErrNotConfigured) {
			slog.Error("Messaging.Deliver: send failed", "transport", svc.Name(), "phone", to, "error", err)
		}
		return false
	}
	return true
}

// DeliverImage sends an image link with a caption and reports success.
func DeliverImage(ctx context.Context, svc Service, to, link, caption string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Messaging.DeliverImage: panic recovered", "phone", to, "panic", r)
			ok = false
		}
	}()
	if svc == nil {
		slog.Warn("Messaging.DeliverImage: no service", "phone", to)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultSendTimeout)
	defer cancel()
	if err := svc.SendImage(ctx, to, link, caption); err != nil {
		if !errors.Is(err, ErrNotConfigured) {
			slog.Error("Messaging.DeliverImage: send failed", "transport", svc.Name(), "phone", to, "error", err)
		}
		return false
	}
	return true
}
