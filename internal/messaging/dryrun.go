package messaging

import (
	"context"
	"log/slog"
)

// DryRunService logs outbound messages instead of sending them.
// Every send reports ErrNotConfigured so callers see the message as undelivered.
type DryRunService struct{}

// NewDryRunService creates a DryRunService.
func NewDryRunService() *DryRunService {
	return &DryRunService{}
}

func (s *DryRunService) SendText(_ context.Context, to, body string) error {
	slog.Info("DryRunService: would send", "phone", to, "body", body)
	return ErrNotConfigured
}

func (s *DryRunService) SendImage(_ context.Context, to, link, caption string) error {
	slog.Info("DryRunService: would send image", "phone", to, "link", link, "caption", caption)
	return ErrNotConfigured
}

func (s *DryRunService) Name() string { return TransportDryRun }

func (s *DryRunService) Configured() bool { return false }
