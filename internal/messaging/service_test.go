package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"254712345678", "254712345678", false},
		{"+254 712-345-678", "254712345678", false},
		{"whatsapp:+14155238886", "14155238886", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CanonicalizePhone(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type panickingService struct{ MockService }

func (p *panickingService) SendText(context.Context, string, string) error { panic("boom") }

func (p *panickingService) SendImage(context.Context, string, string, string) error {
	panic("boom")
}

func TestDeliver(t *testing.T) {
	ctx := context.Background()

	mock := NewMockService()
	assert.True(t, Deliver(ctx, mock, "254700000001", "hello"))
	assert.True(t, DeliverImage(ctx, mock, "254700000001", "https://example.com/a.png", "leaf"))
	sent := mock.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "hello", sent[0].Body)
	assert.Equal(t, "https://example.com/a.png", sent[1].Link)
	assert.Equal(t, []string{"hello", ""}, mock.SentTo("254700000001"))

	mock.Err = errors.New("network down")
	assert.False(t, Deliver(ctx, mock, "254700000001", "hello"))

	assert.False(t, Deliver(ctx, NewDryRunService(), "254700000001", "hello"))
	assert.False(t, DeliverImage(ctx, NewDryRunService(), "254700000001", "x", "y"))
	assert.False(t, Deliver(ctx, nil, "254700000001", "hello"))

	assert.NotPanics(t, func() {
		assert.False(t, Deliver(ctx, &panickingService{}, "254700000001", "hello"))
		assert.False(t, DeliverImage(ctx, &panickingService{}, "254700000001", "x", "y"))
	})
}

func TestDryRunService(t *testing.T) {
	svc := NewDryRunService()
	assert.Equal(t, TransportDryRun, svc.Name())
	assert.False(t, svc.Configured())
	assert.ErrorIs(t, svc.SendText(context.Background(), "254700000001", "hi"), ErrNotConfigured)
}
