package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCloudServer(t *testing.T, status int, got *cloudMessage) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/PHONE123/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCloudAPIService_SendText(t *testing.T) {
	var got cloudMessage
	srv := newCloudServer(t, http.StatusOK, &got)
	svc := NewCloudAPIService(WithAccessToken("secret"), WithPhoneID("PHONE123"), WithGraphURL(srv.URL+"/"))

	require.NoError(t, svc.SendText(context.Background(), "+254 700 000001", "hello"))
	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "254700000001", got.To)
	assert.Equal(t, "text", got.Type)
	require.NotNil(t, got.Text)
	assert.Equal(t, "hello", got.Text.Body)
	assert.Nil(t, got.Image)
}

func TestCloudAPIService_SendImage(t *testing.T) {
	var got cloudMessage
	srv := newCloudServer(t, http.StatusOK, &got)
	svc := NewCloudAPIService(WithAccessToken("secret"), WithPhoneID("PHONE123"), WithGraphURL(srv.URL))

	require.NoError(t, svc.SendImage(context.Background(), "254700000001", "https://example.com/leaf.jpg", "Rust"))
	assert.Equal(t, "image", got.Type)
	require.NotNil(t, got.Image)
	assert.Equal(t, "https://example.com/leaf.jpg", got.Image.Link)
	assert.Equal(t, "Rust", got.Image.Caption)
}

func TestCloudAPIService_NonOKStatus(t *testing.T) {
	var got cloudMessage
	srv := newCloudServer(t, http.StatusUnauthorized, &got)
	svc := NewCloudAPIService(WithAccessToken("secret"), WithPhoneID("PHONE123"), WithGraphURL(srv.URL))

	err := svc.SendText(context.Background(), "254700000001", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.False(t, Deliver(context.Background(), svc, "254700000001", "hello"))
}

func TestCloudAPIService_NotConfigured(t *testing.T) {
	svc := NewCloudAPIService(WithPhoneID("PHONE123"))
	assert.False(t, svc.Configured())
	assert.ErrorIs(t, svc.SendText(context.Background(), "254700000001", "hi"), ErrNotConfigured)
	assert.Equal(t, TransportCloud, svc.Name())
}
