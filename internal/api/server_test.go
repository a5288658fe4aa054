package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/AgriAI/internal/messaging"
	"github.com/BTreeMap/AgriAI/internal/models"
	"github.com/BTreeMap/AgriAI/internal/observability"
	"github.com/BTreeMap/AgriAI/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVerifyToken = "s3cret-token"

var testEpoch = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

// fakeDispatcher records dispatched messages. When release is non-nil every
// Dispatch blocks until it is closed.
type fakeDispatcher struct {
	mu      sync.Mutex
	got     []models.InboundMessage
	release chan struct{}
}

func (f *fakeDispatcher) Dispatch(_ context.Context, msg models.InboundMessage) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, msg)
}

func (f *fakeDispatcher) messages() []models.InboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.InboundMessage, len(f.got))
	copy(out, f.got)
	return out
}

type testServer struct {
	*Server
	dispatcher *fakeDispatcher
	store      *store.InMemoryStore
	metrics    *observability.Metrics
}

func newTestServer(t *testing.T, svc messaging.Service, opts ...Option) *testServer {
	t.Helper()
	d := &fakeDispatcher{}
	st := store.NewInMemoryStore(store.WithClock(clockwork.NewFakeClockAt(testEpoch)))
	m := observability.NewMetricsForTesting()
	opts = append([]Option{
		WithVerifyToken(testVerifyToken),
		WithMetrics(m),
		WithClock(clockwork.NewFakeClockAt(testEpoch)),
	}, opts...)
	return &testServer{Server: NewServer(d, st, svc, opts...), dispatcher: d, store: st, metrics: m}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.Wait(ctx))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), "body: %s", rec.Body.String())
}

func TestVerifyWebhook(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"valid", "hub.mode=subscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=1158201444", http.StatusOK, "1158201444"},
		{"bare aliases", "mode=subscribe&verify_token=" + testVerifyToken + "&challenge=42", http.StatusOK, "42"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=42", http.StatusForbidden, ""},
		{"missing params", "", http.StatusForbidden, ""},
		{"non-integer challenge", "hub.mode=subscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=abc", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, messaging.NewMockService())
			rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?"+tt.query, nil))
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
				return
			}
			var resp models.APIResponse
			decodeBody(t, rec, &resp)
			assert.Equal(t, string(models.APIStatusError), resp.Status)
		})
	}
}

func TestVerifyWebhook_NoTokenConfigured(t *testing.T) {
	ts := newTestServer(t, messaging.NewMockService(), WithVerifyToken(""))
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=&hub.challenge=1", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

const webhookBody = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "messages": [
          {"from": "254700000001", "id": "a", "type": "text", "text": {"body": "my maize leaves are yellow"}},
          {"from": "254700000002", "id": "b", "type": "image", "image": {"id": "img-1", "caption": "spots"}},
          {"from": "254700000003", "id": "c", "type": "audio", "audio": {"id": "aud-1"}}
        ]
      }
    }]
  }]
}`

func TestWhatsAppWebhook_DispatchesMessages(t *testing.T) {
	ts := newTestServer(t, messaging.NewMockService())
	rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(webhookBody)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	ts.wait(t)
	got := ts.dispatcher.messages()
	assert.ElementsMatch(t, []models.InboundMessage{
		{From: "254700000001", Kind: models.MessageKindText, Text: "my maize leaves are yellow"},
		{From: "254700000002", Kind: models.MessageKindImage, ImageID: "img-1", Caption: "spots"},
		{From: "254700000003", Kind: models.MessageKindAudio},
	}, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.WebhookPayloads.WithLabelValues(messaging.TransportCloud, outcomeAccepted)))
}

func TestWhatsAppWebhook_RespondsBeforeDispatchCompletes(t *testing.T) {
	ts := newTestServer(t, messaging.NewMockService())
	ts.dispatcher.release = make(chan struct{})

	rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(webhookBody)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, ts.dispatcher.messages())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ts.Wait(ctx), context.DeadlineExceeded)

	close(ts.dispatcher.release)
	ts.wait(t)
	assert.Len(t, ts.dispatcher.messages(), 3)
}

func TestWhatsAppWebhook_Malformed(t *testing.T) {
	ts := newTestServer(t, messaging.NewMockService())
	rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(`{"object": `)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.APIResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, string(models.APIStatusError), resp.Status)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.WebhookPayloads.WithLabelValues(messaging.TransportCloud, outcomeMalformed)))
	ts.wait(t)
	assert.Empty(t, ts.dispatcher.messages())
}

func TestWhatsAppWebhook_IgnoresOtherObjects(t *testing.T) {
	ts := newTestServer(t, messaging.NewMockService())
	body := strings.Replace(webhookBody, "whatsapp_business_account", "page", 1)
	rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	ts.wait(t)
	assert.Empty(t, ts.dispatcher.messages())
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.WebhookPayloads.WithLabelValues(messaging.TransportCloud, outcomeIgnored)))
}

func TestTwilioWebhook(t *testing.T) {
	ts := newTestServer(t, messaging.NewMockService())
	form := url.Values{
		"From":     {"whatsapp:+254700000009"},
		"Body":     {"JOIN ABCD1234"},
		"NumMedia": {"0"},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, emptyTwiML, rec.Body.String())
	assert.Equal(t, "text/xml", rec.Header().Get("Content-Type"))

	ts.wait(t)
	got := ts.dispatcher.messages()
	require.Len(t, got, 1)
	assert.Equal(t, models.MessageKindText, got[0].Kind)
	assert.Equal(t, "JOIN ABCD1234", got[0].Text)
}

func TestHealth(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		ts := newTestServer(t, messaging.NewMockService(), WithAIEnabled(true))
		rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp models.HealthResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, models.HealthResponse{
			Status:    "healthy",
			Timestamp: testEpoch.Format(time.RFC3339),
			Database:  "connected (memory)",
			WhatsApp:  "configured (mock)",
			AI:        "configured",
		}, resp)
		assert.NotContains(t, rec.Body.String(), testVerifyToken)
	})

	t.Run("unconfigured", func(t *testing.T) {
		ts := newTestServer(t, messaging.NewDryRunService())
		rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
		var resp models.HealthResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, "not configured", resp.WhatsApp)
		assert.Equal(t, "rule-based only", resp.AI)
	})
}

func seedDiagnosis(t *testing.T, st store.Store, phone, crop, issue string) {
	t.Helper()
	ctx := context.Background()
	u, err := st.CreateUser(ctx, models.User{Phone: phone, PrimaryCrop: crop})
	require.NoError(t, err)
	_, err = st.SaveDiagnosis(ctx, u.ID, models.Diagnosis{
		Crop: crop, Issue: issue, Confidence: 70, Recommendation: "Apply fertilizer",
		Risk: models.RiskMedium, Method: models.MethodRuleBased,
	})
	require.NoError(t, err)
}

func TestStats(t *testing.T) {
	ts := newTestServer(t, messaging.NewMockService())
	seedDiagnosis(t, ts.store, "254700000001", "maize", "Nitrogen deficiency")
	_, err := ts.store.CreateUser(context.Background(), models.User{Phone: "254700000002"})
	require.NoError(t, err)

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.StatsResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, models.StatsResponse{TotalUsers: 2, TotalDiagnoses: 1, Timestamp: testEpoch.Format(time.RFC3339)}, resp)
}

func TestDashboard(t *testing.T) {
	ts := newTestServer(t, messaging.NewMockService())

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "No diagnoses yet")

	seedDiagnosis(t, ts.store, "254700000001", "cassava", "Mosaic <virus>")
	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "<strong>cassava</strong>")
	assert.Contains(t, body, "Mosaic &lt;virus&gt;")
	assert.Contains(t, body, "70% confidence")
	assert.NotContains(t, body, "No diagnoses yet")
}

func TestDashboard_UnknownPathIsNotFound(t *testing.T) {
	ts := newTestServer(t, messaging.NewMockService())
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, messaging.NewMockService(), WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("agriai_up 1\n"))
	})))
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "agriai_up 1\n", rec.Body.String())
}

func TestSubmit_BoundedFanout(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	d := dispatcherFunc(func(context.Context, models.InboundMessage) {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
	})
	s := NewServer(d, store.NewInMemoryStore(), messaging.NewMockService(), WithFanout(2), WithVerifyToken(testVerifyToken))

	msgs := make([]models.InboundMessage, 10)
	for i := range msgs {
		msgs[i] = models.InboundMessage{From: "254700000001", Kind: models.MessageKindText, Text: "hi"}
	}
	s.Submit(msgs...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	assert.LessOrEqual(t, maxSeen, 2)
	assert.Positive(t, maxSeen)
}

type dispatcherFunc func(context.Context, models.InboundMessage)

func (f dispatcherFunc) Dispatch(ctx context.Context, msg models.InboundMessage) { f(ctx, msg) }

func TestRefreshStoreGauges(t *testing.T) {
	st := store.NewInMemoryStore()
	m := observability.NewMetricsForTesting()
	seedDiagnosis(t, st, "254700000001", "maize", "Rust")

	refreshStoreGauges(context.Background(), st, m)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoredUsers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoredDiagnoses))
}
