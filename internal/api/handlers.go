package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BTreeMap/AgriAI/internal/messaging"
	"github.com/BTreeMap/AgriAI/internal/models"
)

// Webhook verification query parameters. The bare names are accepted as aliases.
const (
	paramMode        = "hub.mode"
	paramVerifyToken = "hub.verify_token"
	paramChallenge   = "hub.challenge"
	modeSubscribe    = "subscribe"
)

// maxWebhookBody caps the size of webhook request bodies.
const maxWebhookBody = 1 << 20

// Webhook outcomes recorded in metrics.
const (
	outcomeAccepted  = "accepted"
	outcomeMalformed = "malformed"
	outcomeIgnored   = "ignored"
)

func queryParam(r *http.Request, name, alias string) string {
	q := r.URL.Query()
	if v := q.Get(name); v != "" {
		return v
	}
	return q.Get(alias)
}

// verifyWebhookHandler answers the Cloud API subscription handshake.
func (s *Server) verifyWebhookHandler(w http.ResponseWriter, r *http.Request) {
	mode := queryParam(r, paramMode, "mode")
	token := queryParam(r, paramVerifyToken, "verify_token")
	challenge := queryParam(r, paramChallenge, "challenge")

	if mode != modeSubscribe || s.verifyToken == "" || token != s.verifyToken {
		slog.Warn("Server.verifyWebhookHandler: verification failed", "mode", mode, "token_set", token != "")
		writeJSONResponse(w, http.StatusForbidden, models.Error("Verification failed"))
		return
	}

	n, err := strconv.ParseInt(challenge, 10, 64)
	if err != nil {
		slog.Warn("Server.verifyWebhookHandler: non-integer challenge", "challenge", challenge)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid challenge"))
		return
	}
	slog.Info("Server.verifyWebhookHandler: webhook verified")
	writeJSONResponse(w, http.StatusOK, n)
}

// whatsappWebhookHandler accepts Cloud API message payloads. It always answers 200 so
// the platform does not retry; messages are dispatched after the response.
func (s *Server) whatsappWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var payload models.WebhookPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&payload); err != nil {
		slog.Error("Server.whatsappWebhookHandler: malformed payload", "error", err)
		s.metrics.WebhookPayloads.WithLabelValues(messaging.TransportCloud, outcomeMalformed).Inc()
		writeJSONResponse(w, http.StatusOK, models.Error(fmt.Sprintf("malformed payload: %v", err)))
		return
	}

	raw := payload.Messages()
	if payload.Object != models.WhatsAppBusinessObject {
		slog.Debug("Server.whatsappWebhookHandler: ignoring payload", "object", payload.Object)
		s.metrics.WebhookPayloads.WithLabelValues(messaging.TransportCloud, outcomeIgnored).Inc()
	} else {
		s.metrics.WebhookPayloads.WithLabelValues(messaging.TransportCloud, outcomeAccepted).Inc()
	}

	msgs := make([]models.InboundMessage, 0, len(raw))
	for _, m := range raw {
		msgs = append(msgs, m.ToInbound())
	}
	slog.Debug("Server.whatsappWebhookHandler: payload accepted", "messages", len(msgs))
	s.Submit(msgs...)
	writeJSONResponse(w, http.StatusOK, models.APIResponse{Status: string(models.APIStatusOK)})
}

// twilioWebhookHandler accepts Twilio's form-encoded inbound message webhook.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := r.ParseForm(); err != nil {
		slog.Error("Server.twilioWebhookHandler: failed to parse form", "error", err)
		s.metrics.WebhookPayloads.WithLabelValues(messaging.TransportTwilio, outcomeMalformed).Inc()
		writeTwiML(w)
		return
	}
	msg, err := messaging.ParseTwilioForm(r.PostForm)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: unusable message", "error", err)
		s.metrics.WebhookPayloads.WithLabelValues(messaging.TransportTwilio, outcomeIgnored).Inc()
		writeTwiML(w)
		return
	}
	s.metrics.WebhookPayloads.WithLabelValues(messaging.TransportTwilio, outcomeAccepted).Inc()
	s.Submit(msg)
	writeTwiML(w)
}

// healthHandler reports component availability without exposing configuration values.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status:    "healthy",
		Timestamp: s.clock.Now().UTC().Format(time.RFC3339),
		Database:  fmt.Sprintf("connected (%s)", s.store.Kind()),
		WhatsApp:  "not configured",
		AI:        "rule-based only",
	}
	if _, err := s.store.Stats(r.Context()); err != nil {
		slog.Error("Server.healthHandler: store check failed", "error", err)
		resp.Database = fmt.Sprintf("error (%s)", s.store.Kind())
	}
	if s.messenger != nil && s.messenger.Configured() {
		resp.WhatsApp = fmt.Sprintf("configured (%s)", s.messenger.Name())
	}
	if s.aiEnabled {
		resp.AI = "configured"
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// statsHandler returns record counts.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		slog.Error("Server.statsHandler: failed to load stats", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load stats"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.StatsResponse{
		TotalUsers:     st.TotalUsers,
		TotalDiagnoses: st.TotalDiagnoses,
		Timestamp:      s.clock.Now().UTC().Format(time.RFC3339),
	})
}
