package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultGraphURL is the Graph API base used by the WhatsApp Cloud API.
const DefaultGraphURL = "https://graph.facebook.com/v18.0"

// CloudOpts holds configuration options for the Cloud API transport.
type CloudOpts struct {
	AccessToken string
	PhoneID     string
	GraphURL    string
	HTTPClient  *http.Client
}

// CloudOption defines a configuration option for the Cloud API transport.
type CloudOption func(*CloudOpts)

// WithAccessToken sets the Graph API bearer token.
func WithAccessToken(token string) CloudOption {
	return func(o *CloudOpts) { o.AccessToken = token }
}

// WithPhoneID sets the sending phone-number ID.
func WithPhoneID(id string) CloudOption {
	return func(o *CloudOpts) { o.PhoneID = id }
}

// WithGraphURL overrides the Graph API base URL.
func WithGraphURL(u string) CloudOption {
	return func(o *CloudOpts) { o.GraphURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client used for sends.
func WithHTTPClient(c *http.Client) CloudOption {
	return func(o *CloudOpts) { o.HTTPClient = c }
}

// CloudAPIService sends messages through the WhatsApp Cloud API.
type CloudAPIService struct {
	token      string
	phoneID    string
	graphURL   string
	httpClient *http.Client
}

// NewCloudAPIService creates a Cloud API transport. Missing credentials are not an
// error; sends then fail with ErrNotConfigured.
func NewCloudAPIService(opts ...CloudOption) *CloudAPIService {
	cfg := CloudOpts{GraphURL: DefaultGraphURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultSendTimeout}
	}
	slog.Debug("NewCloudAPIService", "AccessToken_set", cfg.AccessToken != "", "PhoneID_set", cfg.PhoneID != "")
	return &CloudAPIService{
		token:      cfg.AccessToken,
		phoneID:    cfg.PhoneID,
		graphURL:   cfg.GraphURL,
		httpClient: cfg.HTTPClient,
	}
}

type cloudText struct {
	Body string `json:"body"`
}

type cloudImage struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type cloudMessage struct {
	MessagingProduct string      `json:"messaging_product"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             *cloudText  `json:"text,omitempty"`
	Image            *cloudImage `json:"image,omitempty"`
}

func (s *CloudAPIService) SendText(ctx context.Context, to, body string) error {
	if body == "" {
		return ErrEmptyBody
	}
	return s.post(ctx, cloudMessage{To: to, Type: "text", Text: &cloudText{Body: body}})
}

func (s *CloudAPIService) SendImage(ctx context.Context, to, link, caption string) error {
	return s.post(ctx, cloudMessage{To: to, Type: "image", Image: &cloudImage{Link: link, Caption: caption}})
}

func (s *CloudAPIService) post(ctx context.Context, msg cloudMessage) error {
	if !s.Configured() {
		slog.Info("CloudAPIService: would send", "phone", msg.To, "type", msg.Type)
		return ErrNotConfigured
	}
	to, err := CanonicalizePhone(msg.To)
	if err != nil {
		return err
	}
	msg.To = to
	msg.MessagingProduct = "whatsapp"

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.graphURL+"/"+s.phoneID+"/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cloud api request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("cloud api error: status %d: %s", resp.StatusCode, body)
	}
	slog.Debug("CloudAPIService: message sent", "phone", to, "type", msg.Type)
	return nil
}

func (s *CloudAPIService) Name() string { return TransportCloud }

func (s *CloudAPIService) Configured() bool { return s.token != "" && s.phoneID != "" }
