package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/BTreeMap/AgriAI/internal/models"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioWhatsAppPrefix marks WhatsApp addresses in the Twilio API.
const TwilioWhatsAppPrefix = "whatsapp:"

// messageCreator is the subset of the Twilio REST API used for sends.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioOpts holds configuration options for the Twilio transport.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// TwilioOption defines a configuration option for the Twilio transport.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromNumber sets the sending WhatsApp number, with or without the "whatsapp:" prefix.
func WithFromNumber(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromNumber = from }
}

// TwilioService sends messages through Twilio's WhatsApp API.
type TwilioService struct {
	api  messageCreator
	from string
}

// NewTwilioService creates a Twilio transport.
func NewTwilioService(opts ...TwilioOption) (*TwilioService, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewTwilioService",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("%w: account SID and auth token must be provided", ErrNotConfigured)
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("%w: from number must be provided", ErrNotConfigured)
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioService(client.Api, cfg.FromNumber), nil
}

func newTwilioService(api messageCreator, from string) *TwilioService {
	if !strings.HasPrefix(from, TwilioWhatsAppPrefix) {
		from = TwilioWhatsAppPrefix + from
	}
	return &TwilioService{api: api, from: from}
}

func (s *TwilioService) SendText(ctx context.Context, to, body string) error {
	if body == "" {
		return ErrEmptyBody
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetBody(body)
	return s.create(ctx, to, params)
}

func (s *TwilioService) SendImage(ctx context.Context, to, link, caption string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetMediaUrl([]string{link})
	if caption != "" {
		params.SetBody(caption)
	}
	return s.create(ctx, to, params)
}

func (s *TwilioService) create(ctx context.Context, to string, params *twilioApi.CreateMessageParams) error {
	canonical, err := CanonicalizePhone(to)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	params.SetTo(TwilioWhatsAppPrefix + "+" + canonical)
	params.SetFrom(s.from)

	msg, err := s.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", canonical, err)
	}
	if msg != nil && msg.Sid != nil {
		slog.Debug("TwilioService: message sent", "phone", canonical, "sid", *msg.Sid)
	}
	return nil
}

func (s *TwilioService) Name() string { return TransportTwilio }

func (s *TwilioService) Configured() bool { return true }

// ParseTwilioForm converts a Twilio inbound webhook form into an InboundMessage.
// The first media attachment decides the kind: image/* becomes an image whose
// caption is the Body, audio/* becomes audio, anything else is reported raw.
func ParseTwilioForm(form url.Values) (models.InboundMessage, error) {
	from := strings.TrimPrefix(form.Get("From"), TwilioWhatsAppPrefix)
	phone, err := CanonicalizePhone(from)
	if err != nil {
		return models.InboundMessage{}, err
	}
	in := models.InboundMessage{From: phone, Kind: models.MessageKindText, Text: form.Get("Body")}

	numMedia, _ := strconv.Atoi(form.Get("NumMedia"))
	if numMedia == 0 {
		return in, nil
	}
	contentType := strings.ToLower(form.Get("MediaContentType0"))
	switch {
	case strings.HasPrefix(contentType, "image/"):
		in.Kind = models.MessageKindImage
		in.ImageID = form.Get("MediaUrl0")
		in.Caption = in.Text
		in.Text = ""
	case strings.HasPrefix(contentType, "audio/"):
		in.Kind = models.MessageKindAudio
		in.Text = ""
	default:
		in.Kind = models.MessageKind(strings.SplitN(contentType, "/", 2)[0])
		in.Text = ""
	}
	return in, nil
}
