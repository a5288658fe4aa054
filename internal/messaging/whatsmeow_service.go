package messaging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/BTreeMap/AgriAI/internal/models"
	"github.com/BTreeMap/AgriAI/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const (
	// DefaultWhatsmeowDSN is the default session database for the whatsmeow transport.
	DefaultWhatsmeowDSN = "file:/var/lib/agriai/whatsmeow.db?_foreign_keys=on"
	// JIDSuffix is the WhatsApp JID suffix for regular users.
	JIDSuffix = "s.whatsapp.net"
	// maxImageBytes caps images fetched for upload.
	maxImageBytes = 16 << 20
)

// InboundHandler receives messages converted from transport events.
type InboundHandler func(models.InboundMessage)

// WhatsmeowOpts holds configuration options for the whatsmeow transport.
type WhatsmeowOpts struct {
	DBDSN  string    // session database; SQLite path/URI or PostgreSQL DSN
	QRPath string    // file to write the login QR code to
	Output io.Writer // QR output when QRPath is empty
}

// WhatsmeowOption defines a configuration option for the whatsmeow transport.
type WhatsmeowOption func(*WhatsmeowOpts)

// WithSessionDSN sets the whatsmeow session database.
func WithSessionDSN(dsn string) WhatsmeowOption {
	return func(o *WhatsmeowOpts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes the login QR code to path instead of stdout.
func WithQRCodeOutput(path string) WhatsmeowOption {
	return func(o *WhatsmeowOpts) { o.QRPath = path }
}

// WhatsmeowService sends and receives messages over a linked WhatsApp Web session.
type WhatsmeowService struct {
	client     *whatsmeow.Client
	httpClient *http.Client
}

// NewWhatsmeowService opens the session store, logs in with a QR code when the
// device is not yet linked, and connects.
func NewWhatsmeowService(ctx context.Context, opts ...WhatsmeowOption) (*WhatsmeowService, error) {
	cfg := WhatsmeowOpts{Output: os.Stdout}
	for _, opt := range opts {
		opt(&cfg)
	}
	dsn := cfg.DBDSN
	if dsn == "" {
		dsn = DefaultWhatsmeowDSN
	}

	driver := "sqlite3"
	if store.DetectDSNType(dsn) == store.KindPostgres {
		driver = "postgres"
	} else if !strings.Contains(dsn, "foreign_keys") {
		slog.Warn("WhatsmeowService: SQLite session database does not enable foreign keys",
			"dsn_example", "file:"+dsn+"?_foreign_keys=on")
	}
	slog.Debug("NewWhatsmeowService: opening session store", "driver", driver, "QRPath_set", cfg.QRPath != "")

	container, err := sqlstore.New(ctx, driver, dsn, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize whatsmeow store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from whatsmeow store: %w", err)
	}
	client := whatsmeow.NewClient(device, waLog.Stdout("Client", "INFO", true))

	if client.Store.ID == nil {
		if err := login(ctx, client, cfg); err != nil {
			return nil, err
		}
	} else if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
	}
	slog.Info("WhatsmeowService connected")
	return &WhatsmeowService{client: client, httpClient: &http.Client{Timeout: DefaultSendTimeout}}, nil
}

func login(ctx context.Context, client *whatsmeow.Client, cfg WhatsmeowOpts) error {
	slog.Info("WhatsmeowService: login required, starting QR flow")
	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	out := cfg.Output
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		out = f
	}
	for evt := range qrChan {
		if evt.Event == "code" {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, out)
			continue
		}
		slog.Info("WhatsmeowService login event", "event", evt.Event)
	}
	return nil
}

// OnMessage registers h for every inbound chat message from another user.
func (s *WhatsmeowService) OnMessage(h InboundHandler) {
	s.client.AddEventHandler(func(evt interface{}) {
		msg, ok := evt.(*events.Message)
		if !ok {
			return
		}
		if in, ok := inboundFromEvent(msg); ok {
			h(in)
		}
	})
}

// inboundFromEvent converts a whatsmeow message event. Own messages, group
// messages and empty events are skipped.
func inboundFromEvent(evt *events.Message) (models.InboundMessage, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return models.InboundMessage{}, false
	}
	m := evt.Message
	in := models.InboundMessage{From: evt.Info.Sender.User}
	switch {
	case m.GetConversation() != "":
		in.Kind = models.MessageKindText
		in.Text = m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		in.Kind = models.MessageKindText
		in.Text = m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		in.Kind = models.MessageKindImage
		in.ImageID = string(evt.Info.ID)
		in.Caption = m.GetImageMessage().GetCaption()
	case m.GetAudioMessage() != nil:
		in.Kind = models.MessageKindAudio
	case m.GetVideoMessage() != nil:
		in.Kind = "video"
	case m.GetDocumentMessage() != nil:
		in.Kind = "document"
	case m.GetStickerMessage() != nil:
		in.Kind = "sticker"
	default:
		return models.InboundMessage{}, false
	}
	return in, true
}

func (s *WhatsmeowService) SendText(ctx context.Context, to, body string) error {
	if body == "" {
		return ErrEmptyBody
	}
	return s.send(ctx, to, &waE2E.Message{Conversation: proto.String(body)})
}

// SendImage downloads the image at link and uploads it to WhatsApp before sending.
func (s *WhatsmeowService) SendImage(ctx context.Context, to, link, caption string) error {
	data, mimeType, err := s.fetch(ctx, link)
	if err != nil {
		return err
	}
	up, err := s.client.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("failed to upload image: %w", err)
	}
	return s.send(ctx, to, &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Caption:       proto.String(caption),
		Mimetype:      proto.String(mimeType),
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
	}})
}

func (s *WhatsmeowService) fetch(ctx context.Context, link string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create image request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

func (s *WhatsmeowService) send(ctx context.Context, to string, msg *waE2E.Message) error {
	canonical, err := CanonicalizePhone(to)
	if err != nil {
		return err
	}
	if _, err := s.client.SendMessage(ctx, types.NewJID(canonical, JIDSuffix), msg); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", canonical, err)
	}
	slog.Debug("WhatsmeowService: message sent", "phone", canonical)
	return nil
}

func (s *WhatsmeowService) Name() string { return TransportWhatsmeow }

func (s *WhatsmeowService) Configured() bool { return s.client != nil && s.client.IsConnected() }

// Close disconnects the session.
func (s *WhatsmeowService) Close() {
	s.client.Disconnect()
}
