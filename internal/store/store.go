// Package store provides storage backends for AgriAI.
//
// It includes an in-memory store used when no database is configured, and SQLite and
// PostgreSQL stores for persistent deployments. All backends satisfy Store.
package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/AgriAI/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Backend kinds reported by Store.Kind.
const (
	KindMemory   = "memory"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

// ReferralCodeLength is the number of hex characters kept from the phone hash.
const ReferralCodeLength = 8

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicatePhone is returned when creating a user whose phone is already registered.
	ErrDuplicatePhone = errors.New("phone already registered")
)

// Store is the record store used by the dispatcher.
// There are no cross-call transactions; concurrent writers race and the last write wins.
type Store interface {
	// GetUserByPhone returns ErrNotFound for unseen phones.
	GetUserByPhone(ctx context.Context, phone string) (models.User, error)
	// GetUserByReferralCode returns ErrNotFound when no user holds the code.
	GetUserByReferralCode(ctx context.Context, code string) (models.User, error)
	// CreateUser fills in ID, referral code, name and creation time when absent.
	CreateUser(ctx context.Context, u models.User) (models.User, error)
	// IncrementReferrals adds one to a user's referral counter and returns the new value.
	IncrementReferrals(ctx context.Context, userID string) (int, error)
	SaveDiagnosis(ctx context.Context, userID string, d models.Diagnosis) (models.DiagnosisRecord, error)
	// LatestDiagnosis returns ErrNotFound when the user has no diagnoses.
	LatestDiagnosis(ctx context.Context, userID string) (models.DiagnosisRecord, error)
	// RecentDiagnoses returns up to limit diagnoses, newest first.
	RecentDiagnoses(ctx context.Context, limit int) ([]models.DiagnosisRecord, error)
	SaveFeedback(ctx context.Context, f models.Feedback) (models.Feedback, error)
	Stats(ctx context.Context) (models.Stats, error)
	// Kind names the backend for health reporting.
	Kind() string
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN   string
	Kind  string
	Clock clockwork.Clock
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN selects the PostgreSQL backend.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Kind = KindPostgres
	}
}

// WithSQLiteDSN selects the SQLite backend. The DSN is a file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Kind = KindSQLite
	}
}

// WithClock overrides the time source used for created_at timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

func applyOpts(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return cfg
}

// New opens the backend selected by the options, defaulting to an in-memory store.
func New(opts ...Option) (Store, error) {
	cfg := applyOpts(opts)
	switch cfg.Kind {
	case KindPostgres:
		return NewPostgresStore(opts...)
	case KindSQLite:
		return NewSQLiteStore(opts...)
	default:
		slog.Warn("No database configured, using in-memory store; records are lost on restart")
		return NewInMemoryStore(opts...), nil
	}
}

// DetectDSNType reports "postgres" for PostgreSQL URLs or keyword DSNs and "sqlite" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return KindPostgres
	}
	return KindSQLite
}

// ReferralCode derives the stable referral code for a phone identity.
func ReferralCode(phone string) string {
	sum := md5.Sum([]byte(phone))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:ReferralCodeLength]
}

// prepareUser fills in the generated fields of a new user.
func prepareUser(u models.User, clock clockwork.Clock) (models.User, error) {
	if err := u.Validate(); err != nil {
		return u, err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Name == "" {
		u.Name = models.DefaultUserName
	}
	u.ReferralCode = ReferralCode(u.Phone)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = clock.Now().UTC()
	}
	return u, nil
}

// InMemoryStore is a simple in-memory Store used when no database is configured.
type InMemoryStore struct {
	mu        sync.RWMutex
	clock     clockwork.Clock
	users     map[string]models.User // by ID
	byPhone   map[string]string      // phone -> ID
	diagnoses []models.DiagnosisRecord
	feedback  []models.Feedback
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	cfg := applyOpts(opts)
	return &InMemoryStore{
		clock:   cfg.Clock,
		users:   make(map[string]models.User),
		byPhone: make(map[string]string),
	}
}

func (s *InMemoryStore) GetUserByPhone(_ context.Context, phone string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPhone[phone]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *InMemoryStore) GetUserByReferralCode(_ context.Context, code string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ReferralCode == code {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (s *InMemoryStore) CreateUser(_ context.Context, u models.User) (models.User, error) {
	u, err := prepareUser(u, s.clock)
	if err != nil {
		return models.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byPhone[u.Phone]; exists {
		return models.User{}, fmt.Errorf("%w: %s", ErrDuplicatePhone, u.Phone)
	}
	s.users[u.ID] = u
	s.byPhone[u.Phone] = u.ID
	slog.Debug("InMemoryStore CreateUser succeeded", "phone", u.Phone, "id", u.ID)
	return u, nil
}

func (s *InMemoryStore) IncrementReferrals(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	u.Referrals++
	s.users[userID] = u
	return u.Referrals, nil
}

func (s *InMemoryStore) SaveDiagnosis(_ context.Context, userID string, d models.Diagnosis) (models.DiagnosisRecord, error) {
	if userID == "" {
		return models.DiagnosisRecord{}, models.ErrEmptyUserID
	}
	rec := models.DiagnosisRecord{ID: uuid.NewString(), UserID: userID, CreatedAt: s.clock.Now().UTC(), Diagnosis: d}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return models.DiagnosisRecord{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	s.diagnoses = append(s.diagnoses, rec)
	return rec, nil
}

func (s *InMemoryStore) LatestDiagnosis(_ context.Context, userID string) (models.DiagnosisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.diagnoses) - 1; i >= 0; i-- {
		if s.diagnoses[i].UserID == userID {
			return s.diagnoses[i], nil
		}
	}
	return models.DiagnosisRecord{}, ErrNotFound
}

func (s *InMemoryStore) RecentDiagnoses(_ context.Context, limit int) ([]models.DiagnosisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Records are appended in arrival order, so walk backwards for newest first.
	var out []models.DiagnosisRecord
	for i := len(s.diagnoses) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.diagnoses[i])
	}
	return out, nil
}

func (s *InMemoryStore) SaveFeedback(_ context.Context, f models.Feedback) (models.Feedback, error) {
	if err := f.Validate(); err != nil {
		return models.Feedback{}, err
	}
	f.ID = uuid.NewString()
	f.CreatedAt = s.clock.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, f)
	return f, nil
}

// Feedback returns a copy of all stored feedback (for tests and stats).
func (s *InMemoryStore) Feedback() []models.Feedback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Feedback, len(s.feedback))
	copy(out, s.feedback)
	return out
}

func (s *InMemoryStore) Stats(_ context.Context) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.Stats{TotalUsers: len(s.users), TotalDiagnoses: len(s.diagnoses)}, nil
}

func (s *InMemoryStore) Kind() string { return KindMemory }

func (s *InMemoryStore) Close() error { return nil }
