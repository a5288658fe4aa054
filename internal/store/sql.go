package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/AgriAI/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends.
// Queries are written with '?' placeholders and rebound per dialect.
type sqlStore struct {
	db          *sql.DB
	kind        string
	clock       clockwork.Clock
	numbered    bool // use $1, $2, ... placeholders
	isDuplicate func(error) bool
}

// rebind converts '?' placeholders to $n when the dialect requires it.
func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const userColumns = `id, phone, name, primary_crop, location, referral_code, referrals, created_at`
const diagnosisColumns = `id, user_id, crop, issue, confidence, recommendation, risk, method, created_at`

func (s *sqlStore) getUser(ctx context.Context, where string, arg string) (models.User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users WHERE `+where+` LIMIT 1`), arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		slog.Error("Store getUser failed", "kind", s.kind, "error", err, "where", where)
		return models.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

func (s *sqlStore) GetUserByPhone(ctx context.Context, phone string) (models.User, error) {
	return s.getUser(ctx, `phone = ?`, phone)
}

func (s *sqlStore) GetUserByReferralCode(ctx context.Context, code string) (models.User, error) {
	return s.getUser(ctx, `referral_code = ?`, code)
}

func (s *sqlStore) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	u, err := prepareUser(u, s.clock)
	if err != nil {
		return models.User{}, err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		u.ID, u.Phone, u.Name, nilIfEmpty(u.PrimaryCrop), nilIfEmpty(u.Location), u.ReferralCode, u.Referrals, u.CreatedAt)
	if err != nil {
		if s.isDuplicate != nil && s.isDuplicate(err) {
			return models.User{}, fmt.Errorf("%w: %s", ErrDuplicatePhone, u.Phone)
		}
		slog.Error("Store CreateUser failed", "kind", s.kind, "error", err, "phone", u.Phone)
		return models.User{}, fmt.Errorf("failed to insert user %s: %w", u.Phone, err)
	}
	slog.Debug("Store CreateUser succeeded", "kind", s.kind, "phone", u.Phone, "id", u.ID)
	return u, nil
}

func (s *sqlStore) IncrementReferrals(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(`UPDATE users SET referrals = referrals + 1 WHERE id = ? RETURNING referrals`), userID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		slog.Error("Store IncrementReferrals failed", "kind", s.kind, "error", err, "userID", userID)
		return 0, fmt.Errorf("failed to increment referrals for %s: %w", userID, err)
	}
	return count, nil
}

func (s *sqlStore) SaveDiagnosis(ctx context.Context, userID string, d models.Diagnosis) (models.DiagnosisRecord, error) {
	if userID == "" {
		return models.DiagnosisRecord{}, models.ErrEmptyUserID
	}
	rec := models.DiagnosisRecord{ID: uuid.NewString(), UserID: userID, CreatedAt: s.clock.Now().UTC(), Diagnosis: d}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO diagnoses (`+diagnosisColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.UserID, d.Crop, d.Issue, d.Confidence, d.Recommendation, string(d.Risk), string(d.Method), rec.CreatedAt)
	if err != nil {
		slog.Error("Store SaveDiagnosis failed", "kind", s.kind, "error", err, "userID", userID)
		return models.DiagnosisRecord{}, fmt.Errorf("failed to insert diagnosis for %s: %w", userID, err)
	}
	slog.Debug("Store SaveDiagnosis succeeded", "kind", s.kind, "userID", userID, "method", d.Method)
	return rec, nil
}

func (s *sqlStore) LatestDiagnosis(ctx context.Context, userID string) (models.DiagnosisRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+diagnosisColumns+` FROM diagnoses WHERE user_id = ? ORDER BY created_at DESC LIMIT 1`), userID)
	if err != nil {
		return models.DiagnosisRecord{}, fmt.Errorf("failed to query latest diagnosis: %w", err)
	}
	recs, err := scanDiagnoses(rows)
	if err != nil {
		return models.DiagnosisRecord{}, err
	}
	if len(recs) == 0 {
		return models.DiagnosisRecord{}, ErrNotFound
	}
	return recs[0], nil
}

func (s *sqlStore) RecentDiagnoses(ctx context.Context, limit int) ([]models.DiagnosisRecord, error) {
	query := `SELECT ` + diagnosisColumns + ` FROM diagnoses ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		slog.Error("Store RecentDiagnoses query failed", "kind", s.kind, "error", err)
		return nil, fmt.Errorf("failed to query diagnoses: %w", err)
	}
	return scanDiagnoses(rows)
}

func (s *sqlStore) SaveFeedback(ctx context.Context, f models.Feedback) (models.Feedback, error) {
	if err := f.Validate(); err != nil {
		return models.Feedback{}, err
	}
	f.ID = uuid.NewString()
	f.CreatedAt = s.clock.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO feedback (id, user_id, diagnosis_id, feedback_type, notes, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		f.ID, f.UserID, nilIfEmpty(f.DiagnosisID), f.Kind, nilIfEmpty(f.Notes), f.CreatedAt)
	if err != nil {
		slog.Error("Store SaveFeedback failed", "kind", s.kind, "error", err, "userID", f.UserID)
		return models.Feedback{}, fmt.Errorf("failed to insert feedback for %s: %w", f.UserID, err)
	}
	return f, nil
}

func (s *sqlStore) Stats(ctx context.Context) (models.Stats, error) {
	var st models.Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&st.TotalUsers); err != nil {
		return st, fmt.Errorf("failed to count users: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM diagnoses`).Scan(&st.TotalDiagnoses); err != nil {
		return st, fmt.Errorf("failed to count diagnoses: %w", err)
	}
	return st, nil
}

func (s *sqlStore) Kind() string { return s.kind }

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug("Closing database connection", "kind", s.kind)
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close database", "kind", s.kind, "error", err)
	}
	return err
}
