package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/AgriAI/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser scans a user in userColumns order.
func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	var crop, location sql.NullString
	err := row.Scan(&u.ID, &u.Phone, &u.Name, &crop, &location, &u.ReferralCode, &u.Referrals, &u.CreatedAt)
	if err != nil {
		return u, err
	}
	u.PrimaryCrop = crop.String
	u.Location = location.String
	return u, nil
}

// scanDiagnoses drains rows in diagnosisColumns order and closes them.
func scanDiagnoses(rows *sql.Rows) ([]models.DiagnosisRecord, error) {
	defer rows.Close()
	var out []models.DiagnosisRecord
	for rows.Next() {
		var rec models.DiagnosisRecord
		var risk, method string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Crop, &rec.Issue, &rec.Confidence,
			&rec.Recommendation, &risk, &method, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan diagnosis failed: %w", err)
		}
		rec.Risk = models.RiskLevel(risk)
		rec.Method = models.DiagnosisMethod(method)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate diagnosis rows: %w", err)
	}
	return out, nil
}
