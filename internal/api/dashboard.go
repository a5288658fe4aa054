package api

import (
	"bytes"
	_ "embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/AgriAI/internal/models"
)

//go:embed dashboard.html
var dashboardHTML string

var dashboardTemplate = template.Must(template.New("dashboard").Parse(dashboardHTML))

type dashboardData struct {
	TotalUsers     int
	TotalDiagnoses int
	Recent         []models.DiagnosisRecord
}

// dashboardHandler renders record counts and the most recent diagnoses.
// Store failures render an empty dashboard rather than an error page.
func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	var data dashboardData
	if st, err := s.store.Stats(r.Context()); err != nil {
		slog.Error("Server.dashboardHandler: failed to load stats", "error", err)
	} else {
		data.TotalUsers = st.TotalUsers
		data.TotalDiagnoses = st.TotalDiagnoses
	}
	recent, err := s.store.RecentDiagnoses(r.Context(), DashboardRecentLimit)
	if err != nil {
		slog.Error("Server.dashboardHandler: failed to load recent diagnoses", "error", err)
	}
	data.Recent = recent

	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, data); err != nil {
		slog.Error("Server.dashboardHandler: failed to render", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Error("Server.dashboardHandler: failed to write response", "error", err)
	}
}
