package api

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/AgriAI/internal/observability"
	"github.com/BTreeMap/AgriAI/internal/store"
)

// StatsRefreshSchedule is how often record totals are copied into metrics.
const StatsRefreshSchedule = "*/5 * * * *"

// refreshStoreGauges copies the store's record totals into the metrics gauges.
func refreshStoreGauges(ctx context.Context, st store.Store, m *observability.Metrics) {
	stats, err := st.Stats(ctx)
	if err != nil {
		slog.Error("refreshStoreGauges: failed to load stats", "kind", st.Kind(), "error", err)
		return
	}
	m.StoredUsers.Set(float64(stats.TotalUsers))
	m.StoredDiagnoses.Set(float64(stats.TotalDiagnoses))
	slog.Debug("refreshStoreGauges: gauges updated", "users", stats.TotalUsers, "diagnoses", stats.TotalDiagnoses)
}
