// Package api exposes the engine's health and status over HTTP: the
// only outward-facing surface spec.md requires, so fatal errors can be
// "surfaced via a health endpoint in a degraded state."
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"hedgeengine/internal/ledger"
)

// Dependencies are the subsystems the health endpoint reports on.
type Dependencies struct {
	Ledger *ledger.Ledger
}

// componentStatus is one subsystem's reported health.
type componentStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// healthResponse is the full /healthz payload.
type healthResponse struct {
	Status     string            `json:"status"` // "ok" or "degraded"
	Components []componentStatus `json:"components"`
	Locks      []lockStatus      `json:"locks"`
	Alerts     []alertSummary    `json:"recent_alerts"`
}

type lockStatus struct {
	Symbol string        `json:"symbol"`
	Age    time.Duration `json:"age_ns"`
}

type alertSummary struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Symbol   string `json:"symbol,omitempty"`
	Message  string `json:"message"`
}

// HealthHandler builds the handler for GET /healthz.
func HealthHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}

		dbHealthy := true
		if err := deps.Ledger.DB().HealthCheck(ctx); err != nil {
			dbHealthy = false
			resp.Status = "degraded"
		}
		resp.Components = append(resp.Components, componentStatus{
			Name: "ledger", Healthy: dbHealthy,
		})

		creds, err := deps.Ledger.Credentials.Get()
		switch {
		case err == ledger.ErrCredentialsNotFound:
			resp.Components = append(resp.Components, componentStatus{
				Name: "broker_credentials", Healthy: true, Detail: "not configured",
			})
		case err != nil:
			resp.Status = "degraded"
			resp.Components = append(resp.Components, componentStatus{
				Name: "broker_credentials", Healthy: false, Detail: err.Error(),
			})
		default:
			expired := time.Now().After(creds.RefreshIssuedAt.Add(7 * 24 * time.Hour))
			resp.Components = append(resp.Components, componentStatus{
				Name: "broker_credentials", Healthy: !expired,
			})
			if expired {
				resp.Status = "degraded"
			}
		}

		if locks, err := deps.Ledger.Locks.All(); err == nil {
			for _, l := range locks {
				resp.Locks = append(resp.Locks, lockStatus{Symbol: l.Symbol, Age: time.Since(l.AcquiredAt)})
			}
		}

		if alerts, err := deps.Ledger.Alerts.GetRecent(20); err == nil {
			for _, a := range alerts {
				symbol := ""
				if a.Symbol != nil {
					symbol = *a.Symbol
				}
				resp.Alerts = append(resp.Alerts, alertSummary{
					Type: a.Type, Severity: a.Severity, Symbol: symbol, Message: a.Message,
				})
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
