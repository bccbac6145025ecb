package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		RequestID(),
		Recovery(h.logger),
		Logging(h.logger),
	)

	mux.Handle("GET /healthz", http.HandlerFunc(Health))

	// Campaigns
	mux.Handle("GET /api/v1/campaigns", chain(http.HandlerFunc(h.ListCampaigns)))
	mux.Handle("POST /api/v1/campaigns", chain(http.HandlerFunc(h.StartCampaign)))
	mux.Handle("GET /api/v1/campaigns/{id}", chain(http.HandlerFunc(h.GetStatus)))

	// Decisions
	mux.Handle("POST /api/v1/campaigns/{id}/decisions", chain(http.HandlerFunc(h.SendDecision)))

	// History
	mux.Handle("GET /api/v1/campaigns/{id}/events", chain(http.HandlerFunc(h.ListEvents)))
	mux.Handle("GET /api/v1/campaigns/{id}/watch", chain(http.HandlerFunc(h.WatchCampaign)))
}

// Health отвечает 200, пока процесс жив.
func Health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
