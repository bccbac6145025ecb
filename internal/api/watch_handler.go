package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
)

const watchWriteWait = 5 * time.Second

// ListEvents возвращает историю run.
// GET /api/v1/campaigns/{id}/events?after=...
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	after, ok := afterParam(w, r)
	if !ok {
		return
	}

	if _, err := h.campaigns.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "campaign not found") {
		return
	}

	events, err := h.events.ListSince(r.Context(), id, after)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]EventResponse, len(events))
	for i, ev := range events {
		result[i] = EventFromDomain(ev)
	}

	List(w, result, len(result))
}

// WatchCampaign отдаёт историю run через websocket и продолжает
// присылать новые события, пока кампания не завершится.
// GET /api/v1/campaigns/{id}/watch?after=...
//
// После campaign.completed или campaign.failed сервер закрывает
// соединение с кодом 1000.
func (h *Handler) WatchCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	after, ok := afterParam(w, r)
	if !ok {
		return
	}

	if _, err := h.campaigns.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "campaign not found") {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader уже ответил клиенту.
		h.logger.Debug("websocket upgrade failed", "run_id", id, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Клиент ничего не присылает; читаем только чтобы заметить закрытие.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.watchInterval)
	defer ticker.Stop()

	for {
		events, err := h.events.ListSince(ctx, id, after)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Error("watch: load history", "run_id", id, "error", err)
			closeWatch(conn, websocket.CloseInternalServerErr, "history unavailable")
			return
		}

		for _, ev := range events {
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteJSON(EventFromDomain(ev)); err != nil {
				h.logger.Debug("watch: client gone", "run_id", id, "error", err)
				return
			}
			after = ev.Seq

			if ev.Type == domain.EventCampaignCompleted || ev.Type == domain.EventCampaignFailed {
				closeWatch(conn, websocket.CloseNormalClosure, string(ev.Type))
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func closeWatch(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(watchWriteWait))
}

func afterParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	s := r.URL.Query().Get("after")
	if s == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		BadRequest(w, "invalid after")
		return 0, false
	}
	return n, true
}
