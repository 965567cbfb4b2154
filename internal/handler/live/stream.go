package live

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/middleware"
	"github.com/venux/panel/backend/pkg/utils"
)

// handleStream pushes state snapshots as SSE events with a heartbeat in
// between, for dashboards that never write.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	id, _ := middleware.TenantFrom(r.Context())
	ctx := r.Context()
	log := h.logger.With(zap.String("tid", id.String()))

	controller := h.views.New(id)
	defer controller.Close()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	log.Info("opening state stream")

	if _, err := controller.Start(ctx); err != nil {
		_ = utils.SendSSEEvent(w, flusher, "error", map[string]string{"message": err.Error()})
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("closing state stream")
			return
		case state, ok := <-controller.Updates():
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, "state", state); err != nil {
				return
			}
		case t := <-ticker.C:
			if err := utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"time": t.UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}
	}
}
