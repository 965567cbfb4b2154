package instance

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/middleware"
	"github.com/venux/panel/backend/internal/model/tenant"
	"github.com/venux/panel/backend/internal/service/ai"
	"github.com/venux/panel/backend/internal/service/fetcher"
	"github.com/venux/panel/backend/internal/service/mutation"
	"github.com/venux/panel/backend/pkg/utils"
)

// Submitter writes instance edits.
type Submitter interface {
	SubmitInstanceUpdate(ctx context.Context, id tenant.Identity, instanceID string, patch tenant.InstancePatch) ([]tenant.Instance, error)
}

// Fetcher loads the tenant view used to resolve preview targets.
type Fetcher interface {
	Fetch(ctx context.Context, id tenant.Identity) (fetcher.ViewModel, error)
}

// Handler serves instance edits and prompt previews.
type Handler struct {
	submitter Submitter
	fetcher   Fetcher
	aiSvc     *ai.Service
	logger    *zap.Logger
}

// New creates the instance handler. aiSvc may be nil.
func New(submitter Submitter, f Fetcher, aiSvc *ai.Service, logger *zap.Logger) *Handler {
	return &Handler{submitter: submitter, fetcher: f, aiSvc: aiSvc, logger: logger.Named("instance")}
}

// RegisterRoutes registers the routes on a tenant-scoped router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Patch("/instances/{instanceID}", h.handleUpdate)
	r.Post("/instances/{instanceID}/prompt/preview", h.handlePreview)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.TenantFrom(r.Context())
	instanceID := chi.URLParam(r, "instanceID")

	var patch tenant.InstancePatch
	if err := utils.DecodeJSON(r, &patch); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	instances, err := h.submitter.SubmitInstanceUpdate(r.Context(), id, instanceID, patch)
	if err != nil {
		utils.RespondError(w, mutationStatus(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"instances": instances})
}

func mutationStatus(err error) int {
	var notFound *mutation.NotFoundError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, mutation.ErrEmptyPatch), errors.Is(err, tenant.ErrInvalidRecord):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

type previewRequest struct {
	Message       string    `json:"message"`
	History       []ai.Turn `json:"history,omitempty"`
	Prompt        *string   `json:"prompt,omitempty"`
	HandoffTopics *string   `json:"handoff_topics,omitempty"`
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	if h.aiSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai preview unavailable")
		return
	}
	id, _ := middleware.TenantFrom(r.Context())
	instanceID := chi.URLParam(r, "instanceID")

	var payload previewRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	vm, err := h.fetcher.Fetch(r.Context(), id)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, fetcher.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		utils.RespondError(w, status, err.Error())
		return
	}
	idx := tenant.FindInstance(vm.Instances, instanceID)
	if idx < 0 {
		utils.RespondError(w, http.StatusNotFound, (&mutation.NotFoundError{Identity: id, InstanceID: instanceID}).Error())
		return
	}

	// Unsaved drafts from the editor take precedence over the stored prompt.
	inst := tenant.InstancePatch{AIPrompt: payload.Prompt, AIHandoffTopics: payload.HandoffTopics}.Apply(vm.Instances[idx])
	req := ai.PreviewRequest{
		Company:  vm.Session.Data.Company,
		Instance: inst,
		History:  payload.History,
		Message:  payload.Message,
	}

	if r.URL.Query().Get("stream") == "1" {
		h.streamPreview(w, r, req)
		return
	}

	preview, err := h.aiSvc.Preview(r.Context(), req)
	if err != nil {
		if errors.Is(err, ai.ErrEmptyMessage) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Warn("preview failed", zap.String("tid", id.String()), zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, "preview failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, preview)
}

func (h *Handler) streamPreview(w http.ResponseWriter, r *http.Request, req ai.PreviewRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	stream, err := h.aiSvc.StreamPreview(r.Context(), req)
	if err != nil {
		if errors.Is(err, ai.ErrEmptyMessage) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondError(w, http.StatusBadGateway, "preview failed")
		return
	}
	defer stream.Close()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			h.logger.Warn("preview stream failed", zap.Error(recvErr))
			_ = utils.SendSSEEvent(w, flusher, "error", map[string]string{"error": recvErr.Error()})
			return
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			if err := utils.SendSSEEvent(w, flusher, "delta", map[string]string{"content": chunk.Content}); err != nil {
				return
			}
		}
	}

	preview, err := ai.FinishPreview(req.Instance, chunks)
	if err != nil {
		_ = utils.SendSSEEvent(w, flusher, "error", map[string]string{"error": err.Error()})
		return
	}
	_ = utils.SendSSEEvent(w, flusher, "message", preview)
}
