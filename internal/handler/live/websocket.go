// Package live serves view state to long-lived connections: a websocket
// for the tenant panel and an SSE stream for read-only dashboards.
package live

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/middleware"
	"github.com/venux/panel/backend/internal/model/tenant"
	"github.com/venux/panel/backend/internal/service/view"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Handler upgrades connections and binds each one to a view controller.
type Handler struct {
	views     view.Factory
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	heartbeat time.Duration
}

// New creates the live handler.
func New(views view.Factory, logger *zap.Logger) *Handler {
	return &Handler{
		views:  views,
		logger: logger.Named("live"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		heartbeat: 15 * time.Second,
	}
}

// RegisterRoutes registers the routes on a tenant-scoped router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/live", h.handleWebSocket)
	r.Get("/stream", h.handleStream)
}

type inboundMessage struct {
	Type       string               `json:"type"`
	InstanceID string               `json:"instance_id,omitempty"`
	Patch      tenant.InstancePatch `json:"patch"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func newMessage(typ string, data interface{}) outgoingMessage {
	return outgoingMessage{Type: typ, Data: data, Timestamp: time.Now().Unix()}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.TenantFrom(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.String("tid", id.String()))
	log.Info("connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	controller := h.views.New(id)
	defer controller.Close()

	out := make(chan outgoingMessage, 8)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(ctx, conn, controller.Updates(), out, log)
		cancel()
	}()
	defer wg.Wait()

	send := func(msg outgoingMessage) {
		select {
		case out <- msg:
		case <-ctx.Done():
		}
	}

	send(newMessage("connected", map[string]string{"tid": id.String()}))
	if _, err := controller.Start(ctx); err != nil {
		log.Warn("initial load incomplete", zap.Error(err))
		send(newMessage("error", map[string]string{"message": err.Error()}))
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info("read error", zap.Error(err))
			}
			cancel()
			controller.Close()
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case "refresh":
			if _, err := controller.Refresh(ctx); err != nil {
				send(newMessage("error", map[string]string{"message": err.Error()}))
			}
		case "update_instance":
			if msg.InstanceID == "" {
				send(newMessage("error", map[string]string{"message": "instance_id is required"}))
				continue
			}
			if _, err := controller.SubmitInstanceUpdate(ctx, msg.InstanceID, msg.Patch); err != nil {
				send(newMessage("error", map[string]string{"message": err.Error(), "instance_id": msg.InstanceID}))
			}
		default:
			send(newMessage("error", map[string]string{"message": "unknown message type"}))
		}
	}
}

// writeLoop owns every write on conn.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, updates <-chan view.State, out <-chan outgoingMessage, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(msg outgoingMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			log.Info("write failed", zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case state, ok := <-updates:
			if !ok {
				return
			}
			if !write(newMessage("state", state)) {
				return
			}
		case msg := <-out:
			if !write(msg) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

