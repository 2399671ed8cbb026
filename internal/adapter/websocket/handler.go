package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/activitypulse/internal/adapter/metrics"
	"github.com/pscheid92/activitypulse/internal/broadcast"
	"github.com/pscheid92/activitypulse/internal/domain"
	"github.com/pscheid92/activitypulse/internal/platform/correlation"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderTeamID = "X-Team-ID"

	maxFrameSize = 4096
)

// Hub is what a WebSocket connection needs from the fan-out service.
type Hub interface {
	Connect(ctx context.Context, transport broadcast.Transport, identity domain.Identity) domain.ConnID
	Disconnect(id domain.ConnID)
	Subscribe(id domain.ConnID, room string) error
	Unsubscribe(id domain.ConnID, room string) error
	RecordLiveness(id domain.ConnID)
	Send(id domain.ConnID, frame []byte) bool
}

type HandlerConfig struct {
	AppURL      string
	Development bool
	WriteWait   time.Duration
}

// Handler upgrades /ws requests and runs the per-connection read loop.
type Handler struct {
	hub         Hub
	limits      *Limits
	upgrader    websocket.Upgrader
	development bool
	writeWait   time.Duration
	metrics     *metrics.ConnectionMetrics
}

// NewHandler creates the WebSocket endpoint. limits and m may be nil.
func NewHandler(hub Hub, limits *Limits, cfg HandlerConfig, m *metrics.ConnectionMetrics) *Handler {
	return &Handler{
		hub:    hub,
		limits: limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(cfg.AppURL, cfg.Development),
		},
		development: cfg.Development,
		writeWait:   cfg.WriteWait,
		metrics:     m,
	}
}

// ResolveIdentity reads the caller identity the upstream gateway attached to the request.
// Query parameters are honoured only in development.
func ResolveIdentity(r *http.Request, development bool) (domain.Identity, bool) {
	identity := domain.Identity{
		UserID: r.Header.Get(HeaderUserID),
		TeamID: r.Header.Get(HeaderTeamID),
	}
	if development {
		q := r.URL.Query()
		if identity.UserID == "" {
			identity.UserID = q.Get("user_id")
		}
		if identity.TeamID == "" {
			identity.TeamID = q.Get("team_id")
		}
	}
	return identity, identity.UserID != ""
}

func (h *Handler) Serve(c echo.Context) error {
	identity, ok := ResolveIdentity(c.Request(), h.development)
	if !ok {
		h.reject("unauthenticated")
		return echo.NewHTTPError(http.StatusUnauthorized, "missing user identity")
	}

	ip := c.RealIP()
	if h.limits != nil {
		acquired, reason := h.limits.Acquire(ip)
		if !acquired {
			h.reject(string(reason))
			slog.Warn("WebSocket connection rejected", "reason", reason, "ip", ip, "user_id", identity.UserID)
			return echo.NewHTTPError(http.StatusServiceUnavailable, "connection limit reached")
		}
		defer h.limits.Release(ip)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.reject("upgrade_failed")
		slog.Debug("WebSocket upgrade failed", "error", err, "ip", ip)
		return nil
	}

	ctx := correlation.WithID(context.Background(), correlation.FromRequest(c.Request()))
	id := h.hub.Connect(ctx, NewTransport(conn, h.writeWait), identity)
	defer h.hub.Disconnect(id)

	conn.SetReadLimit(maxFrameSize)
	conn.SetPongHandler(func(string) error {
		h.hub.RecordLiveness(id)
		return nil
	})

	h.readLoop(ctx, conn, id)
	return nil
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, id domain.ConnID) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.DebugContext(ctx, "WebSocket read ended", "conn_id", id.String(), "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			h.sendError(id, "only text frames are accepted")
			continue
		}
		h.handleFrame(ctx, id, data)
	}
}

func (h *Handler) handleFrame(ctx context.Context, id domain.ConnID, data []byte) {
	var frame domain.ControlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.sendError(id, "malformed frame")
		return
	}

	switch frame.Type {
	case domain.FramePong:
		h.hub.RecordLiveness(id)

	case domain.FrameSubscribe:
		if err := h.hub.Subscribe(id, frame.Room); err != nil {
			h.sendError(id, clientMessage(err))
			return
		}
		slog.DebugContext(ctx, "Client subscribed", "conn_id", id.String(), "room", frame.Room)
		h.send(id, domain.ControlFrame{Type: domain.FrameSubscribed, Room: frame.Room})

	case domain.FrameUnsubscribe:
		if err := h.hub.Unsubscribe(id, frame.Room); err != nil {
			h.sendError(id, clientMessage(err))
			return
		}
		h.send(id, domain.ControlFrame{Type: domain.FrameUnsubscribed, Room: frame.Room})

	default:
		h.sendError(id, "unknown frame type")
	}
}

func clientMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidRoom):
		return err.Error()
	case errors.Is(err, domain.ErrConnectionNotFound):
		return "connection closed"
	default:
		return "request failed"
	}
}

func (h *Handler) sendError(id domain.ConnID, message string) {
	h.send(id, domain.ControlFrame{Type: domain.FrameError, Error: message})
}

func (h *Handler) send(id domain.ConnID, frame domain.ControlFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("Failed to encode control frame", "type", frame.Type, "error", err)
		return
	}
	h.hub.Send(id, data)
}

func (h *Handler) reject(reason string) {
	if h.metrics != nil {
		h.metrics.Rejected.WithLabelValues(reason).Inc()
	}
}
