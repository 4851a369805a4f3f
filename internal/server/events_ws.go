package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/vaultpilot/allocator/internal/events"
)

const wsWriteTimeout = 10 * time.Second

// EventsWebSocketHandler streams bus events over a websocket.
type EventsWebSocketHandler struct {
	eventBus  *events.Bus
	closing   <-chan struct{}
	heartbeat time.Duration
	log       zerolog.Logger
}

// NewEventsWebSocketHandler creates a new websocket events handler.
func NewEventsWebSocketHandler(eventBus *events.Bus, closing <-chan struct{}, log zerolog.Logger) *EventsWebSocketHandler {
	return &EventsWebSocketHandler{
		eventBus:  eventBus,
		closing:   closing,
		heartbeat: heartbeatInterval,
		log:       log.With().Str("component", "events_ws").Logger(),
	}
}

// ServeHTTP handles GET /api/events/ws requests.
func (h *EventsWebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Matches the permissive CORS policy of the HTTP API
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	allowed := parseTypesFilter(r)
	eventChan, unsubscribe := subscribe(h.eventBus, allowed, h.log)
	defer unsubscribe()

	// Client messages are ignored; CloseRead cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	h.log.Info().Str("types_filter", r.URL.Query().Get("types")).Msg("Client connected to event websocket")

	if err := h.write(ctx, conn, controlMessage("connected", "Connected to event stream")); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Client disconnected from event websocket")
			return
		case <-h.closing:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case event := <-eventChan:
			if err := h.write(ctx, conn, eventMessage(event)); err != nil {
				h.log.Debug().Err(err).Msg("Websocket write failed")
				return
			}
		case <-heartbeat.C:
			if err := h.write(ctx, conn, controlMessage("heartbeat", "")); err != nil {
				return
			}
		}
	}
}

func (h *EventsWebSocketHandler) write(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
