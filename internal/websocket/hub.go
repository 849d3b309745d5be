package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"abilico-inference/internal/pkg/logger"
	"abilico-inference/internal/service"
	"abilico-inference/pkg/entity"
	"abilico-inference/pkg/feed"
)

// refreshPeriod is how often subscribed viewports are re-enriched and pushed.
const refreshPeriod = 30 * time.Second

// Hub tracks viewport subscribers and pushes fresh enriched snapshots to
// them. Each client follows at most one bbox at a time; panning the map is a
// re-subscribe.
type Hub struct {
	clients map[uuid.UUID]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	viewport     service.IViewportService
	orchestrator service.IOrchestratorService
	logger       logger.ILogger
}

func NewHub(viewport service.IViewportService, orchestrator service.IOrchestratorService, log logger.ILogger) *Hub {
	return &Hub{
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		clients:      make(map[uuid.UUID]*Client),
		viewport:     viewport,
		orchestrator: orchestrator,
		logger:       log,
	}
}

func (h *Hub) Run() {
	ticker := time.NewTicker(refreshPeriod)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"client_id": client.ID})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				client.closeSend()
				h.logger.Info("Hub", "Client unregistered", map[string]interface{}{"client_id": client.ID})
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.refreshAll()
		}
	}
}

// refreshAll pushes a fresh snapshot to every subscribed client. Distinct
// viewports fetch concurrently; cache hits make the overlap cheap.
func (h *Hub) refreshAll() {
	h.mu.RLock()
	subscribed := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		if _, ok := client.Viewport(); ok {
			subscribed = append(subscribed, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range subscribed {
		go h.pushSnapshot(client)
	}
}

// pushSnapshot enriches the client's current viewport and sends the result.
func (h *Hub) pushSnapshot(client *Client) {
	bbox, ok := client.Viewport()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshPeriod)
	defer cancel()

	res, err := h.viewport.Snapshot(ctx, bbox)
	if err != nil {
		h.logger.Warn("Hub", "Viewport snapshot failed", map[string]interface{}{
			"client_id": client.ID, "bbox": bbox.String(), "error": err.Error(),
		})
		h.sendJSON(client, map[string]interface{}{
			"type":    "error",
			"message": "viewport snapshot failed",
		})
		return
	}

	h.sendJSON(client, map[string]interface{}{
		"type": "viewport",
		"bbox": bbox.String(),
		"data": res,
	})
}

func (h *Hub) sendJSON(client *Client, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Hub", "Encoding push failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if !client.queue(data) {
		h.logger.Warn("Hub", "Client gone or Send buffer full, dropping message", map[string]interface{}{"client_id": client.ID})
	}
}

func (h *Hub) sendError(client *Client, message string) {
	h.sendJSON(client, map[string]interface{}{
		"type":    "error",
		"message": message,
	})
}

// Subscribe records a new bbox for one client and pushes the first snapshot
// immediately.
func (h *Hub) Subscribe(client *Client, bbox feed.Bbox) {
	client.SetViewport(bbox)
	go h.pushSnapshot(client)
}

// inboundMessage is the envelope for everything a client sends: a viewport
// subscription or an entity batch to enrich.
type inboundMessage struct {
	Type     string          `json:"type"`
	Bbox     string          `json:"bbox,omitempty"`
	Entities []entity.Entity `json:"entities,omitempty"`
}

// handleInbound routes one client message. Every malformed or unknown message
// is answered with an error frame, never dropped silently.
func (h *Hub) handleInbound(client *Client, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.sendError(client, "bad message: "+err.Error())
		return
	}

	switch msg.Type {
	case "subscribe":
		bbox, err := feed.ParseBbox(msg.Bbox)
		if err != nil {
			h.sendError(client, "bad bbox: "+err.Error())
			return
		}
		h.Subscribe(client, bbox)
	case "enrich":
		if len(msg.Entities) == 0 {
			h.sendError(client, "enrich: empty entity batch")
			return
		}
		go h.enrichBatch(client, msg.Entities)
	default:
		h.sendError(client, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// enrichBatch runs one inbound entity batch through the pipeline and sends
// the enriched batch back on the same connection.
func (h *Hub) enrichBatch(client *Client, entities []entity.Entity) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshPeriod)
	defer cancel()

	res, err := h.orchestrator.Enrich(ctx, entities)
	if err != nil {
		h.logger.Warn("Hub", "Batch enrichment failed", map[string]interface{}{
			"client_id": client.ID, "entities": len(entities), "error": err.Error(),
		})
		h.sendError(client, "enrichment failed")
		return
	}

	h.sendJSON(client, map[string]interface{}{
		"type": "enriched",
		"data": res,
	})
}
