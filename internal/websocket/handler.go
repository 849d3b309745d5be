package websocket

import (
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"abilico-inference/pkg/feed"
)

// ServeWs handles websocket requests from the peer. An optional bbox query
// parameter subscribes the connection before the first read.
func ServeWs(hub *Hub, c *websocket.Conn) {
	client := &Client{Hub: hub, Conn: c, ID: uuid.New(), Send: make(chan []byte, 64)}
	client.Hub.register <- client

	if raw := c.Query("bbox"); raw != "" {
		if bbox, err := feed.ParseBbox(raw); err == nil {
			hub.Subscribe(client, bbox)
		}
	}

	go client.writePump()
	client.readPump() // Run readPump in current goroutine (handler)
}
