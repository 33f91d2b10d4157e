package websocket

import (
	"time"

	"github.com/coder/websocket"
)

// Message types understood by the injected browser client.
const (
	MessageCSS    = "css"
	MessageReload = "reload"
)

// Client represents a connected browser page.
type Client struct {
	conn         *websocket.Conn
	send         chan []byte
	lastActivity time.Time
}

// UpdateMessage is sent to every connected page.
type UpdateMessage struct {
	Type      string    `json:"type"`
	Targets   []string  `json:"targets,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OriginValidator decides which pages may connect.
type OriginValidator interface {
	IsAllowedOrigin(origin string) bool
}
