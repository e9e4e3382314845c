package websocket

import (
	"time"

	"github.com/coder/websocket"
)

// MessageTypeReload tells the page to reload itself.
const MessageTypeReload = "reload"

// browser is one connected page. send is closed by the hub on unregister.
type browser struct {
	conn *websocket.Conn
	send chan []byte
}

// Message is the JSON frame pushed to pages.
type Message struct {
	Type      string    `json:"type"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
