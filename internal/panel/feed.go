package panel

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	feedBuffer     = 32
	feedWriteWait  = 10 * time.Second
	feedPingPeriod = 30 * time.Second
)

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// handleFeed upgrades to a websocket, sends the current snapshot and then
// every change until the client goes away.
func (p *Panel) handleFeed(c *gin.Context) {
	conn, err := p.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		p.log.Debug("feed upgrade failed", "error", err)
		return
	}
	client := &feedClient{conn: conn, send: make(chan []byte, feedBuffer)}

	if snap, err := p.surface.Snapshot(c.Request.Context()); err == nil {
		if data, err := json.Marshal(Message{Type: "snapshot", State: &snap}); err == nil {
			client.send <- data
		}
	}

	p.mu.Lock()
	p.clients[client] = struct{}{}
	p.mu.Unlock()

	go p.writeLoop(client)
	// Drain reads so close frames and pongs are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	p.drop(client)
}

func (p *Panel) writeLoop(client *feedClient) {
	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()
	defer client.conn.Close()
	for {
		select {
		case data, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *Panel) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("feed encode failed", "error", err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for client := range p.clients {
		select {
		case client.send <- data:
		default:
			// Slow consumers are dropped.
			delete(p.clients, client)
			close(client.send)
		}
	}
}

func (p *Panel) drop(client *feedClient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.clients[client]; ok {
		delete(p.clients, client)
		close(client.send)
	}
}

func (p *Panel) closeFeed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for client := range p.clients {
		delete(p.clients, client)
		close(client.send)
	}
}

// Clients returns the number of connected feed clients.
func (p *Panel) Clients() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
