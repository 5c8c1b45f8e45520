package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mama-os/mama/pkg/bus"
	"github.com/mama-os/mama/pkg/config"
	"github.com/mama-os/mama/pkg/logger"
	"github.com/mama-os/mama/pkg/routing"
	"github.com/mama-os/mama/pkg/session"
)

// wsIncoming is the JSON message a viewer client sends.
type wsIncoming struct {
	Content  string   `json:"content"`
	SenderID string   `json:"sender_id,omitempty"`
	Images   []string `json:"images,omitempty"`
}

// wsOutgoing is the JSON message pushed back to a viewer client.
type wsOutgoing struct {
	Content string `json:"content"`
	AgentID string `json:"agent_id,omitempty"`
	Type    string `json:"type,omitempty"`
}

// ViewerChannel is a server-side WebSocket gateway for local viewer
// clients. Each connection gets its own conversation channel keyed by
// the client ID.
type ViewerChannel struct {
	*BaseChannel
	config    config.ViewerConfig
	pool      *session.Pool
	server    *http.Server
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]string // conn -> clientID
	chatConns map[string]*websocket.Conn // channelID -> conn
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewViewerChannel(cfg config.ViewerConfig, messageBus *bus.MessageBus, pool *session.Pool) (*ViewerChannel, error) {
	return &ViewerChannel{
		BaseChannel: NewBaseChannel("viewer", messageBus),
		config:      cfg,
		pool:        pool,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]string),
		chatConns: make(map[string]*websocket.Conn),
	}, nil
}

func (c *ViewerChannel) Start(ctx context.Context) error {
	logger.InfoC("viewer", "Starting viewer WebSocket server")

	c.ctx, c.cancel = context.WithCancel(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", c.handleWS)

	c.server = &http.Server{
		Addr:    c.config.ListenAddr,
		Handler: mux,
	}
	c.setRunning(true)

	logger.InfoCF("viewer", "Viewer server listening", map[string]any{
		"addr": c.config.ListenAddr,
	})

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("viewer", "Server error", map[string]any{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

func (c *ViewerChannel) Stop(ctx context.Context) error {
	logger.InfoC("viewer", "Stopping viewer channel")
	c.setRunning(false)

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	for conn := range c.clients {
		conn.Close()
	}
	c.clients = make(map[*websocket.Conn]string)
	c.chatConns = make(map[string]*websocket.Conn)
	c.mu.Unlock()

	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

func (c *ViewerChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("viewer channel not running")
	}

	c.mu.RLock()
	conn, ok := c.chatConns[msg.ChannelID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no connection for channel %s", msg.ChannelID)
	}

	data, err := json.Marshal(wsOutgoing{Content: msg.Content, AgentID: msg.AgentID})
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.clients[conn]; !exists {
		return fmt.Errorf("connection for channel %s no longer active", msg.ChannelID)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("viewer write failed: %w", err)
	}
	return nil
}

func (c *ViewerChannel) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("viewer", "Upgrade failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}
	channelID := "ws:" + clientID

	logger.InfoCF("viewer", "New viewer connection", map[string]any{
		"client_id":   clientID,
		"remote_addr": r.RemoteAddr,
	})

	c.mu.Lock()
	if oldConn, ok := c.chatConns[channelID]; ok {
		delete(c.clients, oldConn)
		oldConn.Close()
	}
	c.clients[conn] = clientID
	c.chatConns[channelID] = conn
	c.mu.Unlock()

	go c.readPump(conn, clientID, channelID)
}

func (c *ViewerChannel) readPump(conn *websocket.Conn, clientID, channelID string) {
	defer func() {
		c.mu.Lock()
		delete(c.clients, conn)
		delete(c.chatConns, channelID)
		c.mu.Unlock()
		conn.Close()
		c.unassignClient(channelID)

		logger.InfoCF("viewer", "Client disconnected", map[string]any{
			"client_id": clientID,
		})
	}()

	c.assignClient(channelID, clientID)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.ErrorCF("viewer", "Read error", map[string]any{
					"client_id": clientID,
					"error":     err.Error(),
				})
			}
			return
		}

		var incoming wsIncoming
		if err := json.Unmarshal(message, &incoming); err != nil {
			logger.ErrorCF("viewer", "Invalid JSON message", map[string]any{
				"client_id": clientID,
				"error":     err.Error(),
			})
			continue
		}

		senderID := clientID
		if incoming.SenderID != "" {
			senderID = incoming.SenderID
		}

		var attachments []bus.Attachment
		for _, img := range incoming.Images {
			attachments = append(attachments, bus.Attachment{
				Type: "image",
				URL:  "data:image/png;base64," + img,
			})
		}

		c.publishInbound(bus.InboundMessage{
			ChannelID:   channelID,
			UserID:      senderID,
			Content:     incoming.Content,
			Attachments: attachments,
		})
	}
}

// assignClient records which WebSocket client currently drives the
// session, so eviction and reconnects stay consistent. The pool is
// optional; without one this is a no-op.
func (c *ViewerChannel) assignClient(channelID, clientID string) {
	if c.pool == nil {
		return
	}
	c.pool.AssignClient(context.Background(), routing.ChannelKey(c.name, channelID), clientID)
}

func (c *ViewerChannel) unassignClient(channelID string) {
	if c.pool == nil {
		return
	}
	c.pool.UnassignClient(context.Background(), routing.ChannelKey(c.name, channelID))
}
