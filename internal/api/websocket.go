package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/SimplyPrint/classic-agent/internal/core"
	"github.com/SimplyPrint/classic-agent/internal/logging"
	"github.com/SimplyPrint/classic-agent/internal/mifare"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local use
	},
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string          `json:"type"`              // Message type
	ID      string          `json:"id,omitempty"`      // Request ID for request/response matching
	Payload json.RawMessage `json:"payload,omitempty"` // Message payload
	Error   string          `json:"error,omitempty"`   // Error message if any
	Kind    string          `json:"kind,omitempty"`    // Error kind, set with Error
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *WSHub
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	polls    map[string]context.CancelFunc // Active subscriptions by reader name
	lastUIDs map[string]string             // Track last seen UID per reader
}

// WSHub manages all WebSocket connections
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the hub's main loop
func (h *WSHub) Run() {
	// Re-panic after logging since hub crash is fatal
	defer logging.RecoverAndLog("WebSocket hub", true)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client, drop the event
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Global hub instance
var wsHub *WSHub

// Broadcast sends an event to every connected client. It is a no-op before
// InitWebSocket.
func Broadcast(msgType string, payload any) {
	if wsHub == nil {
		return
	}
	payloadBytes, _ := json.Marshal(payload)
	msg, _ := json.Marshal(WSMessage{Type: msgType, Payload: payloadBytes})
	select {
	case wsHub.broadcast <- msg:
	default:
		logging.Warn(logging.CatWebSocket, "Broadcast queue full, event dropped", map[string]any{
			"type": msgType,
		})
	}
}

// InitWebSocket initializes the WebSocket hub and returns the handler
func InitWebSocket() http.HandlerFunc {
	wsHub = NewWSHub()
	go wsHub.Run()
	hub := wsHub

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error(logging.CatWebSocket, "WebSocket upgrade failed", map[string]any{
				"error":      err.Error(),
				"remoteAddr": r.RemoteAddr,
			})
			return
		}

		logging.Info(logging.CatWebSocket, "Client connected", map[string]any{
			"remoteAddr": r.RemoteAddr,
		})

		ctx, cancel := context.WithCancel(context.Background())
		client := &WSClient{
			conn:     conn,
			send:     make(chan []byte, 256),
			hub:      hub,
			ctx:      ctx,
			cancel:   cancel,
			polls:    make(map[string]context.CancelFunc),
			lastUIDs: make(map[string]string),
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

func (c *WSClient) readPump() {
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket readPump", false)
	// Cleanup (runs first)
	defer func() {
		// Stops polling, running dumps and the write pump
		c.cancel()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn(logging.CatWebSocket, "WebSocket unexpected close", map[string]any{
					"error": err.Error(),
				})
			} else {
				logging.Debug(logging.CatWebSocket, "Client disconnected", nil)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("", "invalid message format")
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket writePump", false)
	// Cleanup (runs first)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				return
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(msg WSMessage) {
	logging.Debug(logging.CatWebSocket, "Received message", map[string]any{
		"type": msg.Type,
		"id":   msg.ID,
	})

	switch msg.Type {
	case "list_readers":
		c.handleListReaders(msg.ID)
	case "read_card":
		c.handleReadCard(msg.ID, msg.Payload)
	case "dump":
		c.handleDump(msg.ID, msg.Payload)
	case "read_block":
		c.handleReadBlock(msg.ID, msg.Payload)
	case "write_block":
		c.handleWriteBlock(msg.ID, msg.Payload)
	case "read_value":
		c.handleReadValue(msg.ID, msg.Payload)
	case "update_value":
		c.handleUpdateValue(msg.ID, msg.Payload)
	case "keys":
		c.sendResponse(msg.ID, "keys", cards.Keys().Info())
	case "subscribe":
		c.handleSubscribe(msg.ID, msg.Payload)
	case "unsubscribe":
		c.handleUnsubscribe(msg.ID, msg.Payload)
	case "version":
		c.handleVersion(msg.ID)
	case "health":
		c.handleHealth(msg.ID)
	default:
		logging.Warn(logging.CatWebSocket, "Unknown message type", map[string]any{
			"type": msg.Type,
		})
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *WSClient) enqueue(b []byte) {
	select {
	case c.send <- b:
	case <-c.ctx.Done():
	}
}

func (c *WSClient) sendResponse(id string, msgType string, payload interface{}) {
	payloadBytes, _ := json.Marshal(payload)
	response := WSMessage{
		Type:    msgType,
		ID:      id,
		Payload: payloadBytes,
	}
	responseBytes, _ := json.Marshal(response)
	c.enqueue(responseBytes)
}

func (c *WSClient) sendError(id string, errMsg string) {
	response := WSMessage{
		Type:  "error",
		ID:    id,
		Error: errMsg,
	}
	responseBytes, _ := json.Marshal(response)
	c.enqueue(responseBytes)
}

// sendCardError reports a failed card operation with its error kind.
func (c *WSClient) sendCardError(id string, err error) {
	response := WSMessage{
		Type:  "error",
		ID:    id,
		Error: err.Error(),
		Kind:  errorKind(err),
	}
	responseBytes, _ := json.Marshal(response)
	c.enqueue(responseBytes)
}

// blockRequest is the common payload of block and value messages.
type blockRequest struct {
	ReaderIndex int    `json:"readerIndex"`
	Block       int    `json:"block"`
	Key         string `json:"key"`
	KeyType     string `json:"keyType"`
}

// decodeBlockRequest unmarshals payload into req, which must embed or be a
// blockRequest, and resolves the reader and key. It reports errors itself.
func (c *WSClient) decodeBlockRequest(id string, payload json.RawMessage, req any, base *blockRequest) (string, *mifare.Key, bool) {
	if err := json.Unmarshal(payload, req); err != nil {
		c.sendError(id, "invalid payload")
		return "", nil, false
	}
	readerName, err := resolveReader(base.ReaderIndex)
	if err != nil {
		c.sendError(id, "reader index out of range")
		return "", nil, false
	}
	key, err := parseKey(base.Key, base.KeyType)
	if err != nil {
		c.sendError(id, err.Error())
		return "", nil, false
	}
	return readerName, key, true
}

func (c *WSClient) handleListReaders(id string) {
	readers := cards.ListReaders()
	c.sendResponse(id, "readers", readers)
}

func (c *WSClient) handleReadCard(id string, payload json.RawMessage) {
	var req struct {
		ReaderIndex int `json:"readerIndex"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	readerName, err := resolveReader(req.ReaderIndex)
	if err != nil {
		c.sendError(id, "reader index out of range")
		return
	}

	card, err := cards.GetCard(readerName)
	if err != nil {
		c.sendCardError(id, err)
		return
	}

	c.sendResponse(id, "card", card)
}

// handleDump streams one "sector" event per sector, then the full "dump" report.
// The dump stops when the client disconnects.
func (c *WSClient) handleDump(id string, payload json.RawMessage) {
	var req struct {
		ReaderIndex int `json:"readerIndex"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	readerName, err := resolveReader(req.ReaderIndex)
	if err != nil {
		c.sendError(id, "reader index out of range")
		return
	}

	go func() {
		defer logging.RecoverAndLog("WebSocket dump", false)

		report, err := cards.Dump(c.ctx, readerName, func(s mifare.SectorReport) {
			c.sendResponse(id, "sector", s)
		})
		if err != nil {
			reportError(logging.CatDump, "Dump failed", err, map[string]any{"reader": readerName})
			c.sendCardError(id, err)
			return
		}
		c.sendResponse(id, "dump", report)
	}()
}

func (c *WSClient) handleReadBlock(id string, payload json.RawMessage) {
	var req blockRequest
	readerName, key, ok := c.decodeBlockRequest(id, payload, &req, &req)
	if !ok {
		return
	}

	result, err := cards.ReadBlock(readerName, req.Block, key)
	if err != nil {
		c.sendCardError(id, err)
		return
	}
	c.sendResponse(id, "block", result)
}

func (c *WSClient) handleWriteBlock(id string, payload json.RawMessage) {
	var req struct {
		blockRequest
		Data string `json:"data"`
	}
	readerName, key, ok := c.decodeBlockRequest(id, payload, &req, &req.blockRequest)
	if !ok {
		return
	}

	data, err := hex.DecodeString(req.Data)
	if err != nil || len(data) != mifare.BlockSize {
		c.sendError(id, "invalid data (must be 32 hex characters for 16 bytes)")
		return
	}

	if err := cards.WriteBlock(readerName, req.Block, data, key); err != nil {
		c.sendCardError(id, err)
		return
	}
	c.sendResponse(id, "write_success", map[string]any{"block": req.Block})
}

func (c *WSClient) handleReadValue(id string, payload json.RawMessage) {
	var req blockRequest
	readerName, key, ok := c.decodeBlockRequest(id, payload, &req, &req)
	if !ok {
		return
	}

	result, err := cards.ReadValue(readerName, req.Block, key)
	if err != nil {
		c.sendCardError(id, err)
		return
	}
	c.sendResponse(id, "value", result)
}

func (c *WSClient) handleUpdateValue(id string, payload json.RawMessage) {
	var req struct {
		blockRequest
		Op    string `json:"op"`
		Value int32  `json:"value"`
	}
	readerName, key, ok := c.decodeBlockRequest(id, payload, &req, &req.blockRequest)
	if !ok {
		return
	}

	op, err := core.ParseValueOp(req.Op)
	if err != nil {
		c.sendCardError(id, err)
		return
	}

	result, err := cards.UpdateValue(readerName, req.Block, op, req.Value, key)
	if err != nil {
		c.sendCardError(id, err)
		return
	}
	c.sendResponse(id, "value", result)
}

func (c *WSClient) handleSubscribe(id string, payload json.RawMessage) {
	var req struct {
		ReaderIndex int `json:"readerIndex"`
		IntervalMs  int `json:"intervalMs"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	readerKey, err := resolveReader(req.ReaderIndex)
	if err != nil {
		c.sendError(id, "reader index out of range")
		return
	}

	if req.IntervalMs < 100 {
		req.IntervalMs = 500 // Default 500ms
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.mu.Lock()
	// Stop existing subscription if any
	if stop, ok := c.polls[readerKey]; ok {
		stop()
	}
	c.polls[readerKey] = cancel
	c.mu.Unlock()

	go c.poll(ctx, req.ReaderIndex, readerKey, time.Duration(req.IntervalMs)*time.Millisecond)

	logging.Info(logging.CatWebSocket, "Client subscribed to reader", map[string]any{
		"reader":     readerKey,
		"intervalMs": req.IntervalMs,
	})
	c.sendResponse(id, "subscribed", map[string]interface{}{
		"readerIndex": req.ReaderIndex,
		"intervalMs":  req.IntervalMs,
	})
}

// poll reads the card on readerKey every interval and reports arrivals and removals.
func (c *WSClient) poll(ctx context.Context, readerIndex int, readerKey string, interval time.Duration) {
	defer logging.RecoverAndLog("WebSocket poll goroutine", false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		card, err := cards.GetCard(readerKey)
		if err != nil {
			// Card removed - send event if we previously had a card
			c.mu.Lock()
			hadCard := c.lastUIDs[readerKey] != ""
			c.lastUIDs[readerKey] = ""
			c.mu.Unlock()
			if hadCard {
				logging.Info(logging.CatCard, "Card removed", map[string]any{
					"reader": readerKey,
				})
				c.sendResponse("", "card_removed", map[string]interface{}{
					"readerIndex": readerIndex,
					"readerName":  readerKey,
				})
			}
			continue
		}

		// Check if this is a new card
		c.mu.Lock()
		isNew := card.UID != c.lastUIDs[readerKey]
		c.lastUIDs[readerKey] = card.UID
		c.mu.Unlock()
		if !isNew {
			continue
		}
		logging.Info(logging.CatCard, "Card detected", map[string]any{
			"reader": readerKey,
			"uid":    card.UID,
			"type":   card.Type,
		})
		c.sendResponse("", "card_detected", map[string]interface{}{
			"readerIndex": readerIndex,
			"readerName":  readerKey,
			"card":        card,
		})
	}
}

func (c *WSClient) handleUnsubscribe(id string, payload json.RawMessage) {
	var req struct {
		ReaderIndex int `json:"readerIndex"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	readerKey, err := resolveReader(req.ReaderIndex)
	if err != nil {
		c.sendError(id, "reader index out of range")
		return
	}

	c.mu.Lock()
	if stop, ok := c.polls[readerKey]; ok {
		stop()
		delete(c.polls, readerKey)
	}
	delete(c.lastUIDs, readerKey)
	c.mu.Unlock()

	logging.Info(logging.CatWebSocket, "Client unsubscribed from reader", map[string]any{
		"reader": readerKey,
	})
	c.sendResponse(id, "unsubscribed", map[string]interface{}{
		"readerIndex": req.ReaderIndex,
	})
}

func (c *WSClient) handleVersion(id string) {
	c.sendResponse(id, "version", map[string]string{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
	})
}

func (c *WSClient) handleHealth(id string) {
	readers := cards.ListReaders()
	c.sendResponse(id, "health", map[string]interface{}{
		"status":      "ok",
		"readerCount": len(readers),
	})
}
