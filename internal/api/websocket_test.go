package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SimplyPrint/classic-agent/internal/core"
	"github.com/SimplyPrint/classic-agent/internal/mifare"
	"github.com/SimplyPrint/classic-agent/internal/mifare/mifaretest"
	"github.com/gorilla/websocket"
)

func newTestClient(t *testing.T) *WSClient {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &WSClient{
		send:     make(chan []byte, 256),
		ctx:      ctx,
		cancel:   cancel,
		polls:    make(map[string]context.CancelFunc),
		lastUIDs: make(map[string]string),
	}
}

// nextMessage waits for the next queued message on c.
func nextMessage(t *testing.T, c *WSClient) WSMessage {
	t.Helper()
	select {
	case raw := <-c.send:
		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return WSMessage{}
	}
}

func TestNewWSHub(t *testing.T) {
	hub := NewWSHub()

	if hub == nil {
		t.Fatal("NewWSHub() returned nil")
	}
	if hub.clients == nil {
		t.Error("clients map should be initialized")
	}
	if hub.broadcast == nil || hub.register == nil || hub.unregister == nil {
		t.Error("channels should be initialized")
	}
}

func TestWSHub_Run(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	client := newTestClient(t)
	client.hub = hub

	hub.register <- client
	time.Sleep(10 * time.Millisecond)
	if hub.Clients() != 1 {
		t.Error("client should be registered")
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)
	if hub.Clients() != 0 {
		t.Error("client should be unregistered")
	}
}

func TestWSHub_Broadcast(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	// Create multiple clients
	clients := make([]*WSClient, 3)
	for i := range clients {
		clients[i] = newTestClient(t)
		clients[i].hub = hub
		hub.register <- clients[i]
	}

	testMsg := []byte(`{"type":"test"}`)
	hub.broadcast <- testMsg

	for i, client := range clients {
		select {
		case msg := <-client.send:
			if string(msg) != string(testMsg) {
				t.Errorf("client %d received wrong message", i)
			}
		case <-time.After(time.Second):
			t.Errorf("client %d did not receive message", i)
		}
	}
}

func TestWSMessage_JSON(t *testing.T) {
	msg := WSMessage{
		Type:  "error",
		ID:    "789",
		Error: "mifare: read block 4: auth_exhausted",
		Kind:  "auth_exhausted",
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded WSMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Type != msg.Type || decoded.ID != msg.ID || decoded.Error != msg.Error || decoded.Kind != msg.Kind {
		t.Errorf("decoded = %+v, want %+v", decoded, msg)
	}

	data, _ = json.Marshal(WSMessage{Type: "version"})
	if strings.Contains(string(data), "kind") || strings.Contains(string(data), "payload") {
		t.Errorf("empty fields should be omitted: %s", data)
	}
}

func TestWSClient_sendResponse(t *testing.T) {
	client := newTestClient(t)

	client.sendResponse("test-id", "test-type", map[string]string{"key": "value"})

	msg := nextMessage(t, client)
	if msg.Type != "test-type" {
		t.Errorf("expected type 'test-type', got '%s'", msg.Type)
	}
	if msg.ID != "test-id" {
		t.Errorf("expected ID 'test-id', got '%s'", msg.ID)
	}
}

func TestWSClient_sendAfterClose(t *testing.T) {
	client := newTestClient(t)
	client.send = make(chan []byte) // unbuffered, nobody reading
	client.cancel()

	done := make(chan struct{})
	go func() {
		client.sendResponse("late", "card", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send should not block once the client is closed")
	}
}

func TestWSClient_handleMessage(t *testing.T) {
	useMock(t, newMockCards())

	tests := []struct {
		name     string
		msgType  string
		payload  string
		wantType string
	}{
		{"list_readers", "list_readers", "", "readers"},
		{"version", "version", "", "version"},
		{"health", "health", "", "health"},
		{"keys", "keys", "", "keys"},
		{"read_card", "read_card", `{"readerIndex":0}`, "card"},
		{"unknown", "unknown_type", "", "error"},
		{"read_card_invalid_payload", "read_card", "invalid", "error"},
		{"read_card_bad_reader", "read_card", `{"readerIndex":3}`, "error"},
		{"read_block_invalid_payload", "read_block", "invalid", "error"},
		{"write_block_bad_data", "write_block", `{"readerIndex":0,"block":4,"data":"00"}`, "error"},
		{"update_value_bad_op", "update_value", `{"readerIndex":0,"block":5,"op":"halve"}`, "error"},
		{"subscribe_invalid_payload", "subscribe", "invalid", "error"},
		{"unsubscribe_invalid_payload", "unsubscribe", "invalid", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t)

			var payload json.RawMessage
			if tt.payload != "" {
				payload = json.RawMessage(tt.payload)
			}

			client.handleMessage(WSMessage{Type: tt.msgType, ID: "test-id", Payload: payload})

			msg := nextMessage(t, client)
			if msg.Type != tt.wantType {
				t.Errorf("expected type '%s', got '%s' (%s)", tt.wantType, msg.Type, msg.Error)
			}
			if msg.ID != "test-id" {
				t.Errorf("expected ID 'test-id', got '%s'", msg.ID)
			}
		})
	}
}

func TestWSClient_handleReadCard_Error(t *testing.T) {
	m := newMockCards()
	m.setCard(nil, core.ErrUnsupportedCard)
	useMock(t, m)

	client := newTestClient(t)
	client.handleReadCard("rc", json.RawMessage(`{"readerIndex":0}`))

	msg := nextMessage(t, client)
	if msg.Type != "error" || msg.Kind != "unsupported_card" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestWSClient_handleBlockMessages(t *testing.T) {
	m := newMockCards()
	m.block = &core.BlockResult{Block: 4, Sector: 1, Data: strings.Repeat("00", 16), Role: "data", KeyType: "A"}
	m.value = &core.ValueResult{Block: 5, Value: 10, Addr: 5}
	useMock(t, m)
	client := newTestClient(t)

	client.handleReadBlock("b", json.RawMessage(`{"readerIndex":0,"block":4,"key":"FFFFFFFFFFFF","keyType":"B"}`))
	if msg := nextMessage(t, client); msg.Type != "block" {
		t.Errorf("read_block: got %+v", msg)
	}
	if m.lastBlock != 4 || m.lastKey == nil || m.lastKey.Type != mifare.KeyB {
		t.Errorf("read_block: block=%d key=%v", m.lastBlock, m.lastKey)
	}

	client.handleWriteBlock("w", json.RawMessage(`{"readerIndex":0,"block":9,"data":"68656C6C6F20636C6173736963212121"}`))
	if msg := nextMessage(t, client); msg.Type != "write_success" {
		t.Errorf("write_block: got %+v", msg)
	}
	if m.lastBlock != 9 || m.lastKey != nil || string(m.lastData) != "hello classic!!!" {
		t.Errorf("write_block: block=%d key=%v data=%q", m.lastBlock, m.lastKey, m.lastData)
	}

	client.handleUpdateValue("v", json.RawMessage(`{"readerIndex":0,"block":5,"op":"decrement","value":3}`))
	if msg := nextMessage(t, client); msg.Type != "value" {
		t.Errorf("update_value: got %+v", msg)
	}
	if m.lastOp != core.ValueDecrement || m.lastValue != 3 {
		t.Errorf("update_value: op=%s value=%d", m.lastOp, m.lastValue)
	}

	m.err = &mifare.Error{Kind: mifare.KindOverflow, Op: "increment", Block: 5}
	client.handleUpdateValue("o", json.RawMessage(`{"readerIndex":0,"block":5,"op":"increment","value":1}`))
	if msg := nextMessage(t, client); msg.Type != "error" || msg.Kind != "overflow" {
		t.Errorf("overflow: got %+v", msg)
	}
}

func TestWSClient_handleDump(t *testing.T) {
	m := newMockCards()
	m.report = simulatedDump(mifaretest.NewMini())
	useMock(t, m)
	client := newTestClient(t)

	client.handleDump("d", json.RawMessage(`{"readerIndex":0}`))

	for i := 0; i < len(m.report.Sectors); i++ {
		msg := nextMessage(t, client)
		if msg.Type != "sector" || msg.ID != "d" {
			t.Fatalf("message %d: expected sector event, got %+v", i, msg)
		}
		var s mifare.SectorReport
		if err := json.Unmarshal(msg.Payload, &s); err != nil {
			t.Fatalf("bad sector payload: %v", err)
		}
		if s.Index != i {
			t.Errorf("sector %d arrived as index %d", i, s.Index)
		}
	}

	msg := nextMessage(t, client)
	if msg.Type != "dump" {
		t.Fatalf("expected final dump message, got %+v", msg)
	}
	var report struct {
		Sectors []json.RawMessage `json:"sectors"`
	}
	json.Unmarshal(msg.Payload, &report)
	if len(report.Sectors) != 5 {
		t.Errorf("dump has %d sectors, want 5", len(report.Sectors))
	}
}

func TestWSClient_Subscribe(t *testing.T) {
	m := newMockCards()
	useMock(t, m)
	client := newTestClient(t)

	client.handleSubscribe("s", json.RawMessage(`{"readerIndex":0,"intervalMs":100}`))
	if msg := nextMessage(t, client); msg.Type != "subscribed" {
		t.Fatalf("expected subscribed, got %+v", msg)
	}

	msg := nextMessage(t, client)
	if msg.Type != "card_detected" {
		t.Fatalf("expected card_detected, got %+v", msg)
	}
	var detected struct {
		ReaderIndex int       `json:"readerIndex"`
		Card        core.Card `json:"card"`
	}
	json.Unmarshal(msg.Payload, &detected)
	if detected.Card.UID != "04A1B2C3" {
		t.Errorf("unexpected card: %+v", detected.Card)
	}

	m.setCard(nil, core.ErrNoCard)
	if msg := nextMessage(t, client); msg.Type != "card_removed" {
		t.Fatalf("expected card_removed, got %+v", msg)
	}

	client.handleUnsubscribe("u", json.RawMessage(`{"readerIndex":0}`))
	if msg := nextMessage(t, client); msg.Type != "unsubscribed" {
		t.Fatalf("expected unsubscribed, got %+v", msg)
	}
	client.mu.Lock()
	active := len(client.polls)
	client.mu.Unlock()
	if active != 0 {
		t.Errorf("%d polls still active", active)
	}
}

func TestInitWebSocket(t *testing.T) {
	handler := InitWebSocket()

	if handler == nil {
		t.Fatal("InitWebSocket() returned nil handler")
	}
	if wsHub == nil {
		t.Error("global wsHub should be initialized")
	}
}

func dialTestServer(t *testing.T) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(InitWebSocket()))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// Integration test with actual WebSocket connection
func TestWebSocket_Integration(t *testing.T) {
	useMock(t, newMockCards())
	ws := dialTestServer(t)

	if err := ws.WriteJSON(WSMessage{Type: "list_readers", ID: "test-123"}); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}

	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if resp.Type != "readers" {
		t.Errorf("expected type 'readers', got '%s'", resp.Type)
	}
	if resp.ID != "test-123" {
		t.Errorf("expected ID 'test-123', got '%s'", resp.ID)
	}
}

func TestWebSocket_UnknownType(t *testing.T) {
	useMock(t, newMockCards())
	ws := dialTestServer(t)

	ws.WriteJSON(WSMessage{Type: "unknown_type_xyz", ID: "u1"})

	var resp WSMessage
	ws.ReadJSON(&resp)

	if resp.Type != "error" {
		t.Errorf("expected error type, got '%s'", resp.Type)
	}
	if !strings.Contains(resp.Error, "unknown message type") {
		t.Errorf("expected unknown type error, got '%s'", resp.Error)
	}
}

func TestWebSocket_Broadcast(t *testing.T) {
	useMock(t, newMockCards())
	ws := dialTestServer(t)

	// Round trip once so the client is registered with the hub.
	ws.WriteJSON(WSMessage{Type: "version", ID: "v"})
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}

	Broadcast("key_learned", map[string]string{"types": "A"})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}
	if resp.Type != "key_learned" {
		t.Errorf("expected type 'key_learned', got '%s'", resp.Type)
	}
}

func TestWebSocket_ConcurrentClients(t *testing.T) {
	useMock(t, newMockCards())
	handler := InitWebSocket()
	server := httptest.NewServer(http.HandlerFunc(handler))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	numClients := 5
	var wg sync.WaitGroup
	wg.Add(numClients)

	errs := make(chan error, numClients)

	for i := 0; i < numClients; i++ {
		go func() {
			defer wg.Done()

			ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			if err != nil {
				errs <- err
				return
			}
			defer ws.Close()

			if err := ws.WriteJSON(WSMessage{Type: "health", ID: "concurrent"}); err != nil {
				errs <- err
				return
			}

			var resp WSMessage
			if err := ws.ReadJSON(&resp); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent client error: %v", err)
	}
}

// Benchmarks
func BenchmarkWSMessage_Unmarshal(b *testing.B) {
	data := []byte(`{"type":"read_block","id":"benchmark-id","payload":{"readerIndex":0,"block":4}}`)

	for i := 0; i < b.N; i++ {
		var msg WSMessage
		json.Unmarshal(data, &msg)
	}
}
