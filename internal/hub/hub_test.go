package hub

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashkan-ph/pulse/internal/auth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFakeClient(h *Hub) *Client {
	c := newClient(h, nil, auth.Identity{UserID: "user-1"}, testLogger())
	h.register(c)
	return c
}

func TestValidChannel(t *testing.T) {
	testCases := []struct {
		name    string
		channel string
		valid   bool
	}{
		{name: "Tickers", channel: "tickers", valid: true},
		{name: "Signals", channel: "signals", valid: true},
		{name: "Pumps", channel: "pumps", valid: true},
		{name: "Notifications", channel: "notifications", valid: true},
		{name: "Symbol channel", channel: "ticker:BTCUSDT", valid: true},
		{name: "Symbol with digits", channel: "ticker:1INCHUSDT", valid: true},
		{name: "Empty symbol", channel: "ticker:", valid: false},
		{name: "Lowercase symbol", channel: "ticker:btcusdt", valid: false},
		{name: "Unknown name", channel: "orders", valid: false},
		{name: "Empty name", channel: "", valid: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidChannel(tc.channel); got != tc.valid {
				t.Errorf("ValidChannel(%q) = %v, want %v", tc.channel, got, tc.valid)
			}
		})
	}
}

func TestSubscribeIdempotence(t *testing.T) {
	h := NewHub(testLogger())
	c := newFakeClient(h)

	if !h.Subscribe(c, ChannelTickers) {
		t.Fatal("First subscribe should return true")
	}
	if h.Subscribe(c, ChannelTickers) {
		t.Error("Second subscribe to the same channel should return false")
	}
	if got := h.Stats()[ChannelTickers]; got != 1 {
		t.Errorf("Expected 1 subscriber, got %d", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	h := NewHub(testLogger())
	c := newFakeClient(h)

	if h.Unsubscribe(c, ChannelTickers) {
		t.Error("Unsubscribe without membership should return false")
	}

	h.Subscribe(c, ChannelTickers)
	if !h.Unsubscribe(c, ChannelTickers) {
		t.Error("Unsubscribe with membership should return true")
	}
	if got := len(h.Channels(c)); got != 0 {
		t.Errorf("Expected no channels after unsubscribe, got %d", got)
	}
}

func TestUnsubscribeAll(t *testing.T) {
	h := NewHub(testLogger())
	c := newFakeClient(h)

	h.Subscribe(c, ChannelTickers)
	h.Subscribe(c, ChannelPumps)
	h.Subscribe(c, TickerChannel("BTCUSDT"))

	h.UnsubscribeAll(c)

	if got := len(h.Channels(c)); got != 0 {
		t.Errorf("Expected zero channels after UnsubscribeAll, got %d", got)
	}

	// Idempotent on an already-clean connection.
	h.UnsubscribeAll(c)
	if got := len(h.Channels(c)); got != 0 {
		t.Errorf("Expected zero channels, got %d", got)
	}
}

func TestBroadcastCountsDeliveries(t *testing.T) {
	h := NewHub(testLogger())
	sub1 := newFakeClient(h)
	sub2 := newFakeClient(h)
	outsider := newFakeClient(h)

	h.Subscribe(sub1, ChannelTickers)
	h.Subscribe(sub2, ChannelTickers)
	h.Subscribe(outsider, ChannelPumps)

	delivered := h.Broadcast(ChannelTickers, Message{Type: "tickers", Data: "x"})
	if delivered != 2 {
		t.Errorf("Expected 2 deliveries, got %d", delivered)
	}

	if len(sub1.send) != 1 || len(sub2.send) != 1 {
		t.Error("Subscribed clients should have the payload queued")
	}
	if len(outsider.send) != 0 {
		t.Error("Non-member should not receive the broadcast")
	}
}

func TestBroadcastDropsSlowClient(t *testing.T) {
	h := NewHub(testLogger())
	slow := newFakeClient(h)
	healthy := newFakeClient(h)

	h.Subscribe(slow, ChannelTickers)
	h.Subscribe(healthy, ChannelTickers)

	// Fill the slow client's buffer.
	for i := 0; i < SendBufferSize; i++ {
		slow.trySend([]byte("x"))
	}

	delivered := h.Broadcast(ChannelTickers, Message{Type: "tickers"})
	if delivered != 1 {
		t.Errorf("Expected 1 delivery past the slow client, got %d", delivered)
	}

	if h.ClientCount() != 1 {
		t.Errorf("Slow client should be dropped, %d clients left", h.ClientCount())
	}
	if slow.trySend([]byte("x")) {
		t.Error("Dropped client should reject further sends")
	}
}

func TestBroadcastEmptyChannel(t *testing.T) {
	h := NewHub(testLogger())
	if got := h.Broadcast(ChannelTickers, Message{Type: "tickers"}); got != 0 {
		t.Errorf("Expected 0 deliveries on empty channel, got %d", got)
	}
}

// --- end-to-end over a real WebSocket ---

const wsTestSecret = "ws-test-secret"

func newWSServer(t *testing.T) (*Hub, string) {
	t.Helper()
	h := NewHub(testLogger())
	validator := auth.NewJWTValidator(wsTestSecret)
	server := httptest.NewServer(h.Handler(validator))
	t.Cleanup(server.Close)
	return h, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return msg
}

func TestMissingTokenClosesWithAuthCode(t *testing.T) {
	_, url := newWSServer(t)
	conn := dialWS(t, url)

	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, CloseAuthFailure) {
		t.Errorf("Expected close code %d, got %v", CloseAuthFailure, err)
	}
}

func TestRefreshTokenRejected(t *testing.T) {
	_, url := newWSServer(t)

	token, err := auth.Sign(wsTestSecret, "user-9", auth.TokenTypeRefresh, time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	conn := dialWS(t, url+"?token="+token)

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, CloseAuthFailure) {
		t.Errorf("Expected close code %d for refresh token, got %v", CloseAuthFailure, err)
	}
}

func TestConnectFlow(t *testing.T) {
	h, url := newWSServer(t)

	token, err := auth.Sign(wsTestSecret, "user-9", auth.TokenTypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	conn := dialWS(t, url+"?token="+token)

	// Welcome arrives first, carrying the connection identity.
	welcome := readMessage(t, conn)
	if welcome.Type != "connected" {
		t.Fatalf("Expected connected message, got %q", welcome.Type)
	}
	data, ok := welcome.Data.(map[string]any)
	if !ok {
		t.Fatalf("Unexpected welcome payload: %T", welcome.Data)
	}
	if data["user_id"] != "user-9" {
		t.Errorf("Expected user_id user-9, got %v", data["user_id"])
	}
	if id, _ := data["connection_id"].(string); id == "" {
		t.Error("Expected a generated connection id")
	}

	// Subscribe, then broadcast reaches the client.
	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "channel": "tickers"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != "subscribed" || msg.Channel != "tickers" {
		t.Fatalf("Expected subscribed ack, got %+v", msg)
	}

	waitForSubscribers(t, h, ChannelTickers, 1)
	if delivered := h.Broadcast(ChannelTickers, Message{Type: "tickers", Data: []string{"BTCUSDT"}}); delivered != 1 {
		t.Errorf("Expected 1 delivery, got %d", delivered)
	}
	if msg := readMessage(t, conn); msg.Type != "tickers" {
		t.Errorf("Expected tickers broadcast, got %q", msg.Type)
	}
}

func TestDuplicateSubscribeAndPing(t *testing.T) {
	_, url := newWSServer(t)

	token, err := auth.Sign(wsTestSecret, "user-9", auth.TokenTypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	conn := dialWS(t, url+"?token="+token)
	readMessage(t, conn) // welcome

	conn.WriteJSON(map[string]string{"type": "subscribe", "channel": "pumps"})
	if msg := readMessage(t, conn); msg.Type != "subscribed" {
		t.Fatalf("Expected subscribed, got %+v", msg)
	}

	conn.WriteJSON(map[string]string{"type": "subscribe", "channel": "pumps"})
	msg := readMessage(t, conn)
	if msg.Type != "error" || msg.Code != ErrCodeAlreadySubscribed {
		t.Errorf("Expected ALREADY_SUBSCRIBED error, got %+v", msg)
	}

	conn.WriteJSON(map[string]string{"type": "ping"})
	if msg := readMessage(t, conn); msg.Type != "pong" {
		t.Errorf("Expected pong, got %+v", msg)
	}
}

func TestMalformedMessageKeepsConnectionOpen(t *testing.T) {
	_, url := newWSServer(t)

	token, err := auth.Sign(wsTestSecret, "user-9", auth.TokenTypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	conn := dialWS(t, url+"?token="+token)
	readMessage(t, conn) // welcome

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{nonsense")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != "error" || msg.Code != ErrCodeInvalidFormat {
		t.Fatalf("Expected INVALID_FORMAT error, got %+v", msg)
	}

	// Missing type field is the same class of error.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"tickers"}`)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if msg := readMessage(t, conn); msg.Code != ErrCodeInvalidFormat {
		t.Errorf("Expected INVALID_FORMAT for missing type, got %+v", msg)
	}

	// Connection is still usable afterwards.
	conn.WriteJSON(map[string]string{"type": "ping"})
	if msg := readMessage(t, conn); msg.Type != "pong" {
		t.Errorf("Connection should survive malformed input, got %+v", msg)
	}
}

func TestInvalidChannelRejected(t *testing.T) {
	_, url := newWSServer(t)

	token, err := auth.Sign(wsTestSecret, "user-9", auth.TokenTypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	conn := dialWS(t, url+"?token="+token)
	readMessage(t, conn) // welcome

	conn.WriteJSON(map[string]string{"type": "subscribe", "channel": "ticker:nope"})
	msg := readMessage(t, conn)
	if msg.Type != "error" || msg.Code != ErrCodeInvalidChannel {
		t.Errorf("Expected INVALID_CHANNEL error, got %+v", msg)
	}
}

func TestDisconnectCleansMembership(t *testing.T) {
	h, url := newWSServer(t)

	token, err := auth.Sign(wsTestSecret, "user-9", auth.TokenTypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	conn := dialWS(t, url+"?token="+token)
	readMessage(t, conn) // welcome

	conn.WriteJSON(map[string]string{"type": "subscribe", "channel": "tickers"})
	readMessage(t, conn) // subscribed

	waitForSubscribers(t, h, ChannelTickers, 1)
	conn.Close()

	waitForSubscribers(t, h, ChannelTickers, 0)
	if h.ClientCount() != 0 {
		t.Errorf("Expected 0 clients after disconnect, got %d", h.ClientCount())
	}
}

// waitForSubscribers polls until the channel has the expected count;
// connection teardown is asynchronous.
func waitForSubscribers(t *testing.T, h *Hub, channel string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Stats()[channel] == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Channel %q never reached %d subscribers (stats: %v)", channel, want, h.Stats())
}

func TestBearerHeaderFallback(t *testing.T) {
	_, url := newWSServer(t)

	token, err := auth.Sign(wsTestSecret, "user-9", auth.TokenTypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	header := map[string][]string{"Authorization": {"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if msg.Type != "connected" {
		t.Errorf("Expected connected via bearer header, got %q", msg.Type)
	}
}

func TestMessageJSONShape(t *testing.T) {
	payload, err := json.Marshal(Message{Type: "error", Code: ErrCodeInvalidFormat})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	// Empty channel and data stay off the wire.
	if strings.Contains(string(payload), "channel") || strings.Contains(string(payload), "data") {
		t.Errorf("Empty fields should be omitted: %s", payload)
	}
}
