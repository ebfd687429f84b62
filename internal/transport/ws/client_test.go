package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/websocket"
)

// loopbackBroker echoes every publish back as a deliver on the same topic,
// but only once the topic has been subscribed. Unsolicited deliveries can
// be injected through the returned send function.
func loopbackBroker(t *testing.T) (*httptest.Server, func(topic string, payload any)) {
	t.Helper()

	var mu sync.Mutex
	var conns []*json.Encoder

	handler := websocket.Handler(func(conn *websocket.Conn) {
		defer func() {
			_ = conn.Close()
		}()

		encoder := json.NewEncoder(conn)
		mu.Lock()
		conns = append(conns, encoder)
		mu.Unlock()

		subscribed := make(map[string]bool)
		decoder := json.NewDecoder(conn)
		for {
			var env Envelope
			if err := decoder.Decode(&env); err != nil {
				return
			}
			switch env.Type {
			case EnvelopeSubscribe:
				subscribed[env.Topic] = true
			case EnvelopePublish:
				if !subscribed[env.Topic] {
					continue
				}
				mu.Lock()
				err := encoder.Encode(Envelope{
					Type:    EnvelopeDeliver,
					Topic:   env.Topic,
					Payload: env.Payload,
				})
				mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	send := func(topic string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal injected payload: %v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		for _, encoder := range conns {
			_ = encoder.Encode(Envelope{Type: EnvelopeDeliver, Topic: topic, Payload: data})
		}
	}
	return srv, send
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func connectClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client := NewClient(wsURL(srv), WithLogf(t.Logf))
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() {
		_ = client.Disconnect()
	})
	return client
}

func waitForPayload(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

// TestPublishRoundTrip verifies a published payload comes back through the
// subscribed handler byte for byte.
func TestPublishRoundTrip(t *testing.T) {
	srv, _ := loopbackBroker(t)
	client := connectClient(t, srv)

	got := make(chan []byte, 1)
	if err := client.Subscribe("/topic/message", func(data []byte) {
		got <- data
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	payload := map[string]string{"sender": "alice", "content": "hello"}
	if err := client.Publish("/topic/message", payload); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(waitForPayload(t, got), &decoded); err != nil {
		t.Fatalf("decode delivery: %v", err)
	}
	if decoded["sender"] != "alice" || decoded["content"] != "hello" {
		t.Errorf("delivered payload = %v, want sender alice content hello", decoded)
	}
}

// TestDeliveryRouting verifies deliveries reach only the handler registered
// for their topic.
func TestDeliveryRouting(t *testing.T) {
	srv, send := loopbackBroker(t)
	client := connectClient(t, srv)

	topicA := make(chan []byte, 1)
	if err := client.Subscribe("/topic/a", func(data []byte) {
		topicA <- data
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// Delivery for a topic with no handler is dropped without affecting
	// the connection.
	send("/topic/unknown", "stray")
	send("/topic/a", "routed")

	var body string
	if err := json.Unmarshal(waitForPayload(t, topicA), &body); err != nil {
		t.Fatalf("decode delivery: %v", err)
	}
	if body != "routed" {
		t.Errorf("delivered body = %q, want %q", body, "routed")
	}
}

// TestOperationsRequireConnection verifies Subscribe and Publish fail
// before Connect.
func TestOperationsRequireConnection(t *testing.T) {
	client := NewClient("ws://localhost:1/ws", WithLogf(t.Logf))

	if err := client.Subscribe("/topic/a", func([]byte) {}); err == nil {
		t.Error("Subscribe() before Connect succeeded, want error")
	}
	if err := client.Publish("/topic/a", "x"); err == nil {
		t.Error("Publish() before Connect succeeded, want error")
	}
	if err := client.Disconnect(); err != nil {
		t.Errorf("Disconnect() before Connect error = %v, want nil", err)
	}
}

// TestConnectHonorsCanceledContext verifies an already-canceled context
// short-circuits the dial.
func TestConnectHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("ws://localhost:1/ws", WithLogf(t.Logf))
	if err := client.Connect(ctx); err == nil {
		t.Fatal("Connect() with canceled context succeeded, want error")
	}
}

// TestDisconnectStopsTraffic verifies the connection is unusable after
// Disconnect and that a second Disconnect is a no-op.
func TestDisconnectStopsTraffic(t *testing.T) {
	srv, _ := loopbackBroker(t)
	client := connectClient(t, srv)

	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := client.Publish("/topic/a", "x"); err == nil {
		t.Error("Publish() after Disconnect succeeded, want error")
	}
	if err := client.Disconnect(); err != nil {
		t.Errorf("second Disconnect() error = %v, want nil", err)
	}
}

// TestConnectFailsFast verifies a refused dial surfaces an error instead of
// hanging.
func TestConnectFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(wsURL(srv), WithLogf(t.Logf))
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("Connect() to closed server succeeded, want error")
	}
}
