// Package broker implements the development message broker the chat client
// talks to. It speaks the same envelope framing as the websocket transport:
// clients subscribe to topics and publish command frames, the broker fans
// deliveries back out. Presence is tracked per connection so a dropped
// socket produces the same leave traffic as an orderly sign-off.
package broker

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/net/websocket"

	"github.com/davidmoi2135/chat/internal/chat/wire"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

const (
	envelopeSubscribe = "subscribe"
	envelopePublish   = "publish"
	envelopeDeliver   = "deliver"
)

type envelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewHandler creates the broker routes: a health probe on /up and the
// websocket endpoint on /ws.
func NewHandler() http.Handler {
	hub := newTopicHub()
	presence := newPresenceIndex()

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleConn(conn, hub, presence)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

func handleConn(conn *websocket.Conn, hub *topicHub, presence *presenceIndex) {
	defer func() {
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	p := newPeer(json.NewEncoder(conn))
	defer func() {
		hub.drop(p)
		// A vanished connection leaves like everyone else.
		if room, name, ok := presence.remove(p); ok {
			frame := wire.Frame{
				Sender:  name,
				Content: name + " has left",
				Type:    wire.TypeLeave.String(),
				RoomID:  room,
			}
			if data, err := json.Marshal(frame); err == nil {
				hub.broadcast(wire.TopicMessages, data)
			}
			broadcastMembers(hub, presence, room)
		}
	}()

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var env envelope
		if err := decoder.Decode(&env); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(env.Payload) > maxFramePayloadBytes {
			log.Printf("broker: dropping oversized payload on %s", env.Topic)
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			log.Printf("broker: rate limit exceeded, closing connection")
			return
		}

		switch env.Type {
		case envelopeSubscribe:
			hub.subscribe(env.Topic, p)
		case envelopePublish:
			if env.Topic != wire.TopicSend {
				log.Printf("broker: publish to unsupported topic %s dropped", env.Topic)
				continue
			}
			routeCommand(p, hub, presence, env.Payload)
		default:
			log.Printf("broker: unsupported envelope type %q dropped", env.Type)
		}
	}
}

// routeCommand dispatches one frame published to the command topic. A
// payload without a type field is a member resync request.
func routeCommand(p *peer, hub *topicHub, presence *presenceIndex, payload json.RawMessage) {
	var frame wire.Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		log.Printf("broker: undecodable command payload dropped: %v", err)
		return
	}

	if frame.Type == "" {
		var req wire.MemberResyncRequest
		if err := json.Unmarshal(payload, &req); err != nil || req.RoomID == "" {
			log.Printf("broker: untyped command without room id dropped")
			return
		}
		pushMembers(p, hub, presence, req.RoomID)
		return
	}

	switch wire.ParseFrameType(frame.Type) {
	case wire.TypeJoin:
		presence.add(p, frame.RoomID, frame.Sender)
		hub.broadcast(wire.TopicMessages, payload)
		pushMembers(p, hub, presence, frame.RoomID)
	case wire.TypeLeave:
		presence.remove(p)
		hub.broadcast(wire.TopicMessages, payload)
		broadcastMembers(hub, presence, frame.RoomID)
	default:
		hub.broadcast(wire.TopicMessages, payload)
	}
}

// pushMembers sends the roster to the acting peer's private feed and to the
// room-wide feed.
func pushMembers(p *peer, hub *topicHub, presence *presenceIndex, room string) {
	data, err := json.Marshal(presence.members(room))
	if err != nil {
		return
	}
	_ = p.deliver(wire.TopicMembersPrivate, data)
	hub.broadcast(wire.RoomMembersTopic(room), data)
}

func broadcastMembers(hub *topicHub, presence *presenceIndex, room string) {
	data, err := json.Marshal(presence.members(room))
	if err != nil {
		return
	}
	hub.broadcast(wire.RoomMembersTopic(room), data)
}
