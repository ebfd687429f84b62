// Package session orchestrates one room join: it binds the transport's
// inbound frame stream to the timeline, membership set, and codec, and
// exposes the user-facing intents (send, edit, recall, delete).
//
// Intents are fire-and-forget: the optimistic local mutation is applied
// before the publish and stands regardless of transport outcome. A publish
// failure is logged, never surfaced — peers simply never see the mutation.
// The client also performs no ownership check on inbound mutations: any
// participant can edit, recall, or delete any message. Whether the remote
// service enforces authorship is unknown at this boundary.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/davidmoi2135/chat/internal/chat/codec"
	"github.com/davidmoi2135/chat/internal/chat/membership"
	"github.com/davidmoi2135/chat/internal/chat/moderation"
	"github.com/davidmoi2135/chat/internal/chat/timeline"
	"github.com/davidmoi2135/chat/internal/chat/wire"
)

// Transport is the publish/subscribe collaborator the session runs on.
// Subscribe handlers are invoked one payload at a time per connection.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(topic string, handler func(data []byte)) error
	Publish(topic string, payload any) error
	Disconnect() error
}

// Config carries the inputs for a session.
type Config struct {
	Username string
	RoomID   string
	// Filter pre-checks outbound text; nil disables the pre-send check.
	Filter *moderation.Filter
	// Logf receives non-fatal diagnostics. Defaults to log.Printf.
	Logf func(format string, args ...any)
	// OnUpdate, when set, is called after every state change so a renderer
	// can repaint. It may run with the session lock held, so it must not
	// block or call back into the session.
	OnUpdate func()
}

// Session is the reconciliation engine for a single room join. Every room
// join produces a fresh Session with its own timeline and member set; no
// state crosses session boundaries.
type Session struct {
	mu        sync.Mutex
	transport Transport
	username  string
	roomID    string
	timeline  *timeline.Timeline
	members   *membership.Set
	filter    *moderation.Filter
	logf      func(format string, args ...any)
	onUpdate  func()
	closed    bool
}

// New builds a session. The transport must be connected by Start.
func New(transport Transport, cfg Config) (*Session, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if cfg.RoomID == "" {
		return nil, fmt.Errorf("room id is required")
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Session{
		transport: transport,
		username:  cfg.Username,
		roomID:    cfg.RoomID,
		timeline:  timeline.New(cfg.RoomID),
		members:   membership.NewSet(),
		filter:    cfg.Filter,
		logf:      logf,
		onUpdate:  cfg.OnUpdate,
	}, nil
}

// Start connects the transport, subscribes to the room traffic and both
// membership feeds, announces the join, and optimistically adds self to the
// member set before any server confirmation.
func (s *Session) Start(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	if err := s.transport.Subscribe(wire.TopicMembersPrivate, s.handleMembersPush); err != nil {
		return fmt.Errorf("subscribe private members feed: %w", err)
	}
	if err := s.transport.Subscribe(wire.RoomMembersTopic(s.roomID), s.handleMembersPush); err != nil {
		return fmt.Errorf("subscribe room members feed: %w", err)
	}
	if err := s.transport.Subscribe(wire.TopicMessages, s.handleBroadcast); err != nil {
		return fmt.Errorf("subscribe room traffic: %w", err)
	}

	s.publish(wire.Frame{
		Sender:  s.username,
		Content: s.username + " has joined",
		Type:    wire.TypeJoin.String(),
		RoomID:  s.roomID,
	})

	s.mu.Lock()
	s.members.Add(s.username)
	s.mu.Unlock()
	s.notify()
	return nil
}

// Close announces the leave best-effort, clears the member set regardless
// of publish outcome, and tears the session down. Inbound frames arriving
// after Close are ignored.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.publish(wire.Frame{
		Sender:  s.username,
		Content: s.username + " has left",
		Type:    wire.TypeLeave.String(),
		RoomID:  s.roomID,
	})

	s.mu.Lock()
	s.members.Clear()
	s.mu.Unlock()

	if err := s.transport.Disconnect(); err != nil {
		return fmt.Errorf("disconnect transport: %w", err)
	}
	return nil
}

// PrecheckSend reports whether the local moderation filter would flag the
// text. Callers may warn before sending; the send itself is never blocked.
func (s *Session) PrecheckSend(text string) bool {
	return s.filter.Flagged(text)
}

// Send appends an optimistic chat record and publishes the tagged message.
// It returns the allocated correlation id.
func (s *Session) Send(text string) string {
	s.mu.Lock()
	_, cid := s.timeline.AppendLocal(s.username, text)
	s.mu.Unlock()
	s.notify()

	s.publish(wire.Frame{
		Sender:  s.username,
		Content: codec.EncodeChat(cid, text),
		Type:    wire.TypeChat.String(),
		RoomID:  s.roomID,
	})
	return cid
}

// Edit rewrites a message locally and publishes the edit. The local apply
// can fail (unknown or recalled id); the frame is published regardless
// because this client performs no ownership or existence arbitration.
func (s *Session) Edit(cid, text string) {
	s.mu.Lock()
	applied := s.timeline.ApplyEdit(cid, text)
	s.mu.Unlock()
	if !applied {
		s.logf("edit %s: no local record mutated", cid)
	}
	s.notify()

	s.publish(wire.Frame{
		Sender:  s.username,
		Content: codec.EncodeEdit(cid, text),
		Type:    wire.TypeEdit.String(),
		RoomID:  s.roomID,
	})
}

// Recall empties a message locally and publishes the recall.
func (s *Session) Recall(cid string) {
	s.mu.Lock()
	applied := s.timeline.ApplyRecall(cid)
	s.mu.Unlock()
	if !applied {
		s.logf("recall %s: no local record mutated", cid)
	}
	s.notify()

	s.publish(wire.Frame{
		Sender:  s.username,
		Content: codec.EncodeRecall(cid),
		Type:    wire.TypeRecall.String(),
		RoomID:  s.roomID,
	})
}

// Delete removes a message locally and publishes the delete.
func (s *Session) Delete(cid string) {
	s.mu.Lock()
	applied := s.timeline.ApplyDelete(cid)
	s.mu.Unlock()
	if !applied {
		s.logf("delete %s: no local record mutated", cid)
	}
	s.notify()

	s.publish(wire.Frame{
		Sender:  s.username,
		Content: codec.EncodeDelete(cid),
		Type:    wire.TypeDelete.String(),
		RoomID:  s.roomID,
	})
}

// ToggleReveal flips the reveal override on a flagged record.
func (s *Session) ToggleReveal(cid string) {
	s.mu.Lock()
	s.timeline.ToggleReveal(cid)
	s.mu.Unlock()
	s.notify()
}

// Records returns a snapshot of the timeline.
func (s *Session) Records() []timeline.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.Records()
}

// Members returns the current member names, sorted.
func (s *Session) Members() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members.Names()
}

// handleBroadcast is the inbound dispatch path for room traffic. The
// transport invokes it one frame at a time; the mutex only guards against
// user intents racing from another goroutine.
func (s *Session) handleBroadcast(data []byte) {
	var frame wire.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		// Unstructured body: wrap as a plain display message. Room scoping
		// below still drops it because it carries no room id.
		frame = wire.Frame{Content: string(data)}
	}

	// Strict room scoping: frames for other rooms, or with no room at all,
	// never reach the timeline or member set.
	if frame.RoomID == "" || frame.RoomID != s.roomID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	switch wire.ParseFrameType(frame.Type) {
	case wire.TypeJoin:
		s.members.Add(frame.Sender)
		s.timeline.AppendSystem(timeline.KindJoin, frame.Sender, frame.Content, s.username)
		s.requestMemberResync()
	case wire.TypeLeave:
		s.members.Remove(frame.Sender)
		s.timeline.AppendSystem(timeline.KindLeave, frame.Sender, frame.Content, s.username)
		s.requestMemberResync()
	case wire.TypeSystem:
		s.timeline.AppendSystem(timeline.KindSystem, frame.Sender, frame.Content, s.username)
	case wire.TypeEdit:
		dec := codec.Decode(frame.Content)
		if dec.Op != codec.OpEdit {
			s.logf("edit frame with untagged content dropped: %q", frame.Content)
			break
		}
		if !s.timeline.ApplyEdit(dec.ID, dec.Body) {
			s.logf("edit for unseen message %s dropped", dec.ID)
		}
	case wire.TypeRecall:
		dec := codec.Decode(frame.Content)
		if dec.Op != codec.OpRecall {
			s.logf("recall frame with untagged content dropped: %q", frame.Content)
			break
		}
		if !s.timeline.ApplyRecall(dec.ID) {
			s.logf("recall for unseen message %s dropped", dec.ID)
		}
	case wire.TypeDelete:
		dec := codec.Decode(frame.Content)
		if dec.Op != codec.OpDelete {
			s.logf("delete frame with untagged content dropped: %q", frame.Content)
			break
		}
		if !s.timeline.ApplyDelete(dec.ID) {
			s.logf("delete for unseen message %s dropped", dec.ID)
		}
	default:
		// CHAT and unknown types follow the chat path.
		s.applyInboundChat(frame)
	}
	s.notify()
}

// applyInboundChat decodes a chat payload and reconciles it against the
// timeline. Mutation tags occasionally arrive on CHAT frames from older
// peers; they are honored here with the same semantics, except delete,
// which is only meaningful on DELETE frames.
func (s *Session) applyInboundChat(frame wire.Frame) {
	dec := codec.Decode(frame.Content)
	switch dec.Op {
	case codec.OpRecall:
		if !s.timeline.ApplyRecall(dec.ID) {
			s.logf("recall for unseen message %s dropped", dec.ID)
		}
		return
	case codec.OpEdit:
		if !s.timeline.ApplyEdit(dec.ID, dec.Body) {
			s.logf("edit for unseen message %s dropped", dec.ID)
		}
		return
	case codec.OpDelete:
		s.logf("delete tag on chat frame ignored: %s", dec.ID)
		return
	}

	flagged := frame.Polite != nil && !*frame.Polite
	s.timeline.ApplyChat(timeline.Record{
		CorrelationID: dec.ID,
		Sender:        frame.Sender,
		RoomID:        frame.RoomID,
		Kind:          timeline.KindChat,
		Content:       dec.Body,
		RawContent:    frame.Content,
		Moderation:    timeline.Moderation{Flagged: flagged, Revealed: !flagged},
	})
}

// handleMembersPush serves both resync feeds: the pushed list replaces the
// whole set, last write wins.
func (s *Session) handleMembersPush(data []byte) {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		s.logf("members push decode failed: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.members.Replace(names)
	s.notify()
}

// requestMemberResync asks the broker for the authoritative member list.
// Callers hold the mutex; the local join/leave update stays a provisional
// guess until the next push lands.
func (s *Session) requestMemberResync() {
	if err := s.transport.Publish(wire.TopicSend, wire.MemberResyncRequest{RoomID: s.roomID}); err != nil {
		s.logf("member resync request failed: %v", err)
	}
}

func (s *Session) publish(frame wire.Frame) {
	if err := s.transport.Publish(wire.TopicSend, frame); err != nil {
		s.logf("publish %s frame failed, local state kept: %v", frame.Type, err)
	}
}

func (s *Session) notify() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}
