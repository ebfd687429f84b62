package broker

import (
	"encoding/json"
	"sort"
	"sync"
)

type peer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newPeer(encoder *json.Encoder) *peer {
	return &peer{encoder: encoder}
}

func (p *peer) deliver(topic string, payload json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(envelope{Type: envelopeDeliver, Topic: topic, Payload: payload})
}

// topicHub tracks which peers subscribed to which topics.
type topicHub struct {
	mu     sync.Mutex
	topics map[string]map[*peer]struct{}
}

func newTopicHub() *topicHub {
	return &topicHub{topics: make(map[string]map[*peer]struct{})}
}

func (h *topicHub) subscribe(topic string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subscribers, ok := h.topics[topic]
	if !ok {
		subscribers = make(map[*peer]struct{})
		h.topics[topic] = subscribers
	}
	subscribers[p] = struct{}{}
}

func (h *topicHub) drop(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, subscribers := range h.topics {
		delete(subscribers, p)
		if len(subscribers) == 0 {
			delete(h.topics, topic)
		}
	}
}

// broadcast delivers the payload to every subscriber of the topic. Write
// failures are ignored; a broken peer is torn down by its own read loop.
func (h *topicHub) broadcast(topic string, payload json.RawMessage) {
	h.mu.Lock()
	subscribers := make([]*peer, 0, len(h.topics[topic]))
	for subscriber := range h.topics[topic] {
		subscribers = append(subscribers, subscriber)
	}
	h.mu.Unlock()

	for _, subscriber := range subscribers {
		_ = subscriber.deliver(topic, payload)
	}
}

type presenceEntry struct {
	room string
	name string
}

// presenceIndex maps connections to their announced identity and keeps the
// per-room rosters.
type presenceIndex struct {
	mu     sync.Mutex
	byPeer map[*peer]presenceEntry
	rooms  map[string]map[string]struct{}
}

func newPresenceIndex() *presenceIndex {
	return &presenceIndex{
		byPeer: make(map[*peer]presenceEntry),
		rooms:  make(map[string]map[string]struct{}),
	}
}

func (i *presenceIndex) add(p *peer, room, name string) {
	if room == "" || name == "" {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	if previous, ok := i.byPeer[p]; ok {
		i.removeLocked(previous)
	}
	i.byPeer[p] = presenceEntry{room: room, name: name}

	members, ok := i.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		i.rooms[room] = members
	}
	members[name] = struct{}{}
}

// remove drops the peer's presence and reports who left which room.
func (i *presenceIndex) remove(p *peer) (room, name string, ok bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	entry, ok := i.byPeer[p]
	if !ok {
		return "", "", false
	}
	delete(i.byPeer, p)
	i.removeLocked(entry)
	return entry.room, entry.name, true
}

func (i *presenceIndex) removeLocked(entry presenceEntry) {
	members, ok := i.rooms[entry.room]
	if !ok {
		return
	}
	delete(members, entry.name)
	if len(members) == 0 {
		delete(i.rooms, entry.room)
	}
}

func (i *presenceIndex) members(room string) []string {
	i.mu.Lock()
	defer i.mu.Unlock()

	names := make([]string, 0, len(i.rooms[room]))
	for name := range i.rooms[room] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
