// Package timeline owns the ordered, mutable log of message records for one
// room join. It carries the apply-mutation semantics (edit, recall, delete),
// the optimistic-echo reconciliation window, and moderation visibility state.
//
// A Timeline is not safe for concurrent use. All mutations happen on the
// session's single dispatch path; the session serializes user intents and
// inbound frames before they reach this package.
package timeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/davidmoi2135/chat/internal/platform/id"
	"github.com/davidmoi2135/chat/internal/platform/timeouts"
)

// Kind classifies a record for display purposes.
type Kind int

const (
	KindChat Kind = iota
	KindJoin
	KindLeave
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindJoin:
		return "join"
	case KindLeave:
		return "leave"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Moderation holds the visibility state for a flagged record. Revealed is
// only meaningful when Flagged is true; it defaults to the negation of
// Flagged so unflagged messages render normally.
type Moderation struct {
	Flagged  bool
	Revealed bool
}

// Record is one conversational unit. CorrelationID is empty for legacy and
// system records that predate the tagged protocol.
type Record struct {
	CorrelationID string
	Sender        string
	RoomID        string
	Kind          Kind
	Content       string
	RawContent    string
	LocalEcho     bool
	Recalled      bool
	Edited        bool
	Moderation    Moderation
}

// pendingSend tracks the most recent locally sent message awaiting its
// server echo. It is superseded by the next send and is never actively
// expired: an echo arriving after the window simply fails to match.
type pendingSend struct {
	correlationID string
	submittedAt   time.Time
}

// Timeline is the ordered message log for a single room.
type Timeline struct {
	roomID  string
	records []Record
	pending *pendingSend
	window  time.Duration
	now     func() time.Time
	newID   func() string
}

// New creates an empty timeline scoped to roomID.
func New(roomID string) *Timeline {
	return &Timeline{
		roomID: roomID,
		window: timeouts.EchoWindow,
		now:    time.Now,
		newID:  newCorrelationID,
	}
}

func newCorrelationID() string {
	cid, err := id.NewID()
	if err != nil {
		return id.NewIDFallback()
	}
	return cid
}

// SetClock overrides the wall clock. Tests use it to move the echo window.
func (t *Timeline) SetClock(now func() time.Time) {
	t.now = now
}

// SetIDSource overrides correlation id allocation for deterministic tests.
func (t *Timeline) SetIDSource(newID func() string) {
	t.newID = newID
}

// RoomID reports the room this timeline is scoped to.
func (t *Timeline) RoomID() string {
	return t.roomID
}

// AppendLocal appends an optimistic chat record for a locally sent message
// and registers it as the pending send. It returns the record and the
// allocated correlation id.
func (t *Timeline) AppendLocal(sender, text string) (Record, string) {
	cid := t.newID()
	rec := Record{
		CorrelationID: cid,
		Sender:        sender,
		RoomID:        t.roomID,
		Kind:          KindChat,
		Content:       text,
		RawContent:    text,
		LocalEcho:     true,
		Moderation:    Moderation{Revealed: true},
	}
	t.records = append(t.records, rec)
	t.pending = &pendingSend{correlationID: cid, submittedAt: t.now()}
	return rec, cid
}

// ApplyChat reconciles an inbound confirmed chat record. When the record's
// correlation id matches the pending send and the send is still inside the
// echo window, the local-echo record is replaced in place, preserving its
// position, and the pending send is cleared. Every other inbound chat is
// appended, including late echoes of an expired pending send.
func (t *Timeline) ApplyChat(rec Record) {
	rec.LocalEcho = false
	if t.pending != nil &&
		rec.CorrelationID != "" &&
		rec.CorrelationID == t.pending.correlationID &&
		t.now().Sub(t.pending.submittedAt) < t.window {
		for i := range t.records {
			if t.records[i].LocalEcho && t.records[i].CorrelationID == rec.CorrelationID {
				t.records[i] = rec
				t.pending = nil
				return
			}
		}
	}
	t.records = append(t.records, rec)
}

// ApplyEdit replaces the content of the record with the given correlation
// id. Edits against recalled records fail: recall is terminal. Edits against
// unknown ids are dropped, not queued. The return reports whether a record
// was mutated.
func (t *Timeline) ApplyEdit(cid, body string) bool {
	for i := range t.records {
		if t.records[i].CorrelationID != cid || t.records[i].Kind != KindChat {
			continue
		}
		if t.records[i].Recalled {
			return false
		}
		t.records[i].Content = body
		t.records[i].Edited = true
		return true
	}
	return false
}

// ApplyRecall marks the record with the given correlation id as recalled and
// empties its content. Recalling twice is a no-op; the return reports
// whether the target exists.
func (t *Timeline) ApplyRecall(cid string) bool {
	for i := range t.records {
		if t.records[i].CorrelationID != cid || t.records[i].Kind != KindChat {
			continue
		}
		t.records[i].Recalled = true
		t.records[i].Content = ""
		return true
	}
	return false
}

// ApplyDelete removes the record with the given correlation id entirely. No
// tombstone is kept. The return reports whether a record was removed.
func (t *Timeline) ApplyDelete(cid string) bool {
	for i := range t.records {
		if t.records[i].CorrelationID != cid || t.records[i].Kind != KindChat {
			continue
		}
		t.records = append(t.records[:i], t.records[i+1:]...)
		return true
	}
	return false
}

// AppendSystem appends a join/leave/system display record. Empty text is
// synthesized from the sender, with a self-referential variant when the
// event is about the local user: the sender matches the local username
// case-insensitively, or the server-supplied text mentions it.
func (t *Timeline) AppendSystem(kind Kind, sender, text, localUser string) Record {
	aboutSelf := localUser != "" &&
		(strings.EqualFold(sender, localUser) ||
			strings.Contains(strings.ToLower(text), strings.ToLower(localUser)))

	display := text
	if display == "" {
		switch {
		case kind == KindJoin && aboutSelf:
			display = "You joined"
		case kind == KindJoin:
			display = fmt.Sprintf("%s joined", sender)
		case kind == KindLeave && aboutSelf:
			display = "You left"
		case kind == KindLeave:
			display = fmt.Sprintf("%s left", sender)
		}
	}

	rec := Record{
		Sender:     sender,
		RoomID:     t.roomID,
		Kind:       kind,
		Content:    display,
		RawContent: text,
		Moderation: Moderation{Revealed: true},
	}
	t.records = append(t.records, rec)
	return rec
}

// ToggleReveal flips the reveal override for a flagged record. Records that
// are not flagged are left untouched.
func (t *Timeline) ToggleReveal(cid string) bool {
	for i := range t.records {
		if t.records[i].CorrelationID != cid {
			continue
		}
		if !t.records[i].Moderation.Flagged {
			return false
		}
		t.records[i].Moderation.Revealed = !t.records[i].Moderation.Revealed
		return true
	}
	return false
}

// Find returns the record with the given correlation id.
func (t *Timeline) Find(cid string) (Record, bool) {
	for _, rec := range t.records {
		if rec.CorrelationID == cid && rec.Kind == KindChat {
			return rec, true
		}
	}
	return Record{}, false
}

// Records returns a snapshot of the log in display order.
func (t *Timeline) Records() []Record {
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// Len reports the number of records in the log.
func (t *Timeline) Len() int {
	return len(t.records)
}

// PendingCorrelationID reports the correlation id of the send awaiting its
// echo, or empty when nothing is pending.
func (t *Timeline) PendingCorrelationID() string {
	if t.pending == nil {
		return ""
	}
	return t.pending.correlationID
}
