// Package wire defines the JSON frame exchanged with the broker and the
// pub/sub topics both sides agree on. The frame deliberately carries no
// structured metadata beyond sender, content, type, and room: mutation
// semantics ride inside the content field (see the codec package).
package wire

import "strings"

// Frame is one chat wire message, both directions. Polite is only set on
// inbound frames, by the remote moderation service.
type Frame struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Polite  *bool  `json:"polite,omitempty"`
}

// FrameType enumerates the frame types the protocol understands.
type FrameType int

const (
	TypeUnknown FrameType = iota
	TypeChat
	TypeJoin
	TypeLeave
	TypeEdit
	TypeRecall
	TypeDelete
	TypeSystem
)

func (t FrameType) String() string {
	switch t {
	case TypeChat:
		return "CHAT"
	case TypeJoin:
		return "JOIN"
	case TypeLeave:
		return "LEAVE"
	case TypeEdit:
		return "EDIT"
	case TypeRecall:
		return "RECALL"
	case TypeDelete:
		return "DELETE"
	case TypeSystem:
		return "SYSTEM"
	default:
		return "UNKNOWN"
	}
}

// ParseFrameType maps a wire type string to a FrameType. Matching is
// case-insensitive; unrecognized values parse as TypeUnknown.
func ParseFrameType(raw string) FrameType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CHAT":
		return TypeChat
	case "JOIN":
		return TypeJoin
	case "LEAVE":
		return TypeLeave
	case "EDIT":
		return TypeEdit
	case "RECALL":
		return TypeRecall
	case "DELETE":
		return TypeDelete
	case "SYSTEM":
		return TypeSystem
	default:
		return TypeUnknown
	}
}

// Topics. The command topic accepts all six frame types plus a
// MemberResyncRequest; everything else is delivery-only.
const (
	// TopicMessages carries all room traffic as a broadcast.
	TopicMessages = "/topic/message"
	// TopicSend is the outbound command topic.
	TopicSend = "/app/sendMessage"
	// TopicMembersPrivate is the per-session member list feed.
	TopicMembersPrivate = "/user/queue/members"
)

// RoomMembersTopic returns the per-room member list broadcast topic.
func RoomMembersTopic(roomID string) string {
	return "/topic/" + roomID + "/members"
}

// MemberResyncRequest asks the broker to re-push the authoritative member
// list for a room. It is published to TopicSend and distinguished from a
// Frame by its missing type field.
type MemberResyncRequest struct {
	RoomID string `json:"roomId"`
}
