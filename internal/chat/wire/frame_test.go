package wire

import (
	"encoding/json"
	"testing"
)

// TestParseFrameTypeIsCaseInsensitive ensures wire type strings parse
// regardless of casing and that unknown values degrade to TypeUnknown.
func TestParseFrameTypeIsCaseInsensitive(t *testing.T) {
	cases := map[string]FrameType{
		"CHAT":    TypeChat,
		"chat":    TypeChat,
		" Join ":  TypeJoin,
		"leave":   TypeLeave,
		"EDIT":    TypeEdit,
		"recall":  TypeRecall,
		"DELETE":  TypeDelete,
		"system":  TypeSystem,
		"":        TypeUnknown,
		"PRESENT": TypeUnknown,
	}
	for raw, want := range cases {
		if got := ParseFrameType(raw); got != want {
			t.Fatalf("ParseFrameType(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestFrameTypeStringRoundTrip(t *testing.T) {
	for _, ft := range []FrameType{TypeChat, TypeJoin, TypeLeave, TypeEdit, TypeRecall, TypeDelete, TypeSystem} {
		if got := ParseFrameType(ft.String()); got != ft {
			t.Fatalf("ParseFrameType(%q) = %v, want %v", ft.String(), got, ft)
		}
	}
}

// TestFrameJSONFieldNames pins the wire field spelling the broker and the
// original backend agree on.
func TestFrameJSONFieldNames(t *testing.T) {
	polite := false
	raw, err := json.Marshal(Frame{
		Sender:  "alice",
		Content: "hi",
		Type:    "CHAT",
		RoomID:  "1",
		Polite:  &polite,
	})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	want := `{"sender":"alice","content":"hi","type":"CHAT","roomId":"1","polite":false}`
	if string(raw) != want {
		t.Fatalf("frame json = %s, want %s", raw, want)
	}
}

func TestFrameOmitsAbsentPolite(t *testing.T) {
	raw, err := json.Marshal(Frame{Sender: "a", Content: "b", Type: "CHAT", RoomID: "1"})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if string(raw) != `{"sender":"a","content":"b","type":"CHAT","roomId":"1"}` {
		t.Fatalf("frame json = %s, expected no polite field", raw)
	}
}

func TestRoomMembersTopic(t *testing.T) {
	if got := RoomMembersTopic("42"); got != "/topic/42/members" {
		t.Fatalf("RoomMembersTopic = %q, want %q", got, "/topic/42/members")
	}
}
