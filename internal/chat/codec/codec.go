// Package codec encodes and decodes the mutation protocol carried inside a
// frame's content field. The transport offers a single free-text payload, so
// chat, edit, recall, and delete operations are tagged with a bracket prefix:
//
//	[cid:{id}]{text}      new message
//	[edited:{id}]{text}   in-place edit
//	[recalled:{id}]       recall, no body
//	[deleted:{id}]        delete, no body
//
// Known limitation: user text that begins with a literal tag (for example a
// message starting with "[cid:") is indistinguishable from protocol metadata
// and is mis-parsed. A structured payload would remove the ambiguity; the
// wire format does not allow one.
package codec

import (
	"fmt"
	"regexp"
)

// Op identifies which tagged operation a payload carries.
type Op int

const (
	// OpNone marks a legacy or unrecognized payload rendered as-is.
	OpNone Op = iota
	OpChat
	OpEdit
	OpRecall
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpChat:
		return "chat"
	case OpEdit:
		return "edit"
	case OpRecall:
		return "recall"
	case OpDelete:
		return "delete"
	default:
		return "none"
	}
}

// Decoded is the result of decoding a content payload. ID is empty for
// OpNone; Body is empty for OpRecall and OpDelete.
type Decoded struct {
	Op   Op
	ID   string
	Body string
}

// Recall and delete tags are whole-payload matches; edit and chat tags are
// prefixes whose remainder is the body and must not be re-parsed. Bodies are
// free text and may span lines, hence (?s).
var (
	recallRe = regexp.MustCompile(`^\[recalled:([^\]]+)\]$`)
	deleteRe = regexp.MustCompile(`^\[deleted:([^\]]+)\]$`)
	editRe   = regexp.MustCompile(`(?s)^\[edited:([^\]]+)\](.*)$`)
	chatRe   = regexp.MustCompile(`(?s)^\[cid:([^\]]+)\](.*)$`)
)

// EncodeChat tags a new message with its correlation id.
func EncodeChat(id, text string) string {
	return fmt.Sprintf("[cid:%s]%s", id, text)
}

// EncodeEdit tags replacement text for an existing message.
func EncodeEdit(id, text string) string {
	return fmt.Sprintf("[edited:%s]%s", id, text)
}

// EncodeRecall tags a recall of an existing message.
func EncodeRecall(id string) string {
	return fmt.Sprintf("[recalled:%s]", id)
}

// EncodeDelete tags a removal of an existing message.
func EncodeDelete(id string) string {
	return fmt.Sprintf("[deleted:%s]", id)
}

// Decode classifies a content payload. Precedence is recall, delete, edit,
// chat; the first matching tag wins and the remainder is never re-parsed.
// Payloads matching no tag decode as OpNone with the raw text as body.
func Decode(raw string) Decoded {
	if m := recallRe.FindStringSubmatch(raw); m != nil {
		return Decoded{Op: OpRecall, ID: m[1]}
	}
	if m := deleteRe.FindStringSubmatch(raw); m != nil {
		return Decoded{Op: OpDelete, ID: m[1]}
	}
	if m := editRe.FindStringSubmatch(raw); m != nil {
		return Decoded{Op: OpEdit, ID: m[1], Body: m[2]}
	}
	if m := chatRe.FindStringSubmatch(raw); m != nil {
		return Decoded{Op: OpChat, ID: m[1], Body: m[2]}
	}
	return Decoded{Op: OpNone, Body: raw}
}
