// Package protocol defines the framed messages exchanged between patchpal
// clients and the patchpald server. Each WebSocket binary frame carries one
// message: a single type tag byte followed by a JSON body. Heartbeats have
// no body.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MsgType tags a wire frame with its message kind
type MsgType byte

const (
	MsgSubmitRequest MsgType = iota + 1
	MsgSubmitResponse
	MsgSubmitError
	MsgDecisionNotification
	MsgHeartbeat
)

func (t MsgType) String() string {
	switch t {
	case MsgSubmitRequest:
		return "submit_request"
	case MsgSubmitResponse:
		return "submit_response"
	case MsgSubmitError:
		return "submit_error"
	case MsgDecisionNotification:
		return "decision_notification"
	case MsgHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Outcome is the terminal review decision for a hunk
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// ErrorKind classifies a SubmitError
type ErrorKind string

const (
	ErrKindDuplicateSubmission ErrorKind = "duplicate_submission"
	ErrKindProtocolError       ErrorKind = "protocol_error"
)

// HunkContent is the client-supplied content of one reviewable hunk
type HunkContent struct {
	Path    string `json:"path"`
	Header  string `json:"header"`
	Content string `json:"content"`
}

// Message is implemented by every wire message
type Message interface {
	Type() MsgType
}

// SubmitRequest submits one patch (a diff split into hunks) for review
type SubmitRequest struct {
	RepoRef  string        `json:"repo_ref"`
	Metadata string        `json:"metadata,omitempty"`
	Hunks    []HunkContent `json:"hunks"`
}

func (SubmitRequest) Type() MsgType { return MsgSubmitRequest }

// Validate checks a SubmitRequest before it reaches the registry
func (r *SubmitRequest) Validate() error {
	if strings.TrimSpace(r.RepoRef) == "" {
		return &ProtocolError{Detail: "repo_ref is required"}
	}
	if len(r.Hunks) == 0 {
		return &ProtocolError{Detail: "submission has no hunks"}
	}
	for i, h := range r.Hunks {
		if h.Path == "" {
			return &ProtocolError{Detail: fmt.Sprintf("hunk %d has no path", i)}
		}
		if h.Content == "" {
			return &ProtocolError{Detail: fmt.Sprintf("hunk %d has no content", i)}
		}
	}
	return nil
}

// SubmitResponse acknowledges a committed submission. HunkIDs are in
// submission order so the client can match decisions to its hunks.
type SubmitResponse struct {
	PatchID uint64   `json:"patch_id"`
	HunkIDs []uint64 `json:"hunk_ids"`
}

func (SubmitResponse) Type() MsgType { return MsgSubmitResponse }

// SubmitError reports a failed submission. The connection stays open for
// duplicate submissions; protocol errors terminate it.
type SubmitError struct {
	Kind            ErrorKind `json:"kind"`
	Detail          string    `json:"detail,omitempty"`
	ExistingPatchID uint64    `json:"existing_patch_id,omitempty"`
}

func (SubmitError) Type() MsgType { return MsgSubmitError }

// DecisionNotification is sent unsolicited, server to client, once per
// decided hunk, in the order the decisions were recorded.
type DecisionNotification struct {
	HunkID  uint64  `json:"hunk_id"`
	Outcome Outcome `json:"outcome"`
}

func (DecisionNotification) Type() MsgType { return MsgDecisionNotification }

// Heartbeat is the bidirectional keepalive
type Heartbeat struct{}

func (Heartbeat) Type() MsgType { return MsgHeartbeat }

// ProtocolError indicates a malformed or unexpected frame. The session
// layer terminates the connection on sight of one.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Detail
}

// Encode serializes a message into a wire frame
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("encode nil message")
	}
	if msg.Type() == MsgHeartbeat {
		return []byte{byte(MsgHeartbeat)}, nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}

	frame := make([]byte, 0, 1+len(body))
	frame = append(frame, byte(msg.Type()))
	frame = append(frame, body...)
	return frame, nil
}

// Decode parses a wire frame into a message. Any malformed frame yields a
// *ProtocolError.
func Decode(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return nil, &ProtocolError{Detail: "empty frame"}
	}

	tag := MsgType(frame[0])
	body := frame[1:]

	if tag == MsgHeartbeat {
		return Heartbeat{}, nil
	}
	if len(body) == 0 {
		return nil, &ProtocolError{Detail: fmt.Sprintf("%s frame has no body", tag)}
	}

	var msg Message
	switch tag {
	case MsgSubmitRequest:
		msg = &SubmitRequest{}
	case MsgSubmitResponse:
		msg = &SubmitResponse{}
	case MsgSubmitError:
		msg = &SubmitError{}
	case MsgDecisionNotification:
		msg = &DecisionNotification{}
	default:
		return nil, &ProtocolError{Detail: fmt.Sprintf("unknown message tag 0x%02x", frame[0])}
	}

	if err := json.Unmarshal(body, msg); err != nil {
		return nil, &ProtocolError{Detail: fmt.Sprintf("malformed %s body: %v", tag, err)}
	}
	return msg, nil
}

// ParseOutcome validates an outcome string from the wire
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case OutcomeAccepted, OutcomeRejected:
		return Outcome(s), nil
	default:
		return "", &ProtocolError{Detail: fmt.Sprintf("unknown outcome %q", s)}
	}
}
