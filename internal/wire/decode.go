package wire

import (
	"encoding/json"
	"strings"
	"time"
)

// ParseFrame parses one inbound text frame into a typed event.
//
// It returns (nil, false) for anything that is not a JSON object with a
// recognised "event" and a non-null object "payload". Malformed frames are
// dropped without error; the signaling server is allowed to evolve its
// broadcast set ahead of deployed clients.
func ParseFrame(data []byte) (*Event, bool) {
	var frame struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, false
	}
	if len(frame.Payload) == 0 || string(frame.Payload) == "null" {
		return nil, false
	}
	obj, ok := asObject(frame.Payload)
	if !ok {
		return nil, false
	}

	switch EventType(frame.Event) {
	case EventSignaling:
		return &Event{Type: EventSignaling, Signaling: decodeSignaling(obj)}, true
	case EventSession:
		return &Event{Type: EventSession, Session: decodeSession(obj)}, true
	case EventControl:
		return &Event{Type: EventControl, Control: decodeControl(obj)}, true
	case EventHeartbeat:
		return &Event{Type: EventHeartbeat, Heartbeat: decodeHeartbeat(obj)}, true
	default:
		return nil, false
	}
}

func decodeSignaling(obj map[string]json.RawMessage) *SignalingEvent {
	return &SignalingEvent{
		SessionID: TrimID(str(obj, "session_id", "sessionId")),
		From:      TrimID(str(obj, "from")),
		To:        TrimID(str(obj, "to")),
		ExpiresAt: timestamp(obj, "expires_at", "expiresAt"),
		Payload:   DecodeSignalingPayload(obj["payload"]),
	}
}

func decodeSession(obj map[string]json.RawMessage) *SessionLifecycleEvent {
	return &SessionLifecycleEvent{
		SessionID:   TrimID(str(obj, "session_id", "sessionId")),
		TargetAgent: TrimID(str(obj, "target_agent", "targetAgent")),
		PeerAgent:   TrimID(str(obj, "peer_agent", "peerAgent")),
		State:       SessionState(strings.ToLower(str(obj, "state"))),
		ExpiresAt:   timestamp(obj, "expires_at", "expiresAt"),
		Reason:      str(obj, "reason"),
	}
}

func decodeControl(obj map[string]json.RawMessage) *ControlDirective {
	return &ControlDirective{
		TargetAgent: TrimID(str(obj, "target_agent", "targetAgent")),
		Action:      ControlAction(strings.ToLower(str(obj, "action"))),
		Reason:      str(obj, "reason"),
		SessionID:   TrimID(str(obj, "session_id", "sessionId")),
	}
}

func decodeHeartbeat(obj map[string]json.RawMessage) *HeartbeatBroadcast {
	return &HeartbeatBroadcast{
		AgentID:   TrimID(str(obj, "agent_id", "agentId")),
		Timestamp: timestamp(obj, "timestamp"),
		Load:      num(obj, "load"),
		Status:    str(obj, "status"),
	}
}

// DecodeSignalingPayload decodes the nested payload object keyed by its
// "kind" (or legacy "type") discriminant, case-insensitive.
//
// For each QUIC kind the variant blob is looked up under the kind-named key,
// then under "payload", then the whole object is used, in that priority.
// Unknown kinds decode as a reject so callers observe a terminal payload
// rather than losing the event.
func DecodeSignalingPayload(raw json.RawMessage) SignalingPayload {
	obj, ok := asObject(raw)
	if !ok {
		return SignalingPayload{Kind: KindReject, Reason: "unknown", Raw: raw}
	}

	kind := strings.ToLower(strings.TrimSpace(str(obj, "kind", "type")))
	switch PayloadKind(kind) {
	case KindQuicOffer:
		nested := nestedPayload(obj, raw, "offer")
		offer := &QuicOffer{}
		_ = json.Unmarshal(nested, offer)
		return SignalingPayload{Kind: KindQuicOffer, Offer: offer, Raw: nested}
	case KindQuicAnswer:
		nested := nestedPayload(obj, raw, "answer")
		answer := &QuicAnswer{}
		_ = json.Unmarshal(nested, answer)
		return SignalingPayload{Kind: KindQuicAnswer, Answer: answer, Raw: nested}
	case KindQuicCandidate:
		nested := nestedPayload(obj, raw, "candidate")
		return SignalingPayload{Kind: KindQuicCandidate, Candidate: nested, Raw: nested}
	case KindQuicRelay:
		nested := nestedPayload(obj, raw, "relay")
		relay := &QuicRelayInfo{}
		_ = json.Unmarshal(nested, relay)
		relay.SessionID = TrimID(relay.SessionID)
		return SignalingPayload{Kind: KindQuicRelay, Relay: relay, Raw: nested}
	case KindDisconnect:
		return SignalingPayload{Kind: KindDisconnect, Reason: str(obj, "reason"), Raw: raw}
	case KindReject:
		reason := str(obj, "reason")
		if reason == "" {
			reason = "unknown"
		}
		return SignalingPayload{Kind: KindReject, Reason: reason, Raw: raw}
	default:
		reason := str(obj, "reason")
		if reason == "" {
			reason = "unknown"
		}
		return SignalingPayload{Kind: KindReject, Reason: reason, Raw: raw}
	}
}

// nestedPayload resolves the variant blob for a QUIC payload kind.
func nestedPayload(obj map[string]json.RawMessage, whole json.RawMessage, key string) json.RawMessage {
	if v, ok := obj[key]; ok && len(v) > 0 && string(v) != "null" {
		return v
	}
	if v, ok := obj["payload"]; ok && len(v) > 0 && string(v) != "null" {
		return v
	}
	return whole
}

func asObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// str extracts the first present string field among the given keys.
func str(obj map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return ""
}

// num extracts the first present numeric field among the given keys.
func num(obj map[string]json.RawMessage, keys ...string) float64 {
	for _, key := range keys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil {
			return f
		}
	}
	return 0
}

// timestamp extracts a timestamp that may arrive as an RFC3339 string or a
// numeric epoch (seconds or milliseconds). Invalid or missing values default
// to the current time.
func timestamp(obj map[string]json.RawMessage, keys ...string) time.Time {
	for _, key := range keys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if t, ok := ParseTimestamp(raw); ok {
			return t
		}
	}
	return time.Now()
}

// ParseTimestamp parses a raw JSON timestamp value.
func ParseTimestamp(raw json.RawMessage) (time.Time, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, true
		}
		return time.Time{}, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil && f > 0 {
		// Epochs past ~2001-09 in milliseconds exceed 1e12.
		if f > 1e12 {
			return time.UnixMilli(int64(f)), true
		}
		return time.Unix(int64(f), 0), true
	}
	return time.Time{}, false
}
