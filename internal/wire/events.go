package wire

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType identifies the event family of an inbound frame.
type EventType string

const (
	EventSignaling EventType = "signaling"
	EventSession   EventType = "session"
	EventControl   EventType = "control"
	EventHeartbeat EventType = "heartbeat"
)

// PayloadKind discriminates signaling payload variants.
type PayloadKind string

const (
	KindQuicOffer     PayloadKind = "quic_offer"
	KindQuicAnswer    PayloadKind = "quic_answer"
	KindQuicCandidate PayloadKind = "quic_candidate"
	KindQuicRelay     PayloadKind = "quic_relay"
	KindDisconnect    PayloadKind = "disconnect"
	KindReject        PayloadKind = "reject"
)

// SessionState is the lifecycle state reported by the directory.
type SessionState string

const (
	SessionPending    SessionState = "pending"
	SessionActive     SessionState = "active"
	SessionTerminated SessionState = "terminated"
)

// ControlAction is a directory-issued control instruction.
type ControlAction string

const (
	ControlReject     ControlAction = "reject"
	ControlDisconnect ControlAction = "disconnect"
	ControlTimeout    ControlAction = "timeout"
	ControlKillSwitch ControlAction = "kill_switch"
)

// QuicOffer is the initiator-advertised QUIC parameter blob.
//
// The signaling layer treats it as opaque; the transport interprets it.
type QuicOffer struct {
	Candidates        []string `json:"candidates"`
	CertDerB64        string   `json:"cert_der_b64"`
	FingerprintSHA256 string   `json:"fingerprint_sha256"`
	ALPN              string   `json:"alpn"`
	ServerName        string   `json:"server_name"`
	E2EEPubKeyB64     string   `json:"e2ee_pubkey_b64,omitempty"`
}

// QuicAnswer is the responder's accept/reject reply.
type QuicAnswer struct {
	Accepted bool   `json:"accepted"`
	Mode     string `json:"mode,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// QuicRelayInfo carries the server-provided relay coordinates.
type QuicRelayInfo struct {
	SessionID               string `json:"session_id"`
	QuicAddr                string `json:"quic_addr"`
	ServerFingerprintSHA256 string `json:"server_fingerprint_sha256"`
	ALPN                    string `json:"alpn,omitempty"`
	ServerName              string `json:"server_name,omitempty"`
}

// SignalingPayload is the decoded tagged union of a signaling event payload.
//
// Exactly one variant field is populated for its Kind. Raw preserves the
// nested payload object as received so unrecognised fields survive
// pass-through.
type SignalingPayload struct {
	Kind      PayloadKind
	Offer     *QuicOffer
	Answer    *QuicAnswer
	Candidate json.RawMessage
	Relay     *QuicRelayInfo
	Reason    string
	Raw       json.RawMessage
}

// SignalingEvent is a server-to-client signaling frame.
type SignalingEvent struct {
	SessionID string
	From      string
	To        string
	ExpiresAt time.Time
	Payload   SignalingPayload
}

// SessionLifecycleEvent reports a session state transition.
type SessionLifecycleEvent struct {
	SessionID   string
	TargetAgent string
	PeerAgent   string
	State       SessionState
	ExpiresAt   time.Time
	Reason      string
}

// ControlDirective is a directory instruction targeting an agent.
type ControlDirective struct {
	TargetAgent string
	Action      ControlAction
	Reason      string
	SessionID   string
}

// HeartbeatBroadcast is a liveness report about a registered agent.
type HeartbeatBroadcast struct {
	AgentID   string
	Timestamp time.Time
	Load      float64
	Status    string
}

// Event is a parsed inbound frame. Exactly one of the typed fields is set,
// matching Type.
type Event struct {
	Type      EventType
	Signaling *SignalingEvent
	Session   *SessionLifecycleEvent
	Control   *ControlDirective
	Heartbeat *HeartbeatBroadcast
}

// TrimID normalises an agent or session id.
func TrimID(id string) string {
	return strings.TrimSpace(id)
}
