package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrValidation is returned for arguments rejected at an API boundary
// (empty agent ids, empty session ids, nil blobs).
var ErrValidation = errors.New("validation error")

// Command is a client-to-server signal command.
//
// SessionID is omitted for quic_offer (the directory assigns one) and
// required for every other kind.
type Command struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	To        string         `json:"to"`
	Payload   CommandPayload `json:"payload"`
}

// CommandPayload is the kind-tagged body of a Command.
type CommandPayload struct {
	Kind      PayloadKind     `json:"kind"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

const commandTypeSignal = "signal"

// NewOfferCommand builds the opening quic_offer command. No session id: the
// directory mints one and echoes it on the relay event.
func NewOfferCommand(to string, offer *QuicOffer) (Command, error) {
	to = TrimID(to)
	if to == "" {
		return Command{}, fmt.Errorf("%w: empty target agent id", ErrValidation)
	}
	if offer == nil {
		return Command{}, fmt.Errorf("%w: nil offer", ErrValidation)
	}
	blob, err := json.Marshal(offer)
	if err != nil {
		return Command{}, fmt.Errorf("marshal offer: %w", err)
	}
	return Command{
		Type:    commandTypeSignal,
		To:      to,
		Payload: CommandPayload{Kind: KindQuicOffer, Offer: blob},
	}, nil
}

// NewAnswerCommand builds a quic_answer command for an assigned session.
func NewAnswerCommand(sessionID, to string, answer *QuicAnswer) (Command, error) {
	sessionID, to, err := requireSessionTarget(sessionID, to)
	if err != nil {
		return Command{}, err
	}
	if answer == nil {
		return Command{}, fmt.Errorf("%w: nil answer", ErrValidation)
	}
	blob, err := json.Marshal(answer)
	if err != nil {
		return Command{}, fmt.Errorf("marshal answer: %w", err)
	}
	return Command{
		Type:      commandTypeSignal,
		SessionID: sessionID,
		To:        to,
		Payload:   CommandPayload{Kind: KindQuicAnswer, Answer: blob},
	}, nil
}

// NewCandidateCommand builds a quic_candidate command. The candidate blob is
// passed through opaque.
func NewCandidateCommand(sessionID, to string, candidate json.RawMessage) (Command, error) {
	sessionID, to, err := requireSessionTarget(sessionID, to)
	if err != nil {
		return Command{}, err
	}
	if len(candidate) == 0 {
		return Command{}, fmt.Errorf("%w: empty candidate", ErrValidation)
	}
	return Command{
		Type:      commandTypeSignal,
		SessionID: sessionID,
		To:        to,
		Payload:   CommandPayload{Kind: KindQuicCandidate, Candidate: candidate},
	}, nil
}

// NewDisconnectCommand builds a disconnect command for an assigned session.
func NewDisconnectCommand(sessionID, to, reason string) (Command, error) {
	sessionID, to, err := requireSessionTarget(sessionID, to)
	if err != nil {
		return Command{}, err
	}
	return Command{
		Type:      commandTypeSignal,
		SessionID: sessionID,
		To:        to,
		Payload:   CommandPayload{Kind: KindDisconnect, Reason: reason},
	}, nil
}

func requireSessionTarget(sessionID, to string) (string, string, error) {
	sessionID = TrimID(sessionID)
	if sessionID == "" {
		return "", "", fmt.Errorf("%w: empty session id", ErrValidation)
	}
	to = TrimID(to)
	if to == "" {
		return "", "", fmt.Errorf("%w: empty target agent id", ErrValidation)
	}
	return sessionID, to, nil
}

// Encode serialises the command to its wire frame.
func (c Command) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}
	return string(data), nil
}

// ParseCommand parses an outbound command frame back into a Command. Used by
// tests.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("parse command: %w", err)
	}
	if cmd.Type != commandTypeSignal {
		return Command{}, fmt.Errorf("unexpected command type %q", cmd.Type)
	}
	return cmd, nil
}
