package negotiate

import (
	"fmt"
	"time"
)

const (
	// DefaultDirectTimeout bounds the direct QUIC accept/connect attempt.
	DefaultDirectTimeout = 5 * time.Second
	// DefaultOfferTimeout bounds the responder's accept-loop wait.
	DefaultOfferTimeout = 30 * time.Second
	// DefaultBindAddr is the local UDP bind for both direct and relay sockets.
	DefaultBindAddr = "0.0.0.0:0"

	// sessionIDGrace is how long a direct-connected initiator waits for the
	// relay event that carries the directory-assigned session id.
	sessionIDGrace = 2 * time.Second
	// relayBindRetryInterval paces relayBind retries while the peer has not
	// bound yet.
	relayBindRetryInterval = 100 * time.Millisecond
	// minRelayWait is the floor of the initiator's relay-info deadline.
	minRelayWait = 2 * time.Second
)

// Options configures one negotiation. The zero value means defaults.
type Options struct {
	// DirectTimeout is the deadline for the direct accept/connect attempt.
	DirectTimeout time.Duration
	// DirectBindAddr is the local UDP bind for direct QUIC.
	DirectBindAddr string
	// RelayBindAddr is the local UDP bind for the relay transport.
	RelayBindAddr string
	// AdvertisedCandidates overrides the initiator's offered candidate list.
	AdvertisedCandidates []string
	// OfferTimeout bounds the accept dispatcher's wait for an inbound offer.
	OfferTimeout time.Duration
	// Token is the bearer token shared by the signaling channel and the
	// relay bind for this session attempt.
	Token string
	// E2EEPublicKeyB64 is advertised in the offer so the peer can derive the
	// relay session key. Empty means no end-to-end encryption.
	E2EEPublicKeyB64 string
	// UseDirectWithoutSessionID keeps a directly-established connection even
	// when the session id never arrives; by default such a connection is
	// closed and the negotiation falls through to relay.
	UseDirectWithoutSessionID bool
}

func (o Options) withDefaults() Options {
	if o.DirectTimeout <= 0 {
		o.DirectTimeout = DefaultDirectTimeout
	}
	if o.DirectBindAddr == "" {
		o.DirectBindAddr = DefaultBindAddr
	}
	if o.RelayBindAddr == "" {
		o.RelayBindAddr = DefaultBindAddr
	}
	if o.OfferTimeout <= 0 {
		o.OfferTimeout = DefaultOfferTimeout
	}
	return o
}

// initiatorRelayWait is the initiator's relay-info deadline.
func (o Options) initiatorRelayWait() time.Duration {
	return maxDuration(minRelayWait, o.DirectTimeout)
}

// responderRelayWait is the responder's relay-event deadline after a failed
// direct connect.
func (o Options) responderRelayWait() time.Duration {
	return maxDuration(10*time.Second, 5*o.DirectTimeout)
}

// relayBindDeadline bounds the peer-bound retry loop.
func (o Options) relayBindDeadline() time.Duration {
	return maxDuration(minRelayWait, o.DirectTimeout)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// TimeoutError reports an elapsed negotiation wait.
type TimeoutError struct {
	Label string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Timed out waiting for %s", e.Label)
}

func timeoutError(label string) *TimeoutError {
	return &TimeoutError{Label: label}
}
