package negotiate

import (
	"context"
	"fmt"

	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
	"github.com/Soika-Labs/gann-sdk-go/internal/wire"
	"github.com/Soika-Labs/gann-sdk-go/pkg/logger"
)

// Respond runs the responder side of the direct-first protocol for one
// inbound offer event.
//
// cachedRelay optionally carries a relay event for the same session observed
// before the offer reached the application (see WaitForOffer); passing it
// avoids re-subscribing after the broadcast already happened.
//
// Exactly one answer is sent per negotiation, after the chosen transport is
// set up on this side.
func Respond(ctx context.Context, channel *signaling.Channel, tr Transport, offerEvt, cachedRelay *wire.SignalingEvent, opts Options) (*SessionHandle, error) {
	opts = opts.withDefaults()
	if offerEvt == nil || offerEvt.Payload.Kind != wire.KindQuicOffer || offerEvt.Payload.Offer == nil {
		return nil, fmt.Errorf("%w: event does not carry a quic_offer", wire.ErrValidation)
	}
	sessionID := wire.TrimID(offerEvt.SessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: offer event has no session id", wire.ErrValidation)
	}
	peerAgentID := wire.TrimID(offerEvt.From)
	if peerAgentID == "" {
		return nil, fmt.Errorf("%w: offer event has no sender", wire.ErrValidation)
	}

	// Subscribe for the relay event up front unless one was already cached,
	// so a broadcast during the direct attempt is not missed.
	var relayWait *signalWaiter
	if cachedRelay == nil {
		relayWait = newSignalWaiter(channel, opts.responderRelayWait(), "signaling event", func(evt *wire.SignalingEvent) bool {
			return evt.Payload.Kind == wire.KindQuicRelay && relaySessionID(evt) == sessionID
		})
		defer relayWait.cancel()
	}

	pc, err := tr.NewPeerClient(opts.DirectBindAddr)
	if err != nil {
		return nil, fmt.Errorf("start peer client: %w", err)
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, opts.DirectTimeout)
	conn, err := pc.Connect(connectCtx, offerEvt.Payload.Offer)
	cancelConnect()
	if err == nil {
		if sendErr := channel.SendQuicAnswer(sessionID, peerAgentID, &wire.QuicAnswer{Accepted: true, Mode: "direct"}); sendErr != nil {
			conn.Close()
			pc.Close()
			return nil, sendErr
		}
		logger.Debugf("negotiate: responder connected directly (session=%s peer=%s)", sessionID, peerAgentID)
		return newDirectHandle(sessionID, peerAgentID, conn, pc.Close), nil
	}
	if connectCtx.Err() != nil && ctx.Err() == nil {
		err = timeoutError("direct QUIC connect")
	}
	logger.Debugf("negotiate: direct connect failed, falling back to relay: %v", err)
	pc.Close()

	relayEvt := cachedRelay
	if relayEvt == nil {
		evt, waitErr := relayWait.wait(ctx)
		if waitErr != nil {
			return nil, fmt.Errorf("awaiting relay info: %w", waitErr)
		}
		relayEvt = evt
	}
	if relayEvt.Payload.Relay == nil {
		return nil, fmt.Errorf("%w: relay event carries no coordinates", wire.ErrValidation)
	}

	handle, err := connectRelay(ctx, tr, relayEvt.Payload.Relay, sessionID, peerAgentID, opts)
	if err != nil {
		return nil, err
	}
	if sendErr := channel.SendQuicAnswer(sessionID, peerAgentID, &wire.QuicAnswer{Accepted: true, Mode: "relay"}); sendErr != nil {
		handle.Close()
		return nil, sendErr
	}
	return handle, nil
}
