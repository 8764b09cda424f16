package negotiate

import (
	"context"
	"fmt"
	"time"

	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
	"github.com/Soika-Labs/gann-sdk-go/internal/wire"
	"github.com/Soika-Labs/gann-sdk-go/pkg/logger"
)

type acceptResult struct {
	conn Conn
	err  error
}

// Dial runs the initiator side of the direct-first protocol against
// peerAgentID over an already-ready signaling channel.
//
// A local peer server is started and its offer signalled to the peer. Two
// waits then run concurrently, neither cancelling the other: the direct QUIC
// accept (bounded by DirectTimeout) and the relay event from the peer
// (bounded by max(2s, DirectTimeout)). Direct wins ties; the relay event is
// still consulted for the directory-assigned session id.
func Dial(ctx context.Context, channel *signaling.Channel, tr Transport, peerAgentID string, opts Options) (*SessionHandle, error) {
	opts = opts.withDefaults()
	peerAgentID = wire.TrimID(peerAgentID)
	if peerAgentID == "" {
		return nil, fmt.Errorf("%w: empty peer agent id", wire.ErrValidation)
	}

	srv, err := tr.NewPeerServer(opts.DirectBindAddr)
	if err != nil {
		return nil, fmt.Errorf("start peer server: %w", err)
	}
	offer := srv.Offer(opts.AdvertisedCandidates)
	if opts.E2EEPublicKeyB64 != "" {
		offer.E2EEPubKeyB64 = opts.E2EEPublicKeyB64
	}

	// Subscribe for the relay event before the offer leaves, so the
	// directory's immediate relay broadcast cannot be missed.
	relayWait := newSignalWaiter(channel, opts.initiatorRelayWait(), "signaling event", func(evt *wire.SignalingEvent) bool {
		return evt.From == peerAgentID && evt.Payload.Kind == wire.KindQuicRelay && evt.Payload.Relay != nil
	})
	defer relayWait.cancel()

	if err := channel.SendQuicOffer(peerAgentID, offer); err != nil {
		srv.Close()
		return nil, err
	}

	acceptCtx, cancelAccept := context.WithTimeout(ctx, opts.DirectTimeout)
	defer cancelAccept()
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := srv.Accept(acceptCtx)
		if err != nil && acceptCtx.Err() != nil && ctx.Err() == nil {
			err = timeoutError("direct QUIC accept")
		}
		acceptCh <- acceptResult{conn: conn, err: err}
	}()

	var relayRes *sigResult
	// takeRelay waits for the relay event, memoising a settled result. A
	// positive grace bounds this particular wait without disturbing the
	// waiter's own deadline.
	takeRelay := func(grace time.Duration, label string) sigResult {
		if relayRes != nil {
			return *relayRes
		}
		if grace > 0 {
			timer := time.NewTimer(grace)
			defer timer.Stop()
			select {
			case res := <-relayWait.ch:
				relayRes = &res
				return res
			case <-timer.C:
				return sigResult{err: timeoutError(label)}
			case <-ctx.Done():
				return sigResult{err: ctx.Err()}
			}
		}
		select {
		case res := <-relayWait.ch:
			relayRes = &res
			return res
		case <-ctx.Done():
			return sigResult{err: ctx.Err()}
		}
	}

	accepted := <-acceptCh
	if accepted.err == nil {
		res := takeRelay(sessionIDGrace, "session id")
		if res.err == nil {
			sessionID := relaySessionID(res.evt)
			logger.Debugf("negotiate: direct accept won (session=%s peer=%s)", sessionID, peerAgentID)
			return newDirectHandle(sessionID, peerAgentID, accepted.conn, srv.Close), nil
		}
		if opts.UseDirectWithoutSessionID {
			logger.Warnf("negotiate: proceeding direct without session id: %v", res.err)
			return newDirectHandle("", peerAgentID, accepted.conn, srv.Close), nil
		}
		// Session id never arrived; the direct connection is unusable under
		// the default policy. Close it and fall through to relay.
		logger.Debugf("negotiate: direct accepted but session id missing, falling back to relay: %v", res.err)
		accepted.conn.Close()
	} else {
		logger.Debugf("negotiate: direct accept failed, falling back to relay: %v", accepted.err)
	}
	srv.Close()

	res := takeRelay(0, "")
	if res.err != nil {
		return nil, fmt.Errorf("awaiting relay info: %w", res.err)
	}
	sessionID := relaySessionID(res.evt)
	if sessionID == "" {
		return nil, fmt.Errorf("relay event carried no session id")
	}
	return connectRelay(ctx, tr, res.evt.Payload.Relay, sessionID, peerAgentID, opts)
}

// connectRelay establishes the relay transport and runs the peer-ready bind
// loop. A peer that has not bound yet is not an error; the handle reports
// PeerReady=false and the caller may wait or send best-effort.
func connectRelay(ctx context.Context, tr Transport, relay *wire.QuicRelayInfo, sessionID, peerAgentID string, opts Options) (*SessionHandle, error) {
	rc, err := tr.NewRelayClient(opts.RelayBindAddr)
	if err != nil {
		return nil, fmt.Errorf("start relay client: %w", err)
	}
	rt, err := rc.ConnectTransport(ctx, relay)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("connect relay transport: %w", err)
	}
	peerReady, err := bindWithRetry(ctx, rt, opts.Token, sessionID, opts.relayBindDeadline())
	if err != nil {
		rt.Close()
		rc.Close()
		return nil, err
	}
	logger.Debugf("negotiate: relay bound (session=%s peerReady=%v)", sessionID, peerReady)
	return newRelayHandle(sessionID, peerAgentID, relay, rt, peerReady, opts.Token, rc.Close), nil
}

// bindWithRetry binds on the relay, polling every 100ms until the peer is
// bound or the deadline elapses. Running out of deadline with the peer still
// unbound returns (false, nil).
func bindWithRetry(ctx context.Context, rt RelayTransport, token, sessionID string, deadline time.Duration) (bool, error) {
	bindCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	for {
		peerReady, err := rt.RelayBind(bindCtx, token, sessionID)
		if err != nil {
			if bindCtx.Err() != nil && ctx.Err() == nil {
				return false, nil
			}
			return false, fmt.Errorf("relay bind: %w", err)
		}
		if peerReady {
			return true, nil
		}
		select {
		case <-time.After(relayBindRetryInterval):
		case <-bindCtx.Done():
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, nil
		}
	}
}
