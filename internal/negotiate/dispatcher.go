package negotiate

import (
	"context"
	"sync"
	"time"

	"github.com/Soika-Labs/gann-sdk-go/internal/signaling"
	"github.com/Soika-Labs/gann-sdk-go/internal/wire"
)

// WaitForOffer blocks until the first inbound quic_offer arrives on the
// channel, returning it together with a relay event previously observed for
// the same session id.
//
// The directory may broadcast relay coordinates before the offer reaches the
// application; caching them here closes the race where a subscriber attached
// after the offer would miss them. All subscriptions are released on every
// return path.
func WaitForOffer(ctx context.Context, channel *signaling.Channel, offerTimeout time.Duration) (offer, cachedRelay *wire.SignalingEvent, err error) {
	if offerTimeout <= 0 {
		offerTimeout = DefaultOfferTimeout
	}

	type result struct {
		offer *wire.SignalingEvent
		relay *wire.SignalingEvent
		err   error
	}
	resCh := make(chan result, 1)

	var mu sync.Mutex
	relayCache := make(map[string]*wire.SignalingEvent)

	var once sync.Once
	var offs []func()
	var timer *time.Timer
	resolve := func(res result) {
		once.Do(func() {
			timer.Stop()
			for _, off := range offs {
				off()
			}
			resCh <- res
		})
	}

	timer = time.AfterFunc(offerTimeout, func() {
		resolve(result{err: timeoutError("quic_offer")})
	})

	offs = append(offs,
		channel.OnSignaling(func(evt *wire.SignalingEvent) {
			switch evt.Payload.Kind {
			case wire.KindQuicRelay:
				if id := relaySessionID(evt); id != "" {
					mu.Lock()
					relayCache[id] = evt
					mu.Unlock()
				}
			case wire.KindQuicOffer:
				mu.Lock()
				relay := relayCache[evt.SessionID]
				mu.Unlock()
				resolve(result{offer: evt, relay: relay})
			}
		}),
		channel.OnClose(func(evt signaling.CloseEvent) {
			resolve(result{err: &signaling.TerminatedError{Code: evt.Code, Reason: evt.Reason}})
		}),
		channel.OnError(func(err error) {
			resolve(result{err: err})
		}),
	)

	select {
	case res := <-resCh:
		return res.offer, res.relay, res.err
	case <-ctx.Done():
		resolve(result{err: ctx.Err()})
		res := <-resCh
		return res.offer, res.relay, res.err
	}
}

// Accept waits for an inbound offer and responds to it, returning the
// negotiated session handle.
func Accept(ctx context.Context, channel *signaling.Channel, tr Transport, opts Options) (*SessionHandle, error) {
	opts = opts.withDefaults()
	offer, cachedRelay, err := WaitForOffer(ctx, channel, opts.OfferTimeout)
	if err != nil {
		return nil, err
	}
	return Respond(ctx, channel, tr, offer, cachedRelay, opts)
}
