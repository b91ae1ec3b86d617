package probe

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"
)

const sharedGracePeriod = 100 * time.Millisecond

var (
	willPayload     = []byte("payload")
	retainPayload   = []byte("RETAIN")
	wildcardPayload = []byte("WILDCARD_TEST")
	sharedPayload   = []byte("SHARED_TEST")
)

// TestQos subscribes at qos, publishes attempts messages at qos and counts
// the deliveries that arrive with both the same QoS and payload. A publish
// error does not abort the wait; the count accumulated so far is returned.
func (e *Engine) TestQos(ctx context.Context, qos byte, attempts int) QosOutcome {
	log := e.log.With().Str("probe", "qos").Str("qos", QosName(qos)).Logger()
	out := QosOutcome{QoS: qos, Attempts: attempts}

	payload := []byte(QosName(qos))
	topic := e.topic(0)
	latch := newCountdown(attempts)
	var received atomic.Int64

	subscriber, err := e.dial(ctx, "qos-sub")
	if err != nil {
		log.Debug().Err(err).Msg("subscriber connect failed")
		out.Result = failure(ctx, ResultConnectFailed)
		return out
	}
	defer disconnect(subscriber)

	err = e.subscribe(ctx, subscriber, topic, qos, func(msg Message) {
		if msg.QoS == qos && bytes.Equal(msg.Payload, payload) {
			received.Add(1)
			latch.CountDown()
		}
	})
	if err != nil {
		log.Debug().Err(err).Str("topic", topic).Msg("subscribe failed")
		out.Result = failure(ctx, ResultSubscribeFailed)
		return out
	}

	publisher, err := e.dial(ctx, "qos-pub")
	if err != nil {
		log.Debug().Err(err).Msg("publisher connect failed")
		out.Result = failure(ctx, ResultConnectFailed)
		return out
	}
	defer disconnect(publisher)

	start := time.Now()
	publishFailed := false
	for i := 0; i < attempts; i++ {
		if err := e.publish(ctx, publisher, topic, qos, false, payload); err != nil {
			log.Debug().Err(err).Int("attempt", i).Msg("publish failed")
			publishFailed = true
			latch.CountDown()
		}
	}

	out.Result = latch.Wait(ctx, e.params.Timeout)
	out.Elapsed = time.Since(start)
	out.Received = int(received.Load())
	if publishFailed && out.Result == ResultOK {
		out.Result = ResultPublishFailed
	}

	if out.Complete() {
		e.confirmQoS(qos)
	}

	log.Debug().
		Int("received", out.Received).
		Int("attempts", attempts).
		Dur("elapsed", out.Elapsed).
		Str("result", string(out.Result)).
		Msg("qos probe done")
	return out
}

// TestRetain publishes a retained message, then subscribes with a new
// client and waits for it to be delivered with the retain flag set. The
// retained message is cleared afterwards.
func (e *Engine) TestRetain(ctx context.Context) Result {
	log := e.log.With().Str("probe", "retain").Logger()
	qos := e.WorkingQoS()
	topic := e.topic(0)

	publisher, err := e.dial(ctx, "retain-pub")
	if err != nil {
		log.Debug().Err(err).Msg("publisher connect failed")
		return failure(ctx, ResultConnectFailed)
	}
	err = e.publish(ctx, publisher, topic, qos, true, retainPayload)
	disconnect(publisher)
	if err != nil {
		log.Debug().Err(err).Str("topic", topic).Msg("publish failed")
		return failure(ctx, ResultPublishFailed)
	}

	subscriber, err := e.dial(ctx, "retain-sub")
	if err != nil {
		log.Debug().Err(err).Msg("subscriber connect failed")
		return failure(ctx, ResultConnectFailed)
	}
	defer disconnect(subscriber)

	latch := newCountdown(1)
	err = e.subscribe(ctx, subscriber, topic, qos, func(msg Message) {
		if msg.Retain {
			latch.CountDown()
		}
	})
	if err != nil {
		log.Debug().Err(err).Str("topic", topic).Msg("subscribe failed")
		return failure(ctx, ResultSubscribeFailed)
	}

	res := latch.Wait(ctx, e.params.Timeout)

	if err := e.publish(context.Background(), subscriber, topic, qos, true, nil); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to clear retained message")
	}

	log.Debug().Str("result", string(res)).Msg("retain probe done")
	return res
}

// TestConnectWithWill connects with a retained QoS 1 will and returns the
// broker's answer.
func (e *Engine) TestConnectWithWill(ctx context.Context) WillOutcome {
	log := e.log.With().Str("probe", "will").Logger()

	c := e.newClient(e.clientID("will"), &Message{
		Topic:   e.topic(0),
		Payload: willPayload,
		QoS:     AtLeastOnce,
		Retain:  true,
	})
	ack, err := e.connect(ctx, c)
	disconnect(c)

	log.Debug().Err(err).Uint8("return_code", ack.ReturnCode).Msg("will probe done")
	return WillOutcome{ConnAck: ack, Err: err}
}

// TestWildcardSubscriptions checks single level and multi level wildcard
// delivery concurrently, each under its own random root.
func (e *Engine) TestWildcardSubscriptions(ctx context.Context) WildcardOutcome {
	var out WildcardOutcome

	var wg conc.WaitGroup
	wg.Go(func() {
		out.SingleLevel = e.testWildcard(ctx, "+", "test")
	})
	wg.Go(func() {
		out.MultiLevel = e.testWildcard(ctx, "#", "test/subtopic")
	})
	wg.Wait()

	e.log.Debug().
		Str("probe", "wildcard").
		Str("single_level", string(out.SingleLevel)).
		Str("multi_level", string(out.MultiLevel)).
		Msg("wildcard probe done")
	return out
}

func (e *Engine) testWildcard(ctx context.Context, wildcard string, suffix string) Result {
	log := e.log.With().Str("probe", "wildcard").Str("wildcard", wildcard).Logger()
	qos := e.WorkingQoS()
	root := e.topic(len(suffix) + 1)
	filter := root + "/" + wildcard
	topic := root + "/" + suffix

	subscriber, err := e.dial(ctx, "wild-sub")
	if err != nil {
		return failure(ctx, ResultConnectFailed)
	}
	defer disconnect(subscriber)

	publisher, err := e.dial(ctx, "wild-pub")
	if err != nil {
		return failure(ctx, ResultConnectFailed)
	}
	defer disconnect(publisher)

	latch := newCountdown(1)
	err = e.subscribe(ctx, subscriber, filter, qos, func(msg Message) {
		if bytes.Equal(msg.Payload, wildcardPayload) {
			latch.CountDown()
		}
	})
	if err != nil {
		log.Debug().Err(err).Str("filter", filter).Msg("subscribe failed")
		return failure(ctx, ResultSubscribeFailed)
	}

	if err := e.publish(ctx, publisher, topic, qos, false, wildcardPayload); err != nil {
		log.Debug().Err(err).Str("topic", topic).Msg("publish failed")
		return failure(ctx, ResultPublishFailed)
	}

	return latch.Wait(ctx, e.params.Timeout)
}

// TestSharedSubscription joins two subscribers to the same shared
// subscription and publishes once. NOT_SHARED means both subscribers got
// the message; OK means exactly one did and no second delivery followed
// within a short grace period.
func (e *Engine) TestSharedSubscription(ctx context.Context) Result {
	log := e.log.With().Str("probe", "shared").Logger()
	qos := e.WorkingQoS()
	group := uuid.NewString()
	topic := e.topic(len("$share/") + len(group) + 1)
	filter := "$share/" + group + "/" + topic

	var subscriberA, subscriberB, publisher Client
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		subscriberA, err = e.dial(gctx, "shared-a")
		return err
	})
	g.Go(func() (err error) {
		subscriberB, err = e.dial(gctx, "shared-b")
		return err
	})
	g.Go(func() (err error) {
		publisher, err = e.dial(gctx, "shared-pub")
		return err
	})
	defer func() {
		disconnect(subscriberA, subscriberB, publisher)
	}()
	if err := g.Wait(); err != nil {
		log.Debug().Err(err).Msg("connect failed")
		return failure(ctx, ResultConnectFailed)
	}

	var gotA, gotB atomic.Bool
	latch := newCountdown(1)
	handler := func(got *atomic.Bool) MessageHandler {
		return func(msg Message) {
			if bytes.Equal(msg.Payload, sharedPayload) {
				got.Store(true)
				latch.CountDown()
			}
		}
	}

	if err := e.subscribe(ctx, subscriberA, filter, qos, handler(&gotA)); err != nil {
		log.Debug().Err(err).Str("filter", filter).Msg("subscribe failed")
		return failure(ctx, ResultSubscribeFailed)
	}
	if err := e.subscribe(ctx, subscriberB, filter, qos, handler(&gotB)); err != nil {
		log.Debug().Err(err).Str("filter", filter).Msg("subscribe failed")
		return failure(ctx, ResultSubscribeFailed)
	}

	start := time.Now()
	if err := e.publish(ctx, publisher, topic, qos, false, sharedPayload); err != nil {
		log.Debug().Err(err).Str("topic", topic).Msg("publish failed")
		return failure(ctx, ResultPublishFailed)
	}

	if res := latch.Wait(ctx, e.params.Timeout); res != ResultOK {
		return res
	}

	// a second delivery would take about as long as the first one did
	grace := time.NewTimer(sharedGracePeriod + time.Since(start))
	defer grace.Stop()
	select {
	case <-grace.C:
	case <-ctx.Done():
		return ResultInterrupted
	}

	res := ResultOK
	if gotA.Load() && gotB.Load() {
		res = ResultNotShared
	}
	log.Debug().Str("result", string(res)).Msg("shared subscription probe done")
	return res
}
