package probe

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// AsciiSpecialChars are the printable non alphanumeric ASCII characters
// tried in client identifiers.
const AsciiSpecialChars = " !\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// TestPayloadSize finds the largest payload, up to maxSize bytes, that
// survives a publish and delivery. Every round trip uses a fresh topic.
func (e *Engine) TestPayloadSize(ctx context.Context, maxSize int) LengthOutcome {
	log := e.log.With().Str("probe", "payload_size").Logger()
	var out LengthOutcome

	out.Max = searchMax(0, maxSize, func(size int) bool {
		res := e.roundTrip(ctx, e.topic(0), bytes.Repeat([]byte("a"), size))
		out.Attempts = append(out.Attempts, Attempt{Size: size, Result: res})
		log.Debug().Int("size", size).Str("result", string(res)).Msg("payload size tried")
		return res == ResultOK
	})

	log.Debug().Int("max", out.Max).Int("attempts", len(out.Attempts)).Msg("payload size probe done")
	return out
}

// TestTopicLength finds the longest topic the broker routes, up to
// MaxTopicLength. Later probes keep their random topics within it.
func (e *Engine) TestTopicLength(ctx context.Context) LengthOutcome {
	log := e.log.With().Str("probe", "topic_length").Logger()
	var out LengthOutcome

	out.Max = searchMax(1, MaxTopicLength, func(size int) bool {
		topic := fill(size)
		res := e.roundTrip(ctx, topic, []byte(topic))
		out.Attempts = append(out.Attempts, Attempt{Size: size, Result: res})
		log.Debug().Int("size", size).Str("result", string(res)).Msg("topic length tried")
		return res == ResultOK
	})

	if out.Max > 0 {
		e.setMaxTopicLength(out.Max)
	}
	log.Debug().Int("max", out.Max).Int("attempts", len(out.Attempts)).Msg("topic length probe done")
	return out
}

// TestClientIdLength finds the longest client identifier the broker
// accepts, up to MaxClientIDLength, using bare connects.
func (e *Engine) TestClientIdLength(ctx context.Context) LengthOutcome {
	log := e.log.With().Str("probe", "client_id_length").Logger()
	var out LengthOutcome

	out.Max = searchMax(0, MaxClientIDLength, func(size int) bool {
		ack, res := e.tryConnect(ctx, fill(size))
		out.Attempts = append(out.Attempts, Attempt{Size: size, Result: res, ReturnCode: ack.ReturnCode})
		log.Debug().Int("size", size).Str("result", string(res)).Uint8("return_code", ack.ReturnCode).Msg("client id length tried")
		return res == ResultOK
	})

	if out.Max >= 0 {
		e.setMaxClientIDLength(out.Max)
	}
	log.Debug().Int("max", out.Max).Int("attempts", len(out.Attempts)).Msg("client id length probe done")
	return out
}

// TestAsciiCharsInClientId connects once with every special character in
// the client identifier and, if that is refused or too long for the
// broker, once per character.
func (e *Engine) TestAsciiCharsInClientId(ctx context.Context) AsciiOutcome {
	log := e.log.With().Str("probe", "ascii_client_id").Logger()
	var out AsciiOutcome

	if _, limit := e.limits(); limit < 0 || len(AsciiSpecialChars) <= limit {
		if _, res := e.tryConnect(ctx, AsciiSpecialChars); res == ResultOK {
			out.AllSupported = true
			log.Debug().Msg("all characters supported")
			return out
		}
	}

	for _, ch := range AsciiSpecialChars {
		ack, res := e.tryConnect(ctx, string(ch))
		if res != ResultOK {
			out.Unsupported = append(out.Unsupported, CharAttempt{Char: ch, Result: res, ReturnCode: ack.ReturnCode})
		}
	}
	out.AllSupported = len(out.Unsupported) == 0

	log.Debug().Str("outcome", out.String()).Msg("ascii client id probe done")
	return out
}

// roundTrip subscribes to topic, publishes payload to it from a second
// client and waits for the delivery.
func (e *Engine) roundTrip(ctx context.Context, topic string, payload []byte) Result {
	if ctx.Err() != nil {
		return ResultInterrupted
	}
	qos := e.WorkingQoS()

	subscriber, err := e.dial(ctx, "size-sub")
	if err != nil {
		return failure(ctx, ResultConnectFailed)
	}
	defer disconnect(subscriber)

	var got atomic.Pointer[Message]
	latch := newCountdown(1)
	err = e.subscribe(ctx, subscriber, topic, qos, func(msg Message) {
		if got.CompareAndSwap(nil, &msg) {
			latch.CountDown()
		}
	})
	if err != nil {
		return failure(ctx, ResultSubscribeFailed)
	}

	publisher, err := e.dial(ctx, "size-pub")
	if err != nil {
		return failure(ctx, ResultConnectFailed)
	}
	err = e.publish(ctx, publisher, topic, qos, false, payload)
	disconnect(publisher)
	if err != nil {
		return failure(ctx, ResultPublishFailed)
	}

	if res := latch.Wait(ctx, e.params.Timeout); res != ResultOK {
		return res
	}
	if !bytes.Equal(got.Load().Payload, payload) {
		return ResultWrongPayload
	}
	return ResultOK
}

func (e *Engine) tryConnect(ctx context.Context, clientID string) (ConnAck, Result) {
	if ctx.Err() != nil {
		return ConnAck{}, ResultInterrupted
	}

	c := e.newClient(clientID, nil)
	ack, err := e.connect(ctx, c)
	disconnect(c)

	switch {
	case err == nil:
		return ack, ResultOK
	case errors.Is(err, ErrConnectTimeout):
		return ack, failure(ctx, ResultTimeOut)
	default:
		return ack, failure(ctx, ResultConnectFailed)
	}
}

// fill returns a string of n characters made of random hex digits.
func fill(n int) string {
	var b strings.Builder
	b.Grow(n)
	for b.Len() < n {
		b.WriteString(strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	return b.String()[:n]
}
