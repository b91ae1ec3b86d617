package probe

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

// fakeBroker is an in-memory broker used as the Dialer in engine tests.
// Limits of -1 mean unlimited.
type fakeBroker struct {
	maxQoS      byte
	maxPayload  int
	maxTopic    int
	maxClientID int
	noRetain    bool
	noWildcards bool
	notShared   bool
	dropAll     bool
	rejectWill  bool
	rejectChars string

	// publishErr, when set, is consulted for every publish with its
	// sequence number starting at 1.
	publishErr func(n int) error

	mu        sync.Mutex
	subs      []*fakeSub
	retained  map[string]Message
	connects  atomic.Int64
	publishes atomic.Int64
}

type fakeSub struct {
	client  *fakeClient
	group   string
	filter  string
	qos     byte
	handler MessageHandler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		maxQoS:      ExactlyOnce,
		maxPayload:  -1,
		maxTopic:    -1,
		maxClientID: -1,
		retained:    map[string]Message{},
	}
}

func (b *fakeBroker) NewClient(opts ClientOptions) Client {
	return &fakeClient{broker: b, opts: opts}
}

func (b *fakeBroker) Connects() int {
	return int(b.connects.Load())
}

type fakeClient struct {
	broker    *fakeBroker
	opts      ClientOptions
	connected atomic.Bool
}

func (c *fakeClient) Connect(ctx context.Context) (ConnAck, error) {
	b := c.broker
	b.connects.Add(1)

	if err := ctx.Err(); err != nil {
		return ConnAck{}, err
	}
	if b.maxClientID >= 0 && len(c.opts.ClientID) > b.maxClientID {
		return ConnAck{ReturnCode: 2}, ErrConnectRefused
	}
	if b.rejectChars != "" && strings.ContainsAny(c.opts.ClientID, b.rejectChars) {
		return ConnAck{ReturnCode: 2}, ErrConnectRefused
	}
	if b.rejectWill && c.opts.Will != nil {
		return ConnAck{ReturnCode: 5}, ErrConnectRefused
	}
	c.connected.Store(true)
	return ConnAck{}, nil
}

func (c *fakeClient) Subscribe(ctx context.Context, filter string, qos byte, handler MessageHandler) error {
	b := c.broker
	if !c.connected.Load() {
		return ErrConnectRefused
	}

	sub := &fakeSub{client: c, filter: filter, qos: qos, handler: handler}
	if strings.HasPrefix(filter, "$share/") {
		parts := strings.SplitN(filter, "/", 3)
		sub.group, sub.filter = parts[1], parts[2]
	}
	if b.maxTopic >= 0 && len(sub.filter) > b.maxTopic {
		return ErrSubscribeRejected
	}
	if b.noWildcards && strings.ContainsAny(sub.filter, "+#") {
		return nil
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	var retained []Message
	if sub.group == "" {
		for topic, msg := range b.retained {
			if matches(sub.filter, topic) {
				retained = append(retained, msg)
			}
		}
	}
	b.mu.Unlock()

	for _, msg := range retained {
		msg.QoS = minQoS(msg.QoS, qos, b.maxQoS)
		handler(msg)
	}
	return nil
}

func (c *fakeClient) Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
	b := c.broker
	n := int(b.publishes.Add(1))
	if !c.connected.Load() {
		return ErrConnectRefused
	}
	if b.publishErr != nil {
		if err := b.publishErr(n); err != nil {
			return err
		}
	}
	if b.maxTopic >= 0 && len(topic) > b.maxTopic {
		return nil
	}
	if b.maxPayload >= 0 && len(payload) > b.maxPayload {
		return nil
	}
	if b.dropAll {
		return nil
	}

	msg := Message{Topic: topic, Payload: append([]byte{}, payload...), QoS: qos}

	b.mu.Lock()
	if retain && !b.noRetain {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			stored := msg
			stored.Retain = true
			b.retained[topic] = stored
		}
	}
	var targets []*fakeSub
	groups := map[string]bool{}
	for _, sub := range b.subs {
		if !matches(sub.filter, topic) {
			continue
		}
		if sub.group != "" && !b.notShared {
			if groups[sub.group] {
				continue
			}
			groups[sub.group] = true
		}
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		delivered := msg
		delivered.QoS = minQoS(qos, sub.qos, b.maxQoS)
		sub.handler(delivered)
	}
	return nil
}

func (c *fakeClient) Disconnect() {
	b := c.broker
	c.connected.Store(false)

	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[:0]
	for _, sub := range b.subs {
		if sub.client != c {
			subs = append(subs, sub)
		}
	}
	b.subs = subs
}

func (c *fakeClient) IsConnected() bool {
	return c.connected.Load()
}

func matches(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		if f == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}

func minQoS(levels ...byte) byte {
	m := levels[0]
	for _, l := range levels[1:] {
		if l < m {
			m = l
		}
	}
	return m
}
