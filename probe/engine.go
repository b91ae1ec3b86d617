package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultTimeout = 5 * time.Second
	DefaultPort    = 1883

	MaxTopicLength    = 65535
	MaxClientIDLength = 65535
)

type EngineParams struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLSConfig *tls.Config

	// Timeout bounds every wait performed by a probe.
	Timeout time.Duration

	Dialer Dialer

	Log zerolog.Logger
}

func (p *EngineParams) EnsureDefaults() {
	if p.Timeout == 0 {
		p.Timeout = DefaultTimeout
	}

	if p.Port == 0 {
		p.Port = DefaultPort
	}
}

// Engine probes a broker with short lived clients. Probes on one Engine
// must not overlap; the only state kept between them is what earlier
// probes learned about the broker.
type Engine struct {
	params EngineParams

	mu                sync.Mutex
	qosProbed         bool
	maxQoS            byte
	maxTopicLength    int
	maxClientIDLength int

	log zerolog.Logger
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Dialer == nil {
		return nil, fmt.Errorf("Dialer is nil")
	}
	if params.Host == "" {
		return nil, fmt.Errorf("Host is empty")
	}
	params.EnsureDefaults()

	return &Engine{
		params:            params,
		maxTopicLength:    -1,
		maxClientIDLength: -1,
		log: params.Log.With().
			Str("broker", fmt.Sprintf("%s:%d", params.Host, params.Port)).
			Logger(),
	}, nil
}

// WorkingQoS is the QoS used by every probe except TestQos. It is the
// highest level a QoS probe confirmed, AT_LEAST_ONCE until one ran.
func (e *Engine) WorkingQoS() byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.qosProbed {
		return AtLeastOnce
	}
	return e.maxQoS
}

func (e *Engine) confirmQoS(qos byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.qosProbed || qos > e.maxQoS {
		e.maxQoS = qos
		e.qosProbed = true
	}
}

func (e *Engine) setMaxTopicLength(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxTopicLength = n
}

func (e *Engine) setMaxClientIDLength(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxClientIDLength = n
}

func (e *Engine) limits() (topic, clientID int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxTopicLength, e.maxClientIDLength
}

// topic returns a random topic that leaves room for reserve more bytes
// within the known topic length limit.
func (e *Engine) topic(reserve int) string {
	t := uuid.NewString()
	if limit, _ := e.limits(); limit > 0 {
		n := limit - reserve
		if n < 1 {
			n = 1
		}
		if len(t) > n {
			t = t[:n]
		}
	}
	return t
}

func (e *Engine) clientID(role string) string {
	id := "tck-" + role + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if _, limit := e.limits(); limit > 0 && len(id) > limit {
		id = id[:limit]
	}
	return id
}

func (e *Engine) newClient(clientID string, will *Message) Client {
	return e.params.Dialer.NewClient(ClientOptions{
		Host:      e.params.Host,
		Port:      e.params.Port,
		ClientID:  clientID,
		Username:  e.params.Username,
		Password:  e.params.Password,
		TLSConfig: e.params.TLSConfig,
		Will:      will,
	})
}

func (e *Engine) connect(ctx context.Context, c Client) (ConnAck, error) {
	ctx, cancel := context.WithTimeout(ctx, e.params.Timeout)
	defer cancel()
	return c.Connect(ctx)
}

// dial creates and connects a client for role.
func (e *Engine) dial(ctx context.Context, role string) (Client, error) {
	c := e.newClient(e.clientID(role), nil)
	if _, err := e.connect(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (e *Engine) subscribe(ctx context.Context, c Client, filter string, qos byte, handler MessageHandler) error {
	ctx, cancel := context.WithTimeout(ctx, e.params.Timeout)
	defer cancel()
	return c.Subscribe(ctx, filter, qos, handler)
}

func (e *Engine) publish(ctx context.Context, c Client, topic string, qos byte, retain bool, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, e.params.Timeout)
	defer cancel()
	return c.Publish(ctx, topic, qos, retain, payload)
}

// failure maps a client error onto a Result, preferring INTERRUPTED once
// ctx is done.
func failure(ctx context.Context, fallback Result) Result {
	if ctx.Err() != nil {
		return ResultInterrupted
	}
	return fallback
}

func disconnect(clients ...Client) {
	for _, c := range clients {
		if c != nil && c.IsConnected() {
			c.Disconnect()
		}
	}
}
