package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sparkplug-tck/probe"
	"strconv"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	PahoDefaultConnectTimeout   = 30 * time.Second
	PahoDefaultOperationTimeout = 5 * time.Second

	// granted QoS returned in a SUBACK for a refused filter
	subAckFailure = 0x80
)

var (
	ErrMQTTNotConnected = fmt.Errorf("not connected")
)

type PahoDialerParams struct {
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client

	Log zerolog.Logger
}

func (p *PahoDialerParams) EnsureDefaults() {
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = PahoDefaultConnectTimeout
	}

	if p.OperationTimeout == 0 {
		p.OperationTimeout = PahoDefaultOperationTimeout
	}

	if p.NewClientFunc == nil {
		p.NewClientFunc = mqtt.NewClient
	}
}

// PahoDialer creates probe clients backed by the eclipse paho MQTT 3.1.1
// client.
type PahoDialer struct {
	params PahoDialerParams
}

func NewPahoDialer(params PahoDialerParams) *PahoDialer {
	params.EnsureDefaults()
	return &PahoDialer{params: params}
}

func (d *PahoDialer) NewClient(opts probe.ClientOptions) probe.Client {
	c := &pahoClient{
		params: d.params,
		log:    d.params.Log.With().Str("client_id", opts.ClientID).Logger(),
	}
	c.client = d.params.NewClientFunc(c.clientOptions(opts))
	return c
}

type pahoClient struct {
	params PahoDialerParams

	client    mqtt.Client
	connected uint64

	log zerolog.Logger
}

func (c *pahoClient) Connect(ctx context.Context) (probe.ConnAck, error) {
	tc := time.NewTimer(c.params.ConnectTimeout)
	defer tc.Stop()

	token := c.client.Connect()
	select {
	case <-ctx.Done():
		// paho keeps retrying an abandoned connect until told to stop
		c.client.Disconnect(0)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return probe.ConnAck{}, probe.ErrConnectTimeout
		}
		return probe.ConnAck{}, ctx.Err()
	case <-tc.C:
		c.client.Disconnect(0)
		return probe.ConnAck{}, probe.ErrConnectTimeout
	case <-token.Done():
	}

	var ack probe.ConnAck
	if ct, ok := token.(connAckToken); ok {
		ack.ReturnCode = ct.ReturnCode()
		ack.SessionPresent = ct.SessionPresent()
	}
	if ack.ReturnCode != 0 {
		return ack, fmt.Errorf("%w: return code %d", probe.ErrConnectRefused, ack.ReturnCode)
	}
	if token.Error() != nil {
		return ack, token.Error()
	}

	atomic.StoreUint64(&c.connected, 1)
	return ack, nil
}

func (c *pahoClient) Subscribe(ctx context.Context, filter string, qos byte, handler probe.MessageHandler) error {
	if !c.IsConnected() {
		return ErrMQTTNotConnected
	}

	token := c.client.Subscribe(filter, qos, func(client mqtt.Client, msg mqtt.Message) {
		handler(probe.Message{
			Topic:   msg.Topic(),
			Payload: msg.Payload(),
			QoS:     msg.Qos(),
			Retain:  msg.Retained(),
		})
	})
	if err := c.wait(ctx, token); err != nil {
		return err
	}

	if st, ok := token.(subAckToken); ok {
		if granted, found := st.Result()[filter]; found && granted == subAckFailure {
			return fmt.Errorf("%w: %s", probe.ErrSubscribeRejected, filter)
		}
	}
	return nil
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
	if !c.IsConnected() {
		return ErrMQTTNotConnected
	}

	token := c.client.Publish(topic, qos, retain, payload)
	return c.wait(ctx, token)
}

func (c *pahoClient) Disconnect() {
	if atomic.SwapUint64(&c.connected, 0) == 0 {
		return
	}
	c.client.Disconnect(0)
}

func (c *pahoClient) IsConnected() bool {
	return atomic.LoadUint64(&c.connected) == 1
}

func (c *pahoClient) OnConnectionLost(client mqtt.Client, err error) {
	c.log.Debug().Err(err).Msg("connection lost")
	atomic.StoreUint64(&c.connected, 0)
}

func (c *pahoClient) wait(ctx context.Context, token mqtt.Token) error {
	tc := time.NewTimer(c.params.OperationTimeout)
	defer tc.Stop()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return probe.ErrOperationTimeout
		}
		return ctx.Err()
	case <-tc.C:
		return probe.ErrOperationTimeout
	case <-token.Done():
		return token.Error()
	}
}

func (c *pahoClient) clientOptions(opts probe.ClientOptions) *mqtt.ClientOptions {
	scheme := "tcp"
	if opts.TLSConfig != nil {
		scheme = "ssl"
	}

	o := mqtt.NewClientOptions()
	o.AddBroker(scheme + "://" + net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)))
	o.SetClientID(opts.ClientID)
	o.SetUsername(opts.Username)
	o.SetPassword(opts.Password)
	o.SetProtocolVersion(4)
	o.SetCleanSession(true)
	o.SetAutoReconnect(false)
	o.SetConnectRetry(false)
	o.SetConnectTimeout(c.params.ConnectTimeout)
	// handlers may disconnect their own client
	o.SetOrderMatters(false)

	if opts.TLSConfig != nil {
		o.SetTLSConfig(opts.TLSConfig)
	}
	if opts.Will != nil {
		o.SetBinaryWill(opts.Will.Topic, opts.Will.Payload, opts.Will.QoS, opts.Will.Retain)
	}

	o.OnConnectionLost = c.OnConnectionLost
	return o
}

type connAckToken interface {
	ReturnCode() byte
	SessionPresent() bool
}

type subAckToken interface {
	Result() map[string]byte
}

var _ probe.Dialer = &PahoDialer{}
var _ probe.Client = &pahoClient{}
var _ connAckToken = &mqtt.ConnectToken{}
var _ subAckToken = &mqtt.SubscribeToken{}
