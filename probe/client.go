package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
)

var (
	ErrConnectTimeout    = errors.New("connect timeout")
	ErrConnectRefused    = errors.New("connection refused")
	ErrSubscribeRejected = errors.New("subscription rejected")
	ErrOperationTimeout  = errors.New("operation timeout")
)

const (
	AtMostOnce  byte = 0
	AtLeastOnce byte = 1
	ExactlyOnce byte = 2
)

func QosName(qos byte) string {
	switch qos {
	case AtMostOnce:
		return "AT_MOST_ONCE"
	case AtLeastOnce:
		return "AT_LEAST_ONCE"
	case ExactlyOnce:
		return "EXACTLY_ONCE"
	default:
		return fmt.Sprintf("QOS_%d", qos)
	}
}

type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

type MessageHandler func(msg Message)

// ConnAck is the broker's answer to a connect attempt. ReturnCode is zero
// when the connection was accepted.
type ConnAck struct {
	ReturnCode     byte
	SessionPresent bool
}

type ClientOptions struct {
	Host      string
	Port      int
	ClientID  string
	Username  string
	Password  string
	TLSConfig *tls.Config

	// Will is registered with the broker on connect when set.
	Will *Message
}

// Client is a short lived MQTT 3.1.1 connection used by a single probe.
//
// Connect returns ErrConnectRefused together with the ConnAck when the
// broker answered with a non zero return code. Subscribe only returns once
// the broker acknowledged the subscription.
type Client interface {
	Connect(ctx context.Context) (ConnAck, error)
	Subscribe(ctx context.Context, filter string, qos byte, handler MessageHandler) error
	Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error
	Disconnect()
	IsConnected() bool
}

type Dialer interface {
	NewClient(opts ClientOptions) Client
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(opts ClientOptions) Client

func (f DialerFunc) NewClient(opts ClientOptions) Client {
	return f(opts)
}
