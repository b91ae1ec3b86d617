package adapters

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/rs/zerolog"
)

const (
	BrokerDefaultAddress         = ":1883"
	BrokerDefaultShutdownTimeout = 5 * time.Second
)

type BrokerParams struct {
	Address   string
	TLSConfig *tls.Config

	Hooks []mqtt.Hook

	ShutdownTimeout time.Duration

	// OnShutdown runs before the server closes, while clients and the
	// inline client are still attached.
	OnShutdown func()

	Log zerolog.Logger
}

func (p *BrokerParams) EnsureDefaults() {
	if p.Address == "" {
		p.Address = BrokerDefaultAddress
	}

	if p.ShutdownTimeout == 0 {
		p.ShutdownTimeout = BrokerDefaultShutdownTimeout
	}
}

// Broker is the embedded MQTT broker the devices under test connect to.
type Broker struct {
	params BrokerParams

	server *mqtt.Server

	log zerolog.Logger
}

func NewBroker(params BrokerParams) (*Broker, error) {
	params.EnsureDefaults()

	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
		// mochi warnings and errors end up in the service log
		Logger: slog.New(slog.NewTextHandler(params.Log, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("failed to add allow hook: %w", err)
	}
	for _, hook := range params.Hooks {
		if err := server.AddHook(hook, nil); err != nil {
			return nil, fmt.Errorf("failed to add hook %s: %w", hook.ID(), err)
		}
	}

	return &Broker{
		params: params,
		server: server,
		log:    params.Log,
	}, nil
}

// Run serves until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	listener := listeners.NewTCP(listeners.Config{
		ID:        "tck",
		Address:   b.params.Address,
		TLSConfig: b.params.TLSConfig,
	})
	if err := b.server.AddListener(listener); err != nil {
		return fmt.Errorf("failed to add listener: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- b.server.Serve()
	}()
	b.log.Info().Str("address", b.params.Address).Msg("broker listening")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
		<-ctx.Done()
	}

	if b.params.OnShutdown != nil {
		b.params.OnShutdown()
	}

	done := make(chan error, 1)
	go func() {
		done <- b.server.Close()
	}()

	tc := time.NewTimer(b.params.ShutdownTimeout)
	defer tc.Stop()

	select {
	case <-tc.C:
		b.log.Warn().Msg("broker shutdown timed out")
		return nil
	case err := <-done:
		b.log.Info().Msg("broker stopped")
		return err
	}
}

// Publish sends a message from the broker's inline client.
func (b *Broker) Publish(topic string, payload []byte, retain bool, qos byte) error {
	return b.server.Publish(topic, payload, retain, qos)
}
