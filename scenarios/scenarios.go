package scenarios

import (
	"context"
	"fmt"
	"sparkplug-tck/application"
	"sparkplug-tck/probe"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

const (
	SessionEstablishmentName = "SessionEstablishmentTest"
	CompliantBrokerName      = "CompliantBrokerTest"
	AwareBrokerName          = "AwareBrokerTest"
	MessageOrderingName      = "MessageOrderingTest"
	BrokerFeaturesName       = "BrokerFeaturesTest"

	DefaultStartDelay = 5 * time.Second
)

// Prober is the part of probe.Engine the broker scenarios use.
type Prober interface {
	TestQos(ctx context.Context, qos byte, attempts int) probe.QosOutcome
	TestRetain(ctx context.Context) probe.Result
	TestConnectWithWill(ctx context.Context) probe.WillOutcome
	TestWildcardSubscriptions(ctx context.Context) probe.WildcardOutcome
	TestSharedSubscription(ctx context.Context) probe.Result
	TestPayloadSize(ctx context.Context, maxSize int) probe.LengthOutcome
	TestTopicLength(ctx context.Context) probe.LengthOutcome
	TestClientIdLength(ctx context.Context) probe.LengthOutcome
	TestAsciiCharsInClientId(ctx context.Context) probe.AsciiOutcome
}

var _ Prober = &probe.Engine{}

type Deps struct {
	// Probe holds credentials, TLS, timeout and dialer for probing brokers.
	// Host and Port are taken from the scenario parameters.
	Probe probe.EngineParams

	NewProber func(params probe.EngineParams) (Prober, error)

	// StartDelay postpones the first probe so the connection of the client
	// that started the test can settle.
	StartDelay time.Duration

	Log zerolog.Logger
}

func (d *Deps) EnsureDefaults() {
	if d.NewProber == nil {
		d.NewProber = func(params probe.EngineParams) (Prober, error) {
			e, err := probe.NewEngine(params)
			if err != nil {
				return nil, err
			}
			return e, nil
		}
	}

	if d.StartDelay == 0 {
		d.StartDelay = DefaultStartDelay
	}
}

func (d Deps) prober(host string, port int) (Prober, error) {
	params := d.Probe
	params.Host = host
	params.Port = port
	params.Log = d.Log
	return d.NewProber(params)
}

// Registry returns the constructors of every known scenario.
func Registry(deps Deps) application.Registry {
	deps.EnsureDefaults()

	return application.Registry{
		SessionEstablishmentName: func(ender application.Ender, params []string) (application.Scenario, error) {
			return NewSessionEstablishment(deps, params)
		},
		CompliantBrokerName: func(ender application.Ender, params []string) (application.Scenario, error) {
			return NewCompliantBroker(deps, ender, params)
		},
		AwareBrokerName: func(ender application.Ender, params []string) (application.Scenario, error) {
			return NewAwareBroker(deps, ender, params)
		},
		MessageOrderingName: func(ender application.Ender, params []string) (application.Scenario, error) {
			return NewMessageOrdering(deps, ender, params)
		},
		BrokerFeaturesName: func(ender application.Ender, params []string) (application.Scenario, error) {
			return NewBrokerFeatures(deps, ender, params)
		},
	}
}

func parsePort(scenario string, s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, &application.ConfigError{Scenario: scenario, Err: fmt.Errorf("invalid port %q", s)}
	}
	return port, nil
}

// background runs the asynchronous part of a scenario and stops it when
// the scenario ends. A panic in background work is handed to onPanic
// instead of taking the process down.
type background struct {
	ctx    context.Context
	cancel context.CancelFunc

	onPanic func(r *panics.RecoveredPanic)

	mu     sync.Mutex
	timers []*time.Timer
}

func newBackground(onPanic func(r *panics.RecoveredPanic)) *background {
	ctx, cancel := context.WithCancel(context.Background())
	return &background{ctx: ctx, cancel: cancel, onPanic: onPanic}
}

func (b *background) After(d time.Duration, f func(ctx context.Context)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx.Err() != nil {
		return
	}
	b.timers = append(b.timers, time.AfterFunc(d, func() {
		if b.ctx.Err() != nil {
			return
		}
		b.Guard(func() {
			f(b.ctx)
		})
	}))
}

func (b *background) Go(f func(ctx context.Context)) {
	b.After(0, f)
}

// Guard runs f on the calling goroutine and recovers a panic from it.
func (b *background) Guard(f func()) {
	var pc panics.Catcher
	pc.Try(f)
	if r := pc.Recovered(); r != nil && b.onPanic != nil {
		b.onPanic(r)
	}
}

func (b *background) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cancel()
	for _, t := range b.timers {
		t.Stop()
	}
	b.timers = nil
}

// abandon fails every open requirement of s with the panic value and ends
// s.
func abandon(s application.Scenario, ender application.Ender, log zerolog.Logger) func(r *panics.RecoveredPanic) {
	return func(r *panics.RecoveredPanic) {
		log.Error().Interface("panic", r.Value).Str("stack", string(r.Stack)).Msg("background check failed")
		s.Results().FailUnset(fmt.Sprintf("(unexpected error: %v)", r.Value))
		ender.EndScenario(s)
	}
}
