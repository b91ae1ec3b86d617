package application

import (
	"errors"
	"fmt"
)

var ErrUnknownScenario = errors.New("unknown scenario")

// Status is returned by every event handler of a Scenario. Finished asks the
// controller to end the scenario.
type Status int

const (
	Continue Status = iota
	Finished
)

// Scenario is one conformance test case. Handlers are called for every
// protocol event seen while the scenario is active and must ignore events
// that do not concern it.
type Scenario interface {
	Name() string
	Results() *Results

	OnConnect(clientID string, pk *ConnectPacket) Status
	OnDisconnect(clientID string, pk *DisconnectPacket) Status
	OnSubscribe(clientID string, pk *SubscribePacket) Status
	OnPublish(clientID string, pk *PublishPacket) Status

	// End finalizes unresolved requirements and releases anything the
	// scenario started. It is called exactly once, by the controller.
	End()
}

// Ender lets a scenario terminate itself from its own goroutines.
type Ender interface {
	EndScenario(s Scenario)
}

type Constructor func(ender Ender, params []string) (Scenario, error)

// Registry maps exact scenario names to their constructors.
type Registry map[string]Constructor

func (r Registry) New(name string, ender Ender, params []string) (Scenario, error) {
	ctor, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, name)
	}
	s, err := ctor(ender, params)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, &ConfigError{Scenario: name, Err: err}
	}
	return s, nil
}

// ConfigError reports malformed scenario parameters.
type ConfigError struct {
	Scenario string
	Err      error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("scenario %s: configuration error: %v", e.Scenario, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// RequireParams fails with a ConfigError when fewer than n parameters were
// supplied. usage names the expected parameters.
func RequireParams(scenario string, params []string, n int, usage string) error {
	if len(params) < n {
		return &ConfigError{
			Scenario: scenario,
			Err:      fmt.Errorf("expected %d parameters (%s), got %d: %q", n, usage, len(params), params),
		}
	}
	return nil
}
