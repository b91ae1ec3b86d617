package application

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

type ControllerParams struct {
	Registry Registry
	Reporter Reporter

	Log zerolog.Logger
}

// Controller owns the single active scenario and routes protocol events to
// the scenario active when they arrive. A handler already dispatched may
// still run after its scenario ended, but anything it records after the
// results were sealed is dropped.
type Controller struct {
	registry Registry
	reporter Reporter

	mu     sync.Mutex
	active Scenario

	log zerolog.Logger
}

func NewController(params ControllerParams) (*Controller, error) {
	if params.Registry == nil {
		return nil, fmt.Errorf("Registry is nil")
	}
	if params.Reporter == nil {
		return nil, fmt.Errorf("Reporter is nil")
	}
	return &Controller{
		registry: params.Registry,
		reporter: params.Reporter,
		log:      params.Log,
	}, nil
}

// Start constructs the named scenario and makes it the active one. A
// scenario that is still running is ended and reported first.
func (c *Controller) Start(name string, params []string) error {
	c.log.Info().Str("scenario", name).Strs("params", params).Msg("test requested")

	c.End()

	s, err := c.newScenario(name, params)
	if err != nil {
		c.log.Error().Err(err).Str("scenario", name).Msg("could not start test")
		return err
	}

	c.log.Info().Str("scenario", name).Strs("requirements", s.Results().IDs()).Msg("test started")

	c.mu.Lock()
	prev := c.active
	c.active = s
	c.mu.Unlock()

	// a concurrent Start may have slipped in between End and here
	if prev != nil {
		c.finish(prev)
	}
	return nil
}

func (c *Controller) newScenario(name string, params []string) (s Scenario, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ConfigError{Scenario: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return c.registry.New(name, c, params)
}

// End ends the active scenario, if any, and reports its results.
func (c *Controller) End() {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()

	if s == nil {
		c.log.Debug().Msg("test end requested but no test active")
		return
	}
	c.log.Info().Str("scenario", s.Name()).Msg("test end requested")
	c.finish(s)
}

// EndScenario ends s only if it is still the active scenario, so a scenario
// asking to end more than once is reported once.
func (c *Controller) EndScenario(s Scenario) {
	c.mu.Lock()
	if c.active != s || s == nil {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.mu.Unlock()

	c.log.Info().Str("scenario", s.Name()).Msg("test ended itself")
	c.finish(s)
}

// Active returns the name of the active scenario, or "" when idle.
func (c *Controller) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return ""
	}
	return c.active.Name()
}

func (c *Controller) finish(s Scenario) {
	func() {
		defer c.recoverHandler(s, "end")
		s.End()
	}()

	report := NewReport(s.Name(), s.Results().Seal())
	if err := c.reporter.Report(report); err != nil {
		c.log.Error().Err(err).Str("scenario", s.Name()).Msg("failed to report results")
	}
}

func (c *Controller) OnConnect(clientID string, pk *ConnectPacket) {
	c.dispatch(clientID, "connect", func(s Scenario) Status {
		return s.OnConnect(clientID, pk)
	})
}

func (c *Controller) OnDisconnect(clientID string, pk *DisconnectPacket) {
	c.dispatch(clientID, "disconnect", func(s Scenario) Status {
		return s.OnDisconnect(clientID, pk)
	})
}

func (c *Controller) OnSubscribe(clientID string, pk *SubscribePacket) {
	c.dispatch(clientID, "subscribe", func(s Scenario) Status {
		return s.OnSubscribe(clientID, pk)
	})
}

func (c *Controller) OnPublish(clientID string, pk *PublishPacket) {
	c.dispatch(clientID, "publish", func(s Scenario) Status {
		return s.OnPublish(clientID, pk)
	})
}

func (c *Controller) dispatch(clientID string, event string, handle func(s Scenario) Status) {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()

	if s == nil {
		return
	}

	status := Continue
	func() {
		defer c.recoverHandler(s, event)
		status = handle(s)
	}()

	if status == Finished {
		c.EndScenario(s)
	}
}

func (c *Controller) recoverHandler(s Scenario, event string) {
	r := recover()
	if r == nil {
		return
	}
	c.log.Error().
		Str("scenario", s.Name()).
		Str("event", event).
		Interface("panic", r).
		Msg("scenario handler failed")
	s.Results().FailUnset(fmt.Sprintf("(unexpected error handling %s: %v)", event, r))
}
