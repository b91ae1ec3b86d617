package scenarios

import (
	"context"
	"fmt"
	"sparkplug-tck/application"
	"sparkplug-tck/probe"

	"github.com/rs/zerolog"
)

const (
	IDConformanceQos0     = "conformance-mqtt-qos0"
	IDConformanceQos1     = "conformance-mqtt-qos1"
	IDConformanceWill     = "conformance-mqtt-will-messages"
	IDConformanceRetained = "conformance-mqtt-retained"

	qosAttempts = 3
)

// compliance holds the outcome of the MQTT server conformance checks.
type compliance struct {
	Qos0     application.Result
	Qos1     application.Result
	Will     application.Result
	Retained application.Result
}

func (c compliance) Passed() bool {
	return c.Qos0.Passed() && c.Qos1.Passed() && c.Will.Passed() && c.Retained.Passed()
}

// checkCompliance runs the QoS 0, QoS 1, will and retain probes in turn.
// QoS 0 passes on any delivery; QoS 1 needs every message delivered.
func checkCompliance(ctx context.Context, p Prober, log zerolog.Logger) compliance {
	var c compliance

	qos0 := p.TestQos(ctx, probe.AtMostOnce, qosAttempts)
	c.Qos0 = application.Check(qos0.Received > 0,
		fmt.Sprintf("(received %d of %d QoS 0 messages: %s)", qos0.Received, qos0.Attempts, qos0.Result))

	qos1 := p.TestQos(ctx, probe.AtLeastOnce, qosAttempts)
	c.Qos1 = application.Check(qos1.Complete(),
		fmt.Sprintf("(received %d of %d QoS 1 messages: %s)", qos1.Received, qos1.Attempts, qos1.Result))

	will := p.TestConnectWithWill(ctx)
	c.Will = application.Check(will.Accepted(),
		fmt.Sprintf("(connect with will refused: return code %d %v)", will.ConnAck.ReturnCode, will.Err))

	retain := p.TestRetain(ctx)
	c.Retained = application.Check(retain == probe.ResultOK,
		fmt.Sprintf("(retained message not delivered: %s)", retain))

	log.Info().
		Stringer("qos0", c.Qos0).
		Stringer("qos1", c.Qos1).
		Stringer("will", c.Will).
		Stringer("retained", c.Retained).
		Msg("compliance checks done")
	return c
}

// CompliantBroker probes the broker under test for the MQTT features a
// Sparkplug compliant server must provide, then ends itself.
type CompliantBroker struct {
	results *application.Results
	prober  Prober
	bg      *background

	log zerolog.Logger
}

func NewCompliantBroker(deps Deps, ender application.Ender, params []string) (*CompliantBroker, error) {
	if err := application.RequireParams(CompliantBrokerName, params, 2, "host port"); err != nil {
		return nil, err
	}
	port, err := parsePort(CompliantBrokerName, params[1])
	if err != nil {
		return nil, err
	}
	prober, err := deps.prober(params[0], port)
	if err != nil {
		return nil, err
	}

	s := &CompliantBroker{
		results: application.NewResults(IDConformanceQos0, IDConformanceQos1, IDConformanceWill, IDConformanceRetained),
		prober:  prober,
		log: deps.Log.With().
			Str("scenario", CompliantBrokerName).
			Str("broker", params[0]+":"+params[1]).
			Logger(),
	}

	s.bg = newBackground(abandon(s, ender, s.log))

	s.bg.After(deps.StartDelay, func(ctx context.Context) {
		c := checkCompliance(ctx, s.prober, s.log)
		s.results.Set(IDConformanceQos0, c.Qos0)
		s.results.Set(IDConformanceQos1, c.Qos1)
		s.results.Set(IDConformanceWill, c.Will)
		s.results.Set(IDConformanceRetained, c.Retained)

		ender.EndScenario(s)
	})
	return s, nil
}

func (s *CompliantBroker) Name() string {
	return CompliantBrokerName
}

func (s *CompliantBroker) Results() *application.Results {
	return s.results
}

func (s *CompliantBroker) OnConnect(clientID string, pk *application.ConnectPacket) application.Status {
	s.log.Debug().Str("client_id", clientID).Msg("connect")
	return application.Continue
}

func (s *CompliantBroker) OnDisconnect(clientID string, pk *application.DisconnectPacket) application.Status {
	return application.Continue
}

func (s *CompliantBroker) OnSubscribe(clientID string, pk *application.SubscribePacket) application.Status {
	s.log.Debug().Str("client_id", clientID).Strs("filters", pk.TopicFilters()).Msg("subscribe")
	return application.Continue
}

func (s *CompliantBroker) OnPublish(clientID string, pk *application.PublishPacket) application.Status {
	s.log.Debug().Str("client_id", clientID).Str("topic", pk.Topic).Msg("publish")
	return application.Continue
}

func (s *CompliantBroker) End() {
	s.bg.Stop()
	s.results.FailUnset("(broker checks did not complete)")
}

var _ application.Scenario = &CompliantBroker{}
