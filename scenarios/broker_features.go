package scenarios

import (
	"context"
	"fmt"
	"sparkplug-tck/application"
	"sparkplug-tck/probe"
	"strconv"

	"github.com/rs/zerolog"
)

const (
	// broker feature ids have no counterpart in the Sparkplug requirement list
	IDConformanceWildcard      = "conformance-mqtt-wildcard-subscriptions"
	IDConformanceShared        = "conformance-mqtt-shared-subscriptions"
	IDConformanceTopicLength   = "conformance-mqtt-topic-length"
	IDConformanceClientIDLen   = "conformance-mqtt-client-id-length"
	IDConformancePayloadSize   = "conformance-mqtt-payload-size"
	IDConformanceClientIDAscii = "conformance-mqtt-client-id-ascii"

	// MQTT 3.1.1 servers must accept client identifiers of 1 to 23 bytes.
	requiredClientIDLength = 23

	DefaultMaxPayload = 1 << 20
)

// BrokerFeatures probes wildcard and shared subscriptions and the size
// limits of the broker under test, then ends itself.
type BrokerFeatures struct {
	results    *application.Results
	prober     Prober
	maxPayload int
	bg         *background

	log zerolog.Logger
}

func NewBrokerFeatures(deps Deps, ender application.Ender, params []string) (*BrokerFeatures, error) {
	if err := application.RequireParams(BrokerFeaturesName, params, 2, "host port [maxPayloadBytes]"); err != nil {
		return nil, err
	}
	port, err := parsePort(BrokerFeaturesName, params[1])
	if err != nil {
		return nil, err
	}

	maxPayload := DefaultMaxPayload
	if len(params) > 2 {
		maxPayload, err = strconv.Atoi(params[2])
		if err != nil || maxPayload < 0 {
			return nil, &application.ConfigError{
				Scenario: BrokerFeaturesName,
				Err:      fmt.Errorf("invalid maxPayloadBytes %q", params[2]),
			}
		}
	}

	prober, err := deps.prober(params[0], port)
	if err != nil {
		return nil, err
	}

	s := &BrokerFeatures{
		results: application.NewResults(
			IDConformanceWildcard, IDConformanceShared, IDConformanceTopicLength,
			IDConformanceClientIDLen, IDConformancePayloadSize, IDConformanceClientIDAscii,
		),
		prober:     prober,
		maxPayload: maxPayload,
		log: deps.Log.With().
			Str("scenario", BrokerFeaturesName).
			Str("broker", params[0]+":"+params[1]).
			Logger(),
	}

	s.bg = newBackground(abandon(s, ender, s.log))

	s.bg.After(deps.StartDelay, func(ctx context.Context) {
		s.run(ctx)
		ender.EndScenario(s)
	})
	return s, nil
}

func (s *BrokerFeatures) run(ctx context.Context) {
	wildcard := s.prober.TestWildcardSubscriptions(ctx)
	s.results.Set(IDConformanceWildcard, application.Check(wildcard.OK(),
		fmt.Sprintf("(single level: %s, multi level: %s)", wildcard.SingleLevel, wildcard.MultiLevel)))

	shared := s.prober.TestSharedSubscription(ctx)
	s.results.Set(IDConformanceShared, application.Check(shared == probe.ResultOK,
		fmt.Sprintf("(shared subscription: %s)", shared)))

	// topic length first so later probes stay within the broker's limit
	topic := s.prober.TestTopicLength(ctx)
	s.results.Set(IDConformanceTopicLength, application.Check(topic.Max >= probe.MaxTopicLength,
		fmt.Sprintf("(topic length %s)", topic)))

	clientID := s.prober.TestClientIdLength(ctx)
	s.results.Set(IDConformanceClientIDLen, application.Check(clientID.Max >= requiredClientIDLength,
		fmt.Sprintf("(client id length %s)", clientID)))

	payload := s.prober.TestPayloadSize(ctx, s.maxPayload)
	s.results.Set(IDConformancePayloadSize, application.Check(payload.Max >= s.maxPayload,
		fmt.Sprintf("(payload size %s)", payload)))

	ascii := s.prober.TestAsciiCharsInClientId(ctx)
	s.results.Set(IDConformanceClientIDAscii, application.Check(ascii.AllSupported,
		fmt.Sprintf("(%s)", ascii)))

	s.log.Info().
		Int("max_topic_length", topic.Max).
		Int("max_client_id_length", clientID.Max).
		Int("max_payload", payload.Max).
		Msg("broker feature probes done")
}

func (s *BrokerFeatures) Name() string {
	return BrokerFeaturesName
}

func (s *BrokerFeatures) Results() *application.Results {
	return s.results
}

func (s *BrokerFeatures) OnConnect(clientID string, pk *application.ConnectPacket) application.Status {
	return application.Continue
}

func (s *BrokerFeatures) OnDisconnect(clientID string, pk *application.DisconnectPacket) application.Status {
	return application.Continue
}

func (s *BrokerFeatures) OnSubscribe(clientID string, pk *application.SubscribePacket) application.Status {
	return application.Continue
}

func (s *BrokerFeatures) OnPublish(clientID string, pk *application.PublishPacket) application.Status {
	return application.Continue
}

func (s *BrokerFeatures) End() {
	s.bg.Stop()
	s.results.FailUnset("(broker feature probes did not complete)")
}

var _ application.Scenario = &BrokerFeatures{}
