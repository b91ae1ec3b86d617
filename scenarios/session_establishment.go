package scenarios

import (
	"fmt"
	"sparkplug-tck/application"
	"sparkplug-tck/sparkplug"
	"sync"

	"github.com/rs/zerolog"
)

const (
	IDHostDeathRequired     = "host-topic-phid-death-required"
	IDHostDeathTopic        = "host-topic-phid-death-topic"
	IDHostDeathPayload      = "host-topic-phid-death-payload"
	IDHostDeathPayloadOff   = "host-topic-phid-death-payload-off"
	IDHostDeathQos          = "host-topic-phid-death-qos"
	IDHostDeathRetain       = "host-topic-phid-death-retain"
	IDHostCleanSession      = "message-flow-phid-sparkplug-clean-session-311"
	IDHostSubscription      = "message-flow-phid-sparkplug-subscription"
	IDHostBirthTopic        = "host-topic-phid-birth-topic"
	IDHostBirthPayload      = "host-topic-phid-birth-payload"
	IDHostBirthPayloadOnOff = "host-topic-phid-birth-payload-on-off"
	IDHostBirthQos          = "host-topic-phid-birth-qos"
	IDHostBirthRetain       = "host-topic-phid-birth-retain"
	IDHostStatePublish      = "message-flow-phid-sparkplug-state-publish"
	IDComponentsHostState   = "components-ph-state"

	offlinePayload = "OFFLINE"
	onlinePayload  = "ONLINE"

	namespaceFilter = sparkplug.Namespace + "/#"
)

type HostState int

const (
	HostStateNone HostState = iota
	HostStateConnected
	HostStateSubscribed
	HostStatePublished
)

func (s HostState) String() string {
	switch s {
	case HostStateConnected:
		return "CONNECTED"
	case HostStateSubscribed:
		return "SUBSCRIBED"
	case HostStatePublished:
		return "PUBLISHED"
	default:
		return "NONE"
	}
}

// SessionEstablishment follows a primary host application through
// connect, subscribe and STATE birth publish.
type SessionEstablishment struct {
	hostID  string
	results *application.Results

	mu            sync.Mutex
	state         HostState
	subject       string
	subscriptions map[string]bool

	log zerolog.Logger
}

func NewSessionEstablishment(deps Deps, params []string) (*SessionEstablishment, error) {
	if err := application.RequireParams(SessionEstablishmentName, params, 1, "hostApplicationId"); err != nil {
		return nil, err
	}

	s := &SessionEstablishment{
		hostID: params[0],
		results: application.NewResults(
			IDHostDeathRequired, IDHostDeathTopic, IDHostDeathPayload, IDHostDeathPayloadOff,
			IDHostDeathQos, IDHostDeathRetain, IDHostCleanSession, IDHostSubscription,
			IDHostBirthTopic, IDHostBirthPayload, IDHostBirthPayloadOnOff, IDHostBirthQos,
			IDHostBirthRetain, IDHostStatePublish, IDComponentsHostState,
		),
		subscriptions: map[string]bool{},
		log: deps.Log.With().
			Str("scenario", SessionEstablishmentName).
			Str("host_application_id", params[0]).
			Logger(),
	}
	return s, nil
}

func (s *SessionEstablishment) Name() string {
	return SessionEstablishmentName
}

func (s *SessionEstablishment) Results() *application.Results {
	return s.results
}

// State returns how far the host application got.
func (s *SessionEstablishment) State() HostState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SessionEstablishment) OnConnect(clientID string, pk *application.ConnectPacket) application.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subject != "" {
		return application.Continue
	}

	// a connect failing the checks leaves its results behind but does not
	// make the client the host under test
	ok := s.checkConnect(pk)
	if !s.checkDeath(pk.Will) || !ok {
		s.log.Info().Str("client_id", clientID).Msg("connect is not a valid host application connect")
		return application.Continue
	}

	s.subject = clientID
	s.state = HostStateConnected
	s.log.Info().Str("client_id", clientID).Msg("host application connected")
	return application.Continue
}

func (s *SessionEstablishment) checkConnect(pk *application.ConnectPacket) bool {
	clean := application.Check(pk.CleanSession, "(Clean session should be set to true.)")
	s.results.Set(IDHostCleanSession, clean)

	required := application.Check(pk.Will != nil, "(Will message is needed.)")
	s.results.Set(IDHostDeathRequired, required)

	return clean.Passed() && required.Passed()
}

func (s *SessionEstablishment) checkDeath(will *application.WillMessage) bool {
	if will == nil {
		return false
	}

	checks := map[string]application.Result{
		IDHostDeathTopic: application.Check(will.Topic == sparkplug.StateTopic(s.hostID),
			"(Death topic should be STATE/{host_application_id})"),
		IDHostDeathPayload: application.Check(len(will.Payload) > 0,
			"(Will message does not contain a payload with UTF-8 string \"OFFLINE\".)"),
		IDHostDeathQos: application.Check(will.QoS == application.AtLeastOnce,
			"(Will message must have QoS set to 1.)"),
		IDHostDeathRetain: application.Check(will.Retain,
			"(Will message must have the Retain Flag set to true.)"),
	}
	if len(will.Payload) > 0 {
		checks[IDHostDeathPayloadOff] = application.Check(string(will.Payload) == offlinePayload,
			"(Payload of will message needs to be a UTF-8 encoded string \"OFFLINE\".)")
	}
	return s.record(checks)
}

func (s *SessionEstablishment) OnDisconnect(clientID string, pk *application.DisconnectPacket) application.Status {
	return application.Continue
}

func (s *SessionEstablishment) OnSubscribe(clientID string, pk *application.SubscribePacket) application.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subject == "" || clientID != s.subject {
		return application.Continue
	}

	if s.state != HostStateConnected && s.state != HostStateSubscribed {
		s.results.Set(IDHostSubscription, application.Fail(
			"(Host application needs to subscribe after connect. Is in state: %s)", s.state))
		return application.Continue
	}

	for _, filter := range pk.TopicFilters() {
		s.subscriptions[filter] = true
	}
	s.checkSubscriptions(false)
	return application.Continue
}

// checkSubscriptions passes the subscription requirement once both the
// namespace and a STATE filter were seen. When final is set a missing
// filter is a failure.
func (s *SessionEstablishment) checkSubscriptions(final bool) {
	hasNamespace := s.subscriptions[namespaceFilter]
	hasState := false
	for filter := range s.subscriptions {
		if sparkplug.IsStateFilter(filter, s.hostID) {
			hasState = true
		}
	}

	switch {
	case hasNamespace && hasState:
		s.results.Set(IDHostSubscription, application.Pass())
		if s.state == HostStateConnected {
			s.state = HostStateSubscribed
		}
	case !final:
	case !hasNamespace:
		s.results.Set(IDHostSubscription, application.Fail("(Namespace topic filter is missing: %s)", namespaceFilter))
	default:
		s.results.Set(IDHostSubscription, application.Fail(
			"(STATE topic filter is missing. Possibilities: %s, STATE/+, STATE/#)", sparkplug.StateTopic(s.hostID)))
	}
}

func (s *SessionEstablishment) OnPublish(clientID string, pk *application.PublishPacket) application.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subject == "" || clientID != s.subject {
		return application.Continue
	}

	if s.state == HostStateConnected {
		s.checkSubscriptions(true)
	}
	if s.state != HostStateSubscribed {
		s.results.Set(IDHostStatePublish, application.Fail(
			"(Host application needs to publish after subscribe. Is in state: %s)", s.state))
		return application.Continue
	}

	if s.checkBirth(pk) {
		s.state = HostStatePublished
		s.results.Set(IDHostStatePublish, application.Pass())
		s.results.Set(IDComponentsHostState, application.Pass())
		s.log.Info().Str("client_id", clientID).Msg("host application published its birth")
	} else {
		s.results.Set(IDHostStatePublish, application.Fail("(Birth message is not valid.)"))
	}
	return application.Finished
}

func (s *SessionEstablishment) checkBirth(pk *application.PublishPacket) bool {
	checks := map[string]application.Result{
		IDHostBirthTopic: application.Check(pk.Topic == sparkplug.StateTopic(s.hostID),
			"(Birth topic should be STATE/{host_application_id})"),
		IDHostBirthPayload: application.Check(pk.HasPayload(),
			"(Birth message does not contain a payload with UTF-8 string \"ONLINE\".)"),
		IDHostBirthQos: application.Check(pk.QoS == application.AtLeastOnce,
			"(Birth message must have QoS set to 1.)"),
		IDHostBirthRetain: application.Check(pk.Retain,
			"(Birth message must have the Retain Flag set to true.)"),
	}
	if pk.HasPayload() {
		checks[IDHostBirthPayloadOnOff] = application.Check(string(pk.Payload) == onlinePayload,
			"(Payload of birth message needs to be a UTF-8 encoded string \"ONLINE\".)")
	}
	return s.record(checks)
}

func (s *SessionEstablishment) record(checks map[string]application.Result) bool {
	ok := true
	for id, res := range checks {
		s.results.Set(id, res)
		ok = ok && res.Passed()
	}
	return ok
}

func (s *SessionEstablishment) End() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results.FailUnset(fmt.Sprintf("(Host application reached state %s)", s.state))
}

var _ application.Scenario = &SessionEstablishment{}
