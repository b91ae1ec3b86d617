package scenarios

import (
	"context"
	"fmt"
	"sparkplug-tck/application"
	"sparkplug-tck/probe"
	"sparkplug-tck/sparkplug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	IDAwareBasic           = "conformance-mqtt-aware-basic"
	IDAwareStore           = "conformance-mqtt-aware-store"
	IDAwareNBirthTopic     = "conformance-mqtt-aware-nbirth-mqtt-topic"
	IDAwareNBirthRetain    = "conformance-mqtt-aware-nbirth-mqtt-retain"
	IDAwareDBirthTopic     = "conformance-mqtt-aware-dbirth-mqtt-topic"
	IDAwareDBirthRetain    = "conformance-mqtt-aware-dbirth-mqtt-retain"
	IDAwareNDeathTimestamp = "conformance-mqtt-aware-ndeath-timestamp"
)

// AwareBroker checks that the broker under test stores NBIRTH and DBIRTH
// messages of an edge node on the $sparkplug/certificates topics.
type AwareBroker struct {
	groupID    string
	edgeNodeID string
	results    *application.Results
	prober     Prober
	ender      application.Ender
	bg         *background

	subscriber probe.Client
	newClient  func() probe.Client
	timeout    time.Duration

	mu            sync.Mutex
	basicStarted  bool
	basicChecked  bool
	nbirthChecked bool
	dbirthChecked bool
	ndeathChecked bool
	edgeConnected time.Time

	log zerolog.Logger
}

func NewAwareBroker(deps Deps, ender application.Ender, params []string) (*AwareBroker, error) {
	if err := application.RequireParams(AwareBrokerName, params, 4, "host port groupId edgeNodeId"); err != nil {
		return nil, err
	}
	port, err := parsePort(AwareBrokerName, params[1])
	if err != nil {
		return nil, err
	}
	if deps.Probe.Dialer == nil {
		return nil, &application.ConfigError{Scenario: AwareBrokerName, Err: fmt.Errorf("probe Dialer is nil")}
	}
	prober, err := deps.prober(params[0], port)
	if err != nil {
		return nil, err
	}

	timeout := deps.Probe.Timeout
	if timeout == 0 {
		timeout = probe.DefaultTimeout
	}

	s := &AwareBroker{
		groupID:    params[2],
		edgeNodeID: params[3],
		results: application.NewResults(
			IDAwareBasic, IDAwareStore, IDAwareNBirthTopic, IDAwareNBirthRetain,
			IDAwareDBirthTopic, IDAwareDBirthRetain, IDAwareNDeathTimestamp,
		),
		prober:  prober,
		ender:   ender,
		timeout: timeout,
		log: deps.Log.With().
			Str("scenario", AwareBrokerName).
			Str("group_id", params[2]).
			Str("edge_node_id", params[3]).
			Logger(),
	}
	s.newClient = func() probe.Client {
		return deps.Probe.Dialer.NewClient(probe.ClientOptions{
			Host:      params[0],
			Port:      port,
			ClientID:  "tck-aware-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
			Username:  deps.Probe.Username,
			Password:  deps.Probe.Password,
			TLSConfig: deps.Probe.TLSConfig,
		})
	}

	s.bg = newBackground(abandon(s, ender, s.log))

	s.bg.Go(s.subscribeCertificates)
	return s, nil
}

// CertificatesFilter is the filter under which an aware broker republishes
// the births of the group.
func (s *AwareBroker) CertificatesFilter() string {
	return sparkplug.CertificatesPrefix + sparkplug.Namespace + "/" + s.groupID + "/#"
}

func (s *AwareBroker) subscribeCertificates(ctx context.Context) {
	c := s.newClient()

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := c.Connect(cctx); err != nil {
		s.log.Error().Err(err).Msg("certificates subscriber failed to connect")
		return
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		c.Disconnect()
		return
	}
	s.subscriber = c
	s.mu.Unlock()

	filter := s.CertificatesFilter()
	handler := func(msg probe.Message) {
		s.bg.Guard(func() {
			s.onCertificate(msg)
		})
	}
	if err := c.Subscribe(cctx, filter, probe.AtLeastOnce, handler); err != nil {
		s.log.Error().Err(err).Str("filter", filter).Msg("certificates subscribe failed")
		return
	}
	s.log.Info().Str("filter", filter).Msg("subscribed to certificates")
}

func (s *AwareBroker) onCertificate(msg probe.Message) {
	s.log.Debug().Str("topic", msg.Topic).Bool("retain", msg.Retain).Msg("certificate received")

	topic, err := sparkplug.ParseTopic(msg.Topic)
	if err != nil || topic.GroupID != s.groupID || topic.EdgeNodeID != s.edgeNodeID {
		return
	}

	if s.recordCertificate(topic.Type, msg.Retain) {
		s.ender.EndScenario(s)
	}
}

// recordCertificate checks one certificate delivery and reports whether
// every check of the scenario is done.
func (s *AwareBroker) recordCertificate(typ sparkplug.MessageType, retain bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch typ {
	case sparkplug.NBIRTH:
		s.results.Set(IDAwareNBirthTopic, application.Pass())
		s.results.Set(IDAwareNBirthRetain, application.Check(retain, "(NBIRTH certificate is not retained)"))
		s.nbirthChecked = true
	case sparkplug.DBIRTH:
		s.results.Set(IDAwareDBirthTopic, application.Pass())
		s.results.Set(IDAwareDBirthRetain, application.Check(retain, "(DBIRTH certificate is not retained)"))
		s.dbirthChecked = true
	default:
		return false
	}
	if s.nbirthChecked && s.dbirthChecked {
		stored := s.results.Get(IDAwareNBirthTopic).Passed() && s.results.Get(IDAwareDBirthTopic).Passed()
		s.results.Set(IDAwareStore, application.Check(stored, "(NBIRTH and DBIRTH certificates were not both stored)"))
	}
	return s.doneLocked()
}

func (s *AwareBroker) doneLocked() bool {
	return s.basicChecked && s.nbirthChecked && s.dbirthChecked && s.ndeathChecked
}

func (s *AwareBroker) Name() string {
	return AwareBrokerName
}

func (s *AwareBroker) Results() *application.Results {
	return s.results
}

func (s *AwareBroker) OnConnect(clientID string, pk *application.ConnectPacket) application.Status {
	if pk.Will == nil || pk.Will.Topic != sparkplug.NodeTopic(s.groupID, sparkplug.NDEATH, s.edgeNodeID) {
		return application.Continue
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.edgeConnected = time.Now()
	s.log.Info().Str("client_id", clientID).Msg("edge node connected")
	return application.Continue
}

func (s *AwareBroker) OnDisconnect(clientID string, pk *application.DisconnectPacket) application.Status {
	return application.Continue
}

func (s *AwareBroker) OnSubscribe(clientID string, pk *application.SubscribePacket) application.Status {
	return application.Continue
}

func (s *AwareBroker) OnPublish(clientID string, pk *application.PublishPacket) application.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.basicStarted {
		s.basicStarted = true
		s.bg.Go(s.checkBasic)
	}

	topic, err := sparkplug.ParseTopic(pk.Topic)
	if err == nil && topic.Type == sparkplug.NDEATH && topic.GroupID == s.groupID && topic.EdgeNodeID == s.edgeNodeID {
		s.checkNDeath(pk)
	}

	if s.doneLocked() {
		return application.Finished
	}
	return application.Continue
}

// checkNDeath requires the NDEATH payload timestamp to be later than the
// edge node's connect.
func (s *AwareBroker) checkNDeath(pk *application.PublishPacket) {
	s.ndeathChecked = true

	if s.edgeConnected.IsZero() {
		s.results.Set(IDAwareNDeathTimestamp, application.Fail("(edge node connect was not observed)"))
		return
	}
	h, err := sparkplug.ReadHeader(pk.Payload)
	if err != nil {
		s.results.Set(IDAwareNDeathTimestamp, application.Fail("(NDEATH payload is not readable: %v)", err))
		return
	}
	if !h.HasTimestamp {
		s.results.Set(IDAwareNDeathTimestamp, application.Fail("(NDEATH payload has no timestamp)"))
		return
	}
	connected := uint64(s.edgeConnected.UnixMilli())
	s.results.Set(IDAwareNDeathTimestamp, application.Check(h.Timestamp > connected,
		fmt.Sprintf("(NDEATH timestamp %d is not after the edge node connect at %d)", h.Timestamp, connected)))
}

func (s *AwareBroker) checkBasic(ctx context.Context) {
	c := checkCompliance(ctx, s.prober, s.log)

	s.mu.Lock()
	s.results.Set(IDAwareBasic, application.Check(c.Passed(), fmt.Sprintf(
		"(qos0: %s, qos1: %s, will: %s, retained: %s)", c.Qos0, c.Qos1, c.Will, c.Retained)))
	s.basicChecked = true
	done := s.doneLocked()
	s.mu.Unlock()

	if done {
		s.ender.EndScenario(s)
	}
}

func (s *AwareBroker) End() {
	s.bg.Stop()

	s.mu.Lock()
	c := s.subscriber
	s.subscriber = nil
	s.mu.Unlock()
	if c != nil {
		c.Disconnect()
	}

	s.results.FailUnset("(not observed before the test ended)")
}

var _ application.Scenario = &AwareBroker{}
