package scenarios

import (
	"context"
	"fmt"
	"sparkplug-tck/application"
	"sparkplug-tck/sparkplug"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	IDReorderingParam   = "operational-behavior-host-reordering-param"
	IDReorderingStart   = "operational-behavior-host-reordering-start"
	IDReorderingRebirth = "operational-behavior-host-reordering-rebirth"
	IDReorderingSuccess = "operational-behavior-host-reordering-success"

	seqModulo = 256

	// a host has this many reorder timeouts after a gap to ask for a rebirth
	rebirthDeadlineFactor = 4
)

// MessageOrdering watches the sequence numbers of an edge node and the
// host application's reaction to a gap: either the missing message shows
// up within the reorder timeout, or the host asks for a rebirth once the
// timeout elapsed.
type MessageOrdering struct {
	hostID         string
	groupID        string
	edgeNodeID     string
	reorderTimeout time.Duration

	results *application.Results
	ender   application.Ender
	bg      *background

	mu         sync.Mutex
	hostClient string
	edgeClient string
	expected   int
	gapSeen    bool
	missing    int
	gapAt      time.Time
	arrived    bool
	finished   bool

	log zerolog.Logger
}

func NewMessageOrdering(deps Deps, ender application.Ender, params []string) (*MessageOrdering, error) {
	usage := "hostApplicationId groupId edgeNodeId deviceId reorderTimeoutMs"
	if err := application.RequireParams(MessageOrderingName, params, 5, usage); err != nil {
		return nil, err
	}
	ms, err := strconv.Atoi(params[4])
	if err != nil || ms <= 0 {
		return nil, &application.ConfigError{
			Scenario: MessageOrderingName,
			Err:      fmt.Errorf("invalid reorderTimeoutMs %q", params[4]),
		}
	}

	s := &MessageOrdering{
		hostID:         params[0],
		groupID:        params[1],
		edgeNodeID:     params[2],
		reorderTimeout: time.Duration(ms) * time.Millisecond,
		results: application.NewResults(
			IDReorderingParam, IDReorderingStart, IDReorderingRebirth, IDReorderingSuccess,
		),
		ender:    ender,
		expected: -1,
		log: deps.Log.With().
			Str("scenario", MessageOrderingName).
			Str("group_id", params[1]).
			Str("edge_node_id", params[2]).
			Str("device_id", params[3]).
			Logger(),
	}
	s.bg = newBackground(abandon(s, ender, s.log))
	s.results.Set(IDReorderingParam, application.NotYetImplemented("(reorder timeout setting is not observable on the wire)"))
	return s, nil
}

func (s *MessageOrdering) Name() string {
	return MessageOrderingName
}

func (s *MessageOrdering) Results() *application.Results {
	return s.results
}

func (s *MessageOrdering) OnConnect(clientID string, pk *application.ConnectPacket) application.Status {
	if pk.Will == nil {
		return application.Continue
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch pk.Will.Topic {
	case sparkplug.StateTopic(s.hostID):
		s.hostClient = clientID
		s.log.Info().Str("client_id", clientID).Msg("host application connected")
	case sparkplug.NodeTopic(s.groupID, sparkplug.NDEATH, s.edgeNodeID):
		s.edgeClient = clientID
		s.expected = -1
		s.log.Info().Str("client_id", clientID).Msg("edge node connected")
	}
	return application.Continue
}

func (s *MessageOrdering) OnDisconnect(clientID string, pk *application.DisconnectPacket) application.Status {
	return application.Continue
}

func (s *MessageOrdering) OnSubscribe(clientID string, pk *application.SubscribePacket) application.Status {
	return application.Continue
}

func (s *MessageOrdering) OnPublish(clientID string, pk *application.PublishPacket) application.Status {
	topic, err := sparkplug.ParseTopic(pk.Topic)
	if err != nil || topic.GroupID != s.groupID || topic.EdgeNodeID != s.edgeNodeID {
		return application.Continue
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return application.Continue
	}

	switch topic.Type {
	case sparkplug.NCMD:
		return s.onCommand(clientID, pk)
	case sparkplug.NDEATH, sparkplug.DCMD:
		return application.Continue
	}

	h, err := sparkplug.ReadHeader(pk.Payload)
	if err != nil || !h.HasSeq {
		s.log.Warn().Err(err).Str("topic", pk.Topic).Msg("edge node message without seq")
		return application.Continue
	}
	s.onSeq(topic.Type, int(h.Seq%seqModulo))
	return application.Continue
}

func (s *MessageOrdering) onSeq(typ sparkplug.MessageType, seq int) {
	log := s.log.With().Str("type", string(typ)).Int("seq", seq).Logger()

	switch {
	case typ == sparkplug.NBIRTH || s.expected < 0:
		s.expected = (seq + 1) % seqModulo
	case s.gapSeen && !s.arrived && seq == s.missing:
		s.arrived = true
		in := time.Since(s.gapAt)
		s.results.Set(IDReorderingSuccess, application.Check(in <= s.reorderTimeout,
			fmt.Sprintf("(missing message arrived after %s, reorder timeout is %s)", in, s.reorderTimeout)))
		log.Info().Dur("after", in).Msg("missing message arrived")
	case seq == s.expected:
		s.expected = (seq + 1) % seqModulo
	case !s.gapSeen:
		s.gapSeen = true
		s.missing = s.expected
		s.gapAt = time.Now()
		s.expected = (seq + 1) % seqModulo
		s.bg.After(rebirthDeadlineFactor*s.reorderTimeout, s.deadline)
		log.Info().Int("missing", s.missing).Msg("sequence gap, reorder timeout started")
	default:
		s.expected = (seq + 1) % seqModulo
	}
}

func (s *MessageOrdering) onCommand(clientID string, pk *application.PublishPacket) application.Status {
	if clientID == s.edgeClient || (s.hostClient != "" && clientID != s.hostClient) {
		return application.Continue
	}
	h, err := sparkplug.ReadHeader(pk.Payload)
	if err != nil || !h.RequestsRebirth() {
		return application.Continue
	}
	if !s.gapSeen {
		s.log.Debug().Str("client_id", clientID).Msg("rebirth requested before any sequence gap")
		return application.Continue
	}

	in := time.Since(s.gapAt)
	s.log.Info().Dur("after", in).Msg("rebirth requested")

	if s.arrived {
		s.results.Set(IDReorderingRebirth, application.Fail(
			"(rebirth requested %s after the gap although the missing message arrived)", in))
	} else {
		s.results.Set(IDReorderingStart, application.Check(in >= s.reorderTimeout,
			fmt.Sprintf("(rebirth requested %s after the gap, before the reorder timeout of %s elapsed)", in, s.reorderTimeout)))
		s.results.Set(IDReorderingRebirth, application.Pass())
	}
	s.finished = true
	return application.Finished
}

func (s *MessageOrdering) deadline(ctx context.Context) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	if !s.arrived {
		s.results.Set(IDReorderingRebirth, application.Fail(
			"(no rebirth requested within %s of the sequence gap)", rebirthDeadlineFactor*s.reorderTimeout))
	}
	s.mu.Unlock()

	s.ender.EndScenario(s)
}

func (s *MessageOrdering) End() {
	s.bg.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	reason := "(no sequence gap observed)"
	switch {
	case s.arrived:
		reason = "(missing message arrived, no reorder timeout to observe)"
	case s.gapSeen:
		reason = fmt.Sprintf("(missing message seq %d did not arrive)", s.missing)
	}
	s.results.FailUnset(reason)
}

var _ application.Scenario = &MessageOrdering{}
