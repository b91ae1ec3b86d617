package adapters

import (
	"bytes"
	"errors"
	"fmt"
	"sparkplug-tck/application"
	"strings"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/rs/zerolog"
)

const (
	ReservedTopicPrefix = "SPARKPLUG_TCK/"
	ControlTopic        = ReservedTopicPrefix + "TEST_CONTROL"
	LogTopic            = ReservedTopicPrefix + "LOG"
	ResultTopic         = ReservedTopicPrefix + "RESULT"
)

// TestController is what the hook needs from application.Controller.
type TestController interface {
	Start(name string, params []string) error
	End()

	OnConnect(clientID string, pk *application.ConnectPacket)
	OnDisconnect(clientID string, pk *application.DisconnectPacket)
	OnSubscribe(clientID string, pk *application.SubscribePacket)
	OnPublish(clientID string, pk *application.PublishPacket)
}

type ConformanceHookParams struct {
	Controller TestController

	Log zerolog.Logger
}

// ConformanceHook observes every client of the embedded broker and feeds
// the protocol events to the test controller. It never alters or rejects
// traffic.
type ConformanceHook struct {
	mqtt.HookBase

	controller TestController
	publisher  Publisher

	log zerolog.Logger
}

func NewConformanceHook(params ConformanceHookParams) (*ConformanceHook, error) {
	if params.Controller == nil {
		return nil, fmt.Errorf("Controller is nil")
	}
	return &ConformanceHook{
		controller: params.Controller,
		log:        params.Log,
	}, nil
}

// SetPublisher sets where failures to start a test are published. It must
// be called before the broker serves clients.
func (h *ConformanceHook) SetPublisher(publisher Publisher) {
	h.publisher = publisher
}

func (h *ConformanceHook) ID() string {
	return "sparkplug-tck"
}

func (h *ConformanceHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnect,
		mqtt.OnDisconnect,
		mqtt.OnSubscribed,
		mqtt.OnPublish,
	}, []byte{b})
}

func (h *ConformanceHook) OnConnect(cl *mqtt.Client, pk packets.Packet) error {
	h.controller.OnConnect(cl.ID, connectPacket(pk))
	return nil
}

func (h *ConformanceHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	if cl.Net.Inline {
		return
	}
	h.controller.OnDisconnect(cl.ID, disconnectPacket(err))
}

func (h *ConformanceHook) OnSubscribed(cl *mqtt.Client, pk packets.Packet, reasonCodes []byte) {
	if cl.Net.Inline {
		return
	}

	sub := &application.SubscribePacket{}
	for _, f := range pk.Filters {
		sub.Subscriptions = append(sub.Subscriptions, application.Subscription{
			TopicFilter: f.Filter,
			QoS:         application.QoS(f.Qos),
		})
	}
	h.controller.OnSubscribe(cl.ID, sub)
}

func (h *ConformanceHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	switch {
	case pk.TopicName == ControlTopic:
		h.handleCommand(cl.ID, string(pk.Payload))
	case pk.TopicName == LogTopic:
		h.log.Info().Str("client_id", cl.ID).Msg(string(pk.Payload))
	case strings.HasPrefix(pk.TopicName, ReservedTopicPrefix):
	case cl.Net.Inline:
	default:
		h.controller.OnPublish(cl.ID, &application.PublishPacket{
			Topic:   pk.TopicName,
			Payload: pk.Payload,
			QoS:     application.QoS(pk.FixedHeader.Qos),
			Retain:  pk.FixedHeader.Retain,
		})
	}
	return pk, nil
}

func (h *ConformanceHook) handleCommand(clientID, payload string) {
	cmd, err := application.ParseCommand(payload)
	if err != nil {
		h.log.Error().Err(err).Str("client_id", clientID).Msg("ignoring control message")
		return
	}

	switch cmd.Kind {
	case application.CommandEndTest:
		h.controller.End()
	case application.CommandNewTest:
		if err := h.controller.Start(cmd.Name, cmd.Params); err != nil {
			h.reportStartFailure(cmd.Name, err)
		}
	}
}

// reportStartFailure tells the test driver a NEW_TEST was rejected, since
// no result report will follow it.
func (h *ConformanceHook) reportStartFailure(name string, err error) {
	if h.publisher == nil {
		return
	}
	msg := fmt.Sprintf("NEW_TEST %s failed: %v", name, err)
	if perr := h.publisher.Publish(LogTopic, []byte(msg), false, 1); perr != nil {
		h.log.Error().Err(perr).Str("scenario", name).Msg("failed to publish test start failure")
	}
}

func connectPacket(pk packets.Packet) *application.ConnectPacket {
	c := &application.ConnectPacket{
		ClientID:        pk.Connect.ClientIdentifier,
		ProtocolVersion: pk.ProtocolVersion,
		CleanSession:    pk.Connect.Clean,
		KeepAlive:       pk.Connect.Keepalive,
		Username:        string(pk.Connect.Username),
	}
	if pk.Connect.WillFlag {
		c.Will = &application.WillMessage{
			Topic:   pk.Connect.WillTopic,
			Payload: pk.Connect.WillPayload,
			QoS:     application.QoS(pk.Connect.WillQos),
			Retain:  pk.Connect.WillRetain,
		}
	}
	return c
}

func disconnectPacket(err error) *application.DisconnectPacket {
	var code packets.Code
	if err == nil || (errors.As(err, &code) && code.Code == packets.CodeSuccess.Code) {
		return &application.DisconnectPacket{}
	}
	return &application.DisconnectPacket{Reason: err.Error()}
}

var _ TestController = &application.Controller{}
