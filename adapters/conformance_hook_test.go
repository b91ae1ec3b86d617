package adapters

import (
	"fmt"
	"io"
	"sparkplug-tck/application"
	"testing"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestHook(t *testing.T) (*ConformanceHook, *MockController) {
	mController := &MockController{}
	hook, err := NewConformanceHook(ConformanceHookParams{Controller: mController})
	require.NoError(t, err)
	return hook, mController
}

func TestNewConformanceHook(t *testing.T) {
	_, err := NewConformanceHook(ConformanceHookParams{})
	require.Error(t, err)

	hook, _ := newTestHook(t)
	assert.True(t, hook.Provides(mqtt.OnConnect))
	assert.True(t, hook.Provides(mqtt.OnPublish))
	assert.True(t, hook.Provides(mqtt.OnSubscribed))
	assert.True(t, hook.Provides(mqtt.OnDisconnect))
	assert.False(t, hook.Provides(mqtt.OnConnectAuthenticate))
}

func TestConformanceHook_OnConnect(t *testing.T) {
	hook, mController := newTestHook(t)

	pk := packets.Packet{
		ProtocolVersion: 4,
		Connect: packets.ConnectParams{
			ClientIdentifier: "host",
			Clean:            true,
			Keepalive:        30,
			Username:         []byte("admin"),
			WillFlag:         true,
			WillTopic:        "STATE/host",
			WillPayload:      []byte("OFFLINE"),
			WillQos:          1,
			WillRetain:       true,
		},
	}

	mController.On("OnConnect", "host", &application.ConnectPacket{
		ClientID:        "host",
		ProtocolVersion: 4,
		CleanSession:    true,
		KeepAlive:       30,
		Username:        "admin",
		Will: &application.WillMessage{
			Topic:   "STATE/host",
			Payload: []byte("OFFLINE"),
			QoS:     application.AtLeastOnce,
			Retain:  true,
		},
	}).Once()

	require.NoError(t, hook.OnConnect(&mqtt.Client{ID: "host"}, pk))

	mController.On("OnConnect", "edge", mock.MatchedBy(func(pk *application.ConnectPacket) bool {
		return pk.Will == nil
	})).Once()

	require.NoError(t, hook.OnConnect(&mqtt.Client{ID: "edge"}, packets.Packet{
		Connect: packets.ConnectParams{ClientIdentifier: "edge"},
	}))

	mController.AssertExpectations(t)
}

func TestConformanceHook_OnSubscribed(t *testing.T) {
	hook, mController := newTestHook(t)

	mController.On("OnSubscribe", "host", &application.SubscribePacket{
		Subscriptions: []application.Subscription{
			{TopicFilter: "spBv1.0/#", QoS: application.AtMostOnce},
			{TopicFilter: "STATE/+", QoS: application.AtLeastOnce},
		},
	}).Once()

	hook.OnSubscribed(&mqtt.Client{ID: "host"}, packets.Packet{
		Filters: packets.Subscriptions{
			{Filter: "spBv1.0/#", Qos: 0},
			{Filter: "STATE/+", Qos: 1},
		},
	}, []byte{0, 1})

	mController.AssertExpectations(t)
}

func TestConformanceHook_OnDisconnect(t *testing.T) {
	hook, mController := newTestHook(t)

	mController.On("OnDisconnect", "clean", &application.DisconnectPacket{}).Once()
	mController.On("OnDisconnect", "dropped", &application.DisconnectPacket{Reason: io.EOF.Error()}).Once()

	hook.OnDisconnect(&mqtt.Client{ID: "clean"}, nil, false)
	hook.OnDisconnect(&mqtt.Client{ID: "dropped"}, io.EOF, false)

	inline := &mqtt.Client{ID: "inline"}
	inline.Net.Inline = true
	hook.OnDisconnect(inline, nil, false)

	mController.AssertExpectations(t)
}

func TestConformanceHook_OnPublish(t *testing.T) {
	hook, mController := newTestHook(t)

	pk := packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Publish, Qos: 1, Retain: true},
		TopicName:   "STATE/host",
		Payload:     []byte("ONLINE"),
	}

	mController.On("OnPublish", "host", &application.PublishPacket{
		Topic:   "STATE/host",
		Payload: []byte("ONLINE"),
		QoS:     application.AtLeastOnce,
		Retain:  true,
	}).Once()

	out, err := hook.OnPublish(&mqtt.Client{ID: "host"}, pk)
	require.NoError(t, err)
	assert.Equal(t, pk, out)

	mController.AssertExpectations(t)
}

func TestConformanceHook_ReservedTopics(t *testing.T) {
	hook, mController := newTestHook(t)
	cl := &mqtt.Client{ID: "driver"}

	mController.On("Start", "SessionEstablishmentTest", []string{"host"}).Return(nil).Once()
	mController.On("Start", "Unknown", []string{}).Return(fmt.Errorf("unknown")).Once()
	mController.On("End").Once()

	publish := func(topic, payload string) {
		_, err := hook.OnPublish(cl, packets.Packet{TopicName: topic, Payload: []byte(payload)})
		require.NoError(t, err)
	}

	publish(ControlTopic, "NEW_TEST host SessionEstablishmentTest host")
	publish(ControlTopic, "NEW_TEST Unknown")
	publish(ControlTopic, "garbage")
	publish(ControlTopic, "END_TEST")
	publish(LogTopic, "starting edge node")
	publish(ResultTopic, "OVERALL: PASS;")

	inline := &mqtt.Client{ID: "inline"}
	inline.Net.Inline = true
	_, err := hook.OnPublish(inline, packets.Packet{TopicName: "spBv1.0/g/NBIRTH/e"})
	require.NoError(t, err)

	mController.AssertExpectations(t)
	mController.AssertNotCalled(t, "OnPublish", mock.Anything, mock.Anything)
}

func TestConformanceHook_StartFailureIsPublished(t *testing.T) {
	hook, mController := newTestHook(t)
	cl := &mqtt.Client{ID: "driver"}

	startErr := fmt.Errorf("unknown test")
	mController.On("Start", "Unknown", []string{"x"}).Return(startErr).Once()
	mController.On("Start", "SessionEstablishmentTest", []string{"host"}).Return(nil).Once()

	// without a publisher the failure is only logged
	_, err := hook.OnPublish(cl, packets.Packet{TopicName: ControlTopic, Payload: []byte("NEW_TEST Unknown x")})
	require.NoError(t, err)

	mPublisher := &MockPublisher{}
	hook.SetPublisher(mPublisher)
	mPublisher.On("Publish", LogTopic, []byte("NEW_TEST Unknown failed: unknown test"), false, byte(1)).
		Return(fmt.Errorf("broker closed")).Once()
	mController.On("Start", "Unknown", []string{"x"}).Return(startErr).Once()

	_, err = hook.OnPublish(cl, packets.Packet{TopicName: ControlTopic, Payload: []byte("NEW_TEST Unknown x")})
	require.NoError(t, err)
	_, err = hook.OnPublish(cl, packets.Packet{TopicName: ControlTopic, Payload: []byte("NEW_TEST host SessionEstablishmentTest host")})
	require.NoError(t, err)

	mController.AssertExpectations(t)
	mPublisher.AssertExpectations(t)
}
