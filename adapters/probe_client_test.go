package adapters

import (
	"context"
	"fmt"
	"sparkplug-tck/probe"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestDialer(mClient *MockMQTTClient, captured **mqtt.ClientOptions) *PahoDialer {
	return NewPahoDialer(PahoDialerParams{
		OperationTimeout: 50 * time.Millisecond,
		// for testing
		NewClientFunc: func(options *mqtt.ClientOptions) mqtt.Client {
			if captured != nil {
				*captured = options
			}
			return mClient
		},
	})
}

func connected(t *testing.T, mClient *MockMQTTClient) probe.Client {
	mToken := &MockConnectToken{}
	mClient.On("Connect").Return(mToken).Once()
	mToken.On("ReturnCode").Return(byte(0)).Once()
	mToken.On("SessionPresent").Return(false).Once()
	mToken.On("Error").Return(nil).Once()

	client := newTestDialer(mClient, nil).NewClient(probe.ClientOptions{Host: "localhost", Port: 1883, ClientID: "test"})
	_, err := client.Connect(context.Background())
	require.NoError(t, err)
	return client
}

func TestPahoDialer_ClientOptions(t *testing.T) {
	mClient := &MockMQTTClient{}
	var opts *mqtt.ClientOptions

	newTestDialer(mClient, &opts).NewClient(probe.ClientOptions{
		Host:     "broker",
		Port:     8883,
		ClientID: "test",
		Username: "admin",
		Password: "password",
		Will:     &probe.Message{Topic: "will/topic", Payload: []byte("payload"), QoS: 1, Retain: true},
	})
	require.NotNil(t, opts)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://broker:8883", opts.Servers[0].String())
	assert.Equal(t, "test", opts.ClientID)
	assert.Equal(t, "admin", opts.Username)
	assert.Equal(t, "password", opts.Password)
	assert.True(t, opts.CleanSession)
	assert.False(t, opts.AutoReconnect)
	assert.False(t, opts.Order)
	assert.Equal(t, uint(4), opts.ProtocolVersion)

	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "will/topic", opts.WillTopic)
	assert.Equal(t, []byte("payload"), opts.WillPayload)
	assert.Equal(t, byte(1), opts.WillQos)
	assert.True(t, opts.WillRetained)
}

func TestPahoClient_Connect(t *testing.T) {
	mClient := &MockMQTTClient{}
	client := connected(t, mClient)

	assert.True(t, client.IsConnected())

	mClient.On("Disconnect", uint(0)).Once()
	client.Disconnect()
	client.Disconnect()
	assert.False(t, client.IsConnected())

	mClient.AssertExpectations(t)
}

func TestPahoClient_Connect_Refused(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockConnectToken{}

	mClient.On("Connect").Return(mToken).Once()
	mToken.On("ReturnCode").Return(byte(2)).Once()
	mToken.On("SessionPresent").Return(false).Once()

	client := newTestDialer(mClient, nil).NewClient(probe.ClientOptions{Host: "localhost", Port: 1883, ClientID: "#"})
	ack, err := client.Connect(context.Background())
	require.ErrorIs(t, err, probe.ErrConnectRefused)
	assert.Equal(t, byte(2), ack.ReturnCode)
	assert.False(t, client.IsConnected())

	// nothing to tear down
	client.Disconnect()

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestPahoClient_Connect_Error(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	mClient.On("Connect").Return(mToken).Once()
	mToken.On("Error").Return(fmt.Errorf("internal")).Twice()

	client := newTestDialer(mClient, nil).NewClient(probe.ClientOptions{Host: "localhost", Port: 1883})
	_, err := client.Connect(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, probe.ErrConnectRefused)
	assert.False(t, client.IsConnected())

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestPahoClient_Connect_Timeout(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{Pending: true}

	mClient.On("Connect").Return(mToken).Once()
	mClient.On("Disconnect", uint(0)).Return().Once()

	client := newTestDialer(mClient, nil).NewClient(probe.ClientOptions{Host: "localhost", Port: 1883})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Connect(ctx)
	require.ErrorIs(t, err, probe.ErrConnectTimeout)
	assert.False(t, client.IsConnected())

	ctx, cancel = context.WithCancel(context.Background())
	cancel()

	mClient.On("Connect").Return(mToken).Once()
	mClient.On("Disconnect", uint(0)).Return().Once()
	_, err = client.Connect(ctx)
	require.ErrorIs(t, err, context.Canceled)

	mClient.AssertExpectations(t)
}

func TestPahoClient_Connect_TimerStopsRetries(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{Pending: true}

	mClient.On("Connect").Return(mToken).Once()
	mClient.On("Disconnect", uint(0)).Return().Once()

	client := NewPahoDialer(PahoDialerParams{
		ConnectTimeout: 10 * time.Millisecond,
		NewClientFunc: func(options *mqtt.ClientOptions) mqtt.Client {
			return mClient
		},
	}).NewClient(probe.ClientOptions{Host: "localhost", Port: 1883})

	_, err := client.Connect(context.Background())
	require.ErrorIs(t, err, probe.ErrConnectTimeout)
	assert.False(t, client.IsConnected())

	mClient.AssertExpectations(t)
}

func TestPahoClient_Publish(t *testing.T) {
	mClient := &MockMQTTClient{}
	client := connected(t, mClient)

	mToken := &MockToken{}
	topic := "testTopic"
	qos := byte(1)
	retained := true
	payload := []byte("test_payload")

	mClient.On("Publish", topic, qos, retained, payload).Return(mToken).Once()
	mToken.On("Error").Return(nil).Once()

	err := client.Publish(context.Background(), topic, qos, retained, payload)
	require.NoError(t, err)

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestPahoClient_Publish_NotConnected(t *testing.T) {
	mClient := &MockMQTTClient{}

	client := newTestDialer(mClient, nil).NewClient(probe.ClientOptions{Host: "localhost", Port: 1883})

	err := client.Publish(context.Background(), "testTopic", 0, false, []byte("test_payload"))
	require.Equal(t, ErrMQTTNotConnected, err)

	mClient.AssertExpectations(t)
}

func TestPahoClient_Publish_Timeout(t *testing.T) {
	mClient := &MockMQTTClient{}
	client := connected(t, mClient)

	mToken := &MockToken{Pending: true}
	mClient.On("Publish", "testTopic", byte(1), false, []byte("x")).Return(mToken).Once()

	err := client.Publish(context.Background(), "testTopic", 1, false, []byte("x"))
	require.ErrorIs(t, err, probe.ErrOperationTimeout)

	mClient.AssertExpectations(t)
}

func TestPahoClient_Subscribe(t *testing.T) {
	mClient := &MockMQTTClient{}
	client := connected(t, mClient)

	mToken := &MockSubscribeToken{}
	var callback mqtt.MessageHandler
	mClient.On("Subscribe", "test/#", byte(1), mock.Anything).Run(func(args mock.Arguments) {
		callback = args.Get(2).(mqtt.MessageHandler)
	}).Return(mToken).Once()
	mToken.On("Error").Return(nil).Once()
	mToken.On("Result").Return(map[string]byte{"test/#": 1}).Once()

	var got []probe.Message
	err := client.Subscribe(context.Background(), "test/#", 1, func(msg probe.Message) {
		got = append(got, msg)
	})
	require.NoError(t, err)
	require.NotNil(t, callback)

	callback(mClient, &fakeMessage{topic: "test/a", payload: []byte("hello"), qos: 1, retained: true})
	require.Len(t, got, 1)
	assert.Equal(t, probe.Message{Topic: "test/a", Payload: []byte("hello"), QoS: 1, Retain: true}, got[0])

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestPahoClient_Subscribe_Rejected(t *testing.T) {
	mClient := &MockMQTTClient{}
	client := connected(t, mClient)

	mToken := &MockSubscribeToken{}
	mClient.On("Subscribe", "$share/g/t", byte(1), mock.Anything).Return(mToken).Once()
	mToken.On("Error").Return(nil).Once()
	mToken.On("Result").Return(map[string]byte{"$share/g/t": 0x80}).Once()

	err := client.Subscribe(context.Background(), "$share/g/t", 1, func(msg probe.Message) {})
	require.ErrorIs(t, err, probe.ErrSubscribeRejected)

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}
