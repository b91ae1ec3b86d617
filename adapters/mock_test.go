package adapters

import (
	"sparkplug-tck/application"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"
)

type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) IsConnectionOpen() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) Connect() mqtt.Token {
	return m.Called().Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return m.Called(topic, qos, retained, payload).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return m.Called(topic, qos, callback).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return m.Called(filters, callback).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	return m.Called(topics).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	m.Called(topic, callback)
}

func (m *MockMQTTClient) OptionsReader() mqtt.ClientOptionsReader {
	return m.Called().Get(0).(mqtt.ClientOptionsReader)
}

var _ mqtt.Client = &MockMQTTClient{}

// MockToken completes immediately unless Pending is set.
type MockToken struct {
	mock.Mock

	Pending bool
}

func (m *MockToken) Wait() bool {
	return m.Called().Bool(0)
}

func (m *MockToken) WaitTimeout(d time.Duration) bool {
	return m.Called(d).Bool(0)
}

func (m *MockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !m.Pending {
		close(ch)
	}
	return ch
}

func (m *MockToken) Error() error {
	return m.Called().Error(0)
}

var _ mqtt.Token = &MockToken{}

type MockConnectToken struct {
	MockToken
}

func (m *MockConnectToken) ReturnCode() byte {
	return m.Called().Get(0).(byte)
}

func (m *MockConnectToken) SessionPresent() bool {
	return m.Called().Bool(0)
}

type MockSubscribeToken struct {
	MockToken
}

func (m *MockSubscribeToken) Result() map[string]byte {
	return m.Called().Get(0).(map[string]byte)
}

type fakeMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (f *fakeMessage) Duplicate() bool   { return false }
func (f *fakeMessage) Qos() byte         { return f.qos }
func (f *fakeMessage) Retained() bool    { return f.retained }
func (f *fakeMessage) Topic() string     { return f.topic }
func (f *fakeMessage) MessageID() uint16 { return 1 }
func (f *fakeMessage) Payload() []byte   { return f.payload }
func (f *fakeMessage) Ack()              {}

var _ mqtt.Message = &fakeMessage{}

type MockController struct {
	mock.Mock
}

func (m *MockController) Start(name string, params []string) error {
	return m.Called(name, params).Error(0)
}

func (m *MockController) End() {
	m.Called()
}

func (m *MockController) OnConnect(clientID string, pk *application.ConnectPacket) {
	m.Called(clientID, pk)
}

func (m *MockController) OnDisconnect(clientID string, pk *application.DisconnectPacket) {
	m.Called(clientID, pk)
}

func (m *MockController) OnSubscribe(clientID string, pk *application.SubscribePacket) {
	m.Called(clientID, pk)
}

func (m *MockController) OnPublish(clientID string, pk *application.PublishPacket) {
	m.Called(clientID, pk)
}

var _ TestController = &MockController{}
