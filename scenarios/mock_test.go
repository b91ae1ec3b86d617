package scenarios

import (
	"context"
	"sparkplug-tck/application"
	"sparkplug-tck/probe"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProber struct {
	mock.Mock
}

func (m *MockProber) TestQos(ctx context.Context, qos byte, attempts int) probe.QosOutcome {
	args := m.Called(ctx, qos, attempts)
	return args.Get(0).(probe.QosOutcome)
}

func (m *MockProber) TestRetain(ctx context.Context) probe.Result {
	args := m.Called(ctx)
	return args.Get(0).(probe.Result)
}

func (m *MockProber) TestConnectWithWill(ctx context.Context) probe.WillOutcome {
	args := m.Called(ctx)
	return args.Get(0).(probe.WillOutcome)
}

func (m *MockProber) TestWildcardSubscriptions(ctx context.Context) probe.WildcardOutcome {
	args := m.Called(ctx)
	return args.Get(0).(probe.WildcardOutcome)
}

func (m *MockProber) TestSharedSubscription(ctx context.Context) probe.Result {
	args := m.Called(ctx)
	return args.Get(0).(probe.Result)
}

func (m *MockProber) TestPayloadSize(ctx context.Context, maxSize int) probe.LengthOutcome {
	args := m.Called(ctx, maxSize)
	return args.Get(0).(probe.LengthOutcome)
}

func (m *MockProber) TestTopicLength(ctx context.Context) probe.LengthOutcome {
	args := m.Called(ctx)
	return args.Get(0).(probe.LengthOutcome)
}

func (m *MockProber) TestClientIdLength(ctx context.Context) probe.LengthOutcome {
	args := m.Called(ctx)
	return args.Get(0).(probe.LengthOutcome)
}

func (m *MockProber) TestAsciiCharsInClientId(ctx context.Context) probe.AsciiOutcome {
	args := m.Called(ctx)
	return args.Get(0).(probe.AsciiOutcome)
}

var _ Prober = &MockProber{}

type MockClient struct {
	mock.Mock
}

func (m *MockClient) Connect(ctx context.Context) (probe.ConnAck, error) {
	args := m.Called(ctx)
	return args.Get(0).(probe.ConnAck), args.Error(1)
}

func (m *MockClient) Subscribe(ctx context.Context, filter string, qos byte, handler probe.MessageHandler) error {
	args := m.Called(ctx, filter, qos, handler)
	return args.Error(0)
}

func (m *MockClient) Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
	args := m.Called(ctx, topic, qos, retain, payload)
	return args.Error(0)
}

func (m *MockClient) Disconnect() {
	m.Called()
}

func (m *MockClient) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

var _ probe.Client = &MockClient{}

type MockDialer struct {
	mock.Mock
}

func (m *MockDialer) NewClient(opts probe.ClientOptions) probe.Client {
	args := m.Called(opts)
	return args.Get(0).(probe.Client)
}

var _ probe.Dialer = &MockDialer{}

// chanEnder records self-termination requests.
type chanEnder chan application.Scenario

func newChanEnder() chanEnder {
	return make(chanEnder, 4)
}

func (e chanEnder) EndScenario(s application.Scenario) {
	e <- s
}

func (e chanEnder) wait(t *testing.T) application.Scenario {
	t.Helper()
	select {
	case s := <-e:
		return s
	case <-time.After(5 * time.Second):
		require.FailNow(t, "scenario did not end itself")
		return nil
	}
}

func testDeps(prober Prober) Deps {
	deps := Deps{
		NewProber: func(params probe.EngineParams) (Prober, error) {
			return prober, nil
		},
		StartDelay: time.Millisecond,
		Log:        zerolog.Nop(),
	}
	deps.EnsureDefaults()
	return deps
}

func compliantProber(m *MockProber) {
	m.On("TestQos", mock.Anything, probe.AtMostOnce, 3).
		Return(probe.QosOutcome{QoS: probe.AtMostOnce, Attempts: 3, Received: 3, Result: probe.ResultOK}).Once()
	m.On("TestQos", mock.Anything, probe.AtLeastOnce, 3).
		Return(probe.QosOutcome{QoS: probe.AtLeastOnce, Attempts: 3, Received: 3, Result: probe.ResultOK}).Once()
	m.On("TestConnectWithWill", mock.Anything).Return(probe.WillOutcome{}).Once()
	m.On("TestRetain", mock.Anything).Return(probe.ResultOK).Once()
}

func resultsByID(r *application.Results) map[string]application.Result {
	out := map[string]application.Result{}
	for _, e := range r.Entries() {
		out[e.ID] = e.Result
	}
	return out
}
