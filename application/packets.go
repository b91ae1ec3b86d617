package application

type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
)

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "AT_MOST_ONCE"
	case AtLeastOnce:
		return "AT_LEAST_ONCE"
	case ExactlyOnce:
		return "EXACTLY_ONCE"
	default:
		return "INVALID"
	}
}

type WillMessage struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool
}

type ConnectPacket struct {
	ClientID        string
	ProtocolVersion byte
	CleanSession    bool
	KeepAlive       uint16
	Username        string
	Will            *WillMessage
}

type DisconnectPacket struct {
	// Reason is empty for a clean DISCONNECT.
	Reason string
}

type Subscription struct {
	TopicFilter string
	QoS         QoS
}

type SubscribePacket struct {
	Subscriptions []Subscription
}

func (p *SubscribePacket) TopicFilters() []string {
	filters := make([]string, 0, len(p.Subscriptions))
	for _, s := range p.Subscriptions {
		filters = append(filters, s.TopicFilter)
	}
	return filters
}

type PublishPacket struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool
}

// HasPayload reports whether the publish carried any payload bytes.
func (p *PublishPacket) HasPayload() bool {
	return len(p.Payload) > 0
}
