package sparkplug

import (
	"fmt"
	"strings"
)

const (
	Namespace = "spBv1.0"

	// StatePrefix starts the topics host applications publish their
	// birth and death certificates on.
	StatePrefix = "STATE/"

	// CertificatesPrefix is prepended by Sparkplug aware brokers to the
	// topics of the NBIRTH and DBIRTH messages they store.
	CertificatesPrefix = "$sparkplug/certificates/"

	// RebirthMetric is the node control metric a host application sets to
	// request a new NBIRTH.
	RebirthMetric = "Node Control/Rebirth"
)

type MessageType string

const (
	NBIRTH MessageType = "NBIRTH"
	NDEATH MessageType = "NDEATH"
	DBIRTH MessageType = "DBIRTH"
	DDEATH MessageType = "DDEATH"
	NDATA  MessageType = "NDATA"
	DDATA  MessageType = "DDATA"
	NCMD   MessageType = "NCMD"
	DCMD   MessageType = "DCMD"
)

func (t MessageType) Valid() bool {
	switch t {
	case NBIRTH, NDEATH, DBIRTH, DDEATH, NDATA, DDATA, NCMD, DCMD:
		return true
	}
	return false
}

// DeviceLevel reports whether messages of this type carry a device id.
func (t MessageType) DeviceLevel() bool {
	switch t {
	case DBIRTH, DDEATH, DDATA, DCMD:
		return true
	}
	return false
}

// Topic is a parsed Sparkplug B topic. Device is empty for node level
// message types.
type Topic struct {
	GroupID    string
	Type       MessageType
	EdgeNodeID string
	DeviceID   string
}

func (t Topic) String() string {
	s := fmt.Sprintf("%s/%s/%s/%s", Namespace, t.GroupID, t.Type, t.EdgeNodeID)
	if t.DeviceID != "" {
		s += "/" + t.DeviceID
	}
	return s
}

// ParseTopic parses spBv1.0/group/TYPE/edge[/device]. A leading
// CertificatesPrefix is accepted and stripped.
func ParseTopic(topic string) (Topic, error) {
	topic = strings.TrimPrefix(topic, CertificatesPrefix)

	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[0] != Namespace {
		return Topic{}, fmt.Errorf("not a sparkplug topic: %q", topic)
	}

	t := Topic{GroupID: parts[1], Type: MessageType(parts[2]), EdgeNodeID: parts[3]}
	if !t.Type.Valid() {
		return Topic{}, fmt.Errorf("unknown message type %q in topic %q", parts[2], topic)
	}
	if t.GroupID == "" || t.EdgeNodeID == "" {
		return Topic{}, fmt.Errorf("empty id in topic %q", topic)
	}

	switch {
	case t.Type.DeviceLevel() && len(parts) == 5 && parts[4] != "":
		t.DeviceID = parts[4]
	case !t.Type.DeviceLevel() && len(parts) == 4:
	default:
		return Topic{}, fmt.Errorf("wrong number of levels for %s in topic %q", t.Type, topic)
	}
	return t, nil
}

func NodeTopic(groupID string, typ MessageType, edgeNodeID string) string {
	return Topic{GroupID: groupID, Type: typ, EdgeNodeID: edgeNodeID}.String()
}

func StateTopic(hostID string) string {
	return StatePrefix + hostID
}

// IsStateFilter reports whether a subscription filter covers the STATE
// topic of hostID.
func IsStateFilter(filter, hostID string) bool {
	switch filter {
	case StateTopic(hostID), StatePrefix + "+", StatePrefix + "#":
		return true
	}
	return false
}
