package probe

import (
	"fmt"
	"strings"
	"time"
)

// Result is the typed outcome of a single probe round trip.
type Result string

const (
	ResultOK              Result = "OK"
	ResultConnectFailed   Result = "CONNECT_FAILED"
	ResultSubscribeFailed Result = "SUBSCRIBE_FAILED"
	ResultPublishFailed   Result = "PUBLISH_FAILED"
	ResultTimeOut         Result = "TIME_OUT"
	ResultInterrupted     Result = "INTERRUPTED"
	ResultWrongPayload    Result = "WRONG_PAYLOAD"
	ResultNotShared       Result = "NOT_SHARED"
)

type QosOutcome struct {
	QoS      byte
	Attempts int
	Received int
	Elapsed  time.Duration
	Result   Result
}

// Complete reports whether every published message was delivered with the
// requested QoS.
func (o QosOutcome) Complete() bool {
	return o.Received == o.Attempts
}

type WillOutcome struct {
	ConnAck ConnAck
	Err     error
}

// Accepted reports whether the broker accepted the connection carrying a
// will message.
func (o WillOutcome) Accepted() bool {
	return o.Err == nil && o.ConnAck.ReturnCode == 0
}

type WildcardOutcome struct {
	SingleLevel Result
	MultiLevel  Result
}

func (o WildcardOutcome) OK() bool {
	return o.SingleLevel == ResultOK && o.MultiLevel == ResultOK
}

// Attempt records one size tried by a length probe. ReturnCode is only
// meaningful for client identifier probes.
type Attempt struct {
	Size       int
	Result     Result
	ReturnCode byte
}

type LengthOutcome struct {
	// Max is the largest size confirmed to work, -1 when none did.
	Max      int
	Attempts []Attempt
}

func (o LengthOutcome) String() string {
	parts := make([]string, 0, len(o.Attempts))
	for _, a := range o.Attempts {
		parts = append(parts, fmt.Sprintf("%d=%s", a.Size, a.Result))
	}
	return fmt.Sprintf("max %d [%s]", o.Max, strings.Join(parts, " "))
}

type CharAttempt struct {
	Char       rune
	Result     Result
	ReturnCode byte
}

type AsciiOutcome struct {
	AllSupported bool
	Unsupported  []CharAttempt
}

func (o AsciiOutcome) String() string {
	if o.AllSupported {
		return "all supported"
	}
	parts := make([]string, 0, len(o.Unsupported))
	for _, c := range o.Unsupported {
		parts = append(parts, fmt.Sprintf("'%c'=%s(%d)", c.Char, c.Result, c.ReturnCode))
	}
	return "unsupported: " + strings.Join(parts, " ")
}
