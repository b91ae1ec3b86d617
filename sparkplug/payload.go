package sparkplug

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the Sparkplug B Payload and Payload.Metric messages.
const (
	payloadTimestampField = 1
	payloadMetricsField   = 2
	payloadSeqField       = 3

	metricNameField         = 1
	metricAliasField        = 2
	metricBooleanValueField = 14
)

type Metric struct {
	Name  string
	Alias uint64

	// Boolean is set only when the metric carried a boolean value.
	Boolean *bool
}

// Header holds the parts of a Sparkplug B payload needed to follow a
// session: the payload timestamp, the sequence number and the metrics by
// name. HasSeq and HasTimestamp tell absent fields from zero values.
type Header struct {
	Timestamp    uint64
	HasTimestamp bool
	Seq          uint64
	HasSeq       bool
	Metrics      []Metric
}

func (h Header) Metric(name string) (Metric, bool) {
	for _, m := range h.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

// RequestsRebirth reports whether the payload sets the node control
// rebirth metric to true.
func (h Header) RequestsRebirth() bool {
	m, ok := h.Metric(RebirthMetric)
	return ok && m.Boolean != nil && *m.Boolean
}

// ReadHeader walks a Sparkplug B protobuf payload with protowire and
// skips every field it does not need.
func ReadHeader(b []byte) (Header, error) {
	var h Header
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return h, fmt.Errorf("payload tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == payloadTimestampField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return h, fmt.Errorf("payload timestamp: %w", protowire.ParseError(n))
			}
			h.Timestamp, h.HasTimestamp = v, true
			b = b[n:]
		case num == payloadSeqField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return h, fmt.Errorf("payload seq: %w", protowire.ParseError(n))
			}
			h.Seq, h.HasSeq = v, true
			b = b[n:]
		case num == payloadMetricsField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return h, fmt.Errorf("payload metric: %w", protowire.ParseError(n))
			}
			m, err := readMetric(v)
			if err != nil {
				return h, err
			}
			h.Metrics = append(h.Metrics, m)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return h, fmt.Errorf("payload field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return h, nil
}

func readMetric(b []byte) (Metric, error) {
	var m Metric
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("metric tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == metricNameField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("metric name: %w", protowire.ParseError(n))
			}
			m.Name = string(v)
			b = b[n:]
		case num == metricAliasField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("metric alias: %w", protowire.ParseError(n))
			}
			m.Alias = v
			b = b[n:]
		case num == metricBooleanValueField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("metric value: %w", protowire.ParseError(n))
			}
			val := protowire.DecodeBool(v)
			m.Boolean = &val
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, fmt.Errorf("metric field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return m, nil
}

// AppendHeader encodes h in Sparkplug B wire format. Only the fields that
// ReadHeader understands are written.
func AppendHeader(b []byte, h Header) []byte {
	if h.HasTimestamp {
		b = protowire.AppendTag(b, payloadTimestampField, protowire.VarintType)
		b = protowire.AppendVarint(b, h.Timestamp)
	}
	for _, m := range h.Metrics {
		var mb []byte
		if m.Name != "" {
			mb = protowire.AppendTag(mb, metricNameField, protowire.BytesType)
			mb = protowire.AppendString(mb, m.Name)
		}
		if m.Alias != 0 {
			mb = protowire.AppendTag(mb, metricAliasField, protowire.VarintType)
			mb = protowire.AppendVarint(mb, m.Alias)
		}
		if m.Boolean != nil {
			mb = protowire.AppendTag(mb, metricBooleanValueField, protowire.VarintType)
			mb = protowire.AppendVarint(mb, protowire.EncodeBool(*m.Boolean))
		}
		b = protowire.AppendTag(b, payloadMetricsField, protowire.BytesType)
		b = protowire.AppendBytes(b, mb)
	}
	if h.HasSeq {
		b = protowire.AppendTag(b, payloadSeqField, protowire.VarintType)
		b = protowire.AppendVarint(b, h.Seq)
	}
	return b
}
