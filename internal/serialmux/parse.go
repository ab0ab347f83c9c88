package serialmux

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Message types sent by the robot base, one JSON object per line.
const (
	EventTypeScan     = "scan"
	EventTypeOdometry = "odom"
	EventTypeMap      = "map"
	EventTypeUnknown  = "unknown"
)

// ErrUnknownMessage is returned for well-formed lines with an unrecognised type.
var ErrUnknownMessage = errors.New("serialmux: unknown message type")

// ScanMessage is one laser sweep. Null ranges are readings with no return.
type ScanMessage struct {
	StampNanos int64      `json:"stamp_ns"`
	AngleMin   float64    `json:"angle_min"`
	AngleMax   float64    `json:"angle_max"`
	RangeMin   float64    `json:"range_min"`
	RangeMax   float64    `json:"range_max"`
	Ranges     []*float64 `json:"ranges"`
}

// Stamp returns the message timestamp.
func (m *ScanMessage) Stamp() time.Time {
	return time.Unix(0, m.StampNanos)
}

// RangeValues returns the ranges with missing readings as +Inf.
func (m *ScanMessage) RangeValues() []float64 {
	out := make([]float64, len(m.Ranges))
	for i, r := range m.Ranges {
		if r == nil {
			out[i] = math.Inf(1)
			continue
		}
		out[i] = *r
	}
	return out
}

// OdometryMessage is one odometry sample with a quaternion orientation.
type OdometryMessage struct {
	StampNanos int64   `json:"stamp_ns"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	QX         float64 `json:"qx"`
	QY         float64 `json:"qy"`
	QZ         float64 `json:"qz"`
	QW         float64 `json:"qw"`
}

// Stamp returns the message timestamp.
func (m *OdometryMessage) Stamp() time.Time {
	return time.Unix(0, m.StampNanos)
}

// MapMessage is a full occupancy snapshot from the local costmap, row-major.
type MapMessage struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []int8 `json:"data"`
}

// Message is a decoded line. Exactly one payload field is set.
type Message struct {
	Type     string
	Scan     *ScanMessage
	Odometry *OdometryMessage
	Map      *MapMessage
}

// ClassifyPayload returns the message type of a line without decoding the
// payload, or EventTypeUnknown.
func ClassifyPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, "{") {
		return EventTypeUnknown
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(payload), &head); err != nil {
		return EventTypeUnknown
	}
	switch head.Type {
	case EventTypeScan, EventTypeOdometry, EventTypeMap:
		return head.Type
	}
	return EventTypeUnknown
}

// ParseMessage decodes one line from the base.
func ParseMessage(line string) (Message, error) {
	line = strings.TrimSpace(line)
	msg := Message{Type: ClassifyPayload(line)}

	var err error
	switch msg.Type {
	case EventTypeScan:
		msg.Scan = &ScanMessage{}
		err = json.Unmarshal([]byte(line), msg.Scan)
	case EventTypeOdometry:
		msg.Odometry = &OdometryMessage{}
		err = json.Unmarshal([]byte(line), msg.Odometry)
	case EventTypeMap:
		msg.Map = &MapMessage{}
		err = json.Unmarshal([]byte(line), msg.Map)
	default:
		return msg, fmt.Errorf("%w: %.40q", ErrUnknownMessage, line)
	}
	if err != nil {
		return msg, fmt.Errorf("failed to decode %s message: %w", msg.Type, err)
	}
	return msg, nil
}

// EncodeScan renders a scan line.
func EncodeScan(m ScanMessage) ([]byte, error) {
	return encodeTyped(EventTypeScan, m)
}

// EncodeOdometry renders an odometry line.
func EncodeOdometry(m OdometryMessage) ([]byte, error) {
	return encodeTyped(EventTypeOdometry, m)
}

// EncodeMap renders a map update line.
func EncodeMap(m MapMessage) ([]byte, error) {
	return encodeTyped(EventTypeMap, m)
}

// RangePointers converts float ranges for a ScanMessage, mapping
// non-finite readings to null.
func RangePointers(ranges []float64) []*float64 {
	out := make([]*float64, len(ranges))
	for i := range ranges {
		if math.IsInf(ranges[i], 0) || math.IsNaN(ranges[i]) {
			continue
		}
		r := ranges[i]
		out[i] = &r
	}
	return out
}

func encodeTyped(kind string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", kind, err)
	}
	// Splice the type tag into the object so the wire form stays flat.
	line := make([]byte, 0, len(body)+len(kind)+12)
	line = append(line, `{"type":"`...)
	line = append(line, kind...)
	line = append(line, '"')
	if len(body) > 2 {
		line = append(line, ',')
	}
	line = append(line, body[1:]...)
	line = append(line, '\n')
	return line, nil
}
