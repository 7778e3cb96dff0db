package sensor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const microsecondsPerSecond = 1_000_000

var ErrDecode = errors.New("malformed sensor message")

// Sample is a single timestamped 3-axis reading. It is never mutated after
// Decode returns it, so it is passed around by value.
type Sample struct {
	Timestamp float64 // seconds
	X         float64
	Y         float64
	Z         float64
}

type DecodeError struct {
	Payload []byte
	Reason  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDecode.Error(), e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return ErrDecode
}

type message struct {
	Values    []*float64      `json:"values"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// Decode turns one inbound payload into a Sample. The payload timestamp is in
// microseconds; the sample timestamp is in seconds.
func Decode(payload []byte) (Sample, error) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Sample{}, newDecodeError(payload, err.Error())
	}

	if len(msg.Values) < 3 {
		return Sample{}, newDecodeError(payload, fmt.Sprintf("expected 3 values, got %d", len(msg.Values)))
	}

	// json leaves a null element as a nil pointer rather than failing
	for i, v := range msg.Values[:3] {
		if v == nil {
			return Sample{}, newDecodeError(payload, fmt.Sprintf("value %d is null", i))
		}
	}

	micros, err := parseTimestamp(msg.Timestamp)
	if err != nil {
		return Sample{}, newDecodeError(payload, err.Error())
	}

	return Sample{
		Timestamp: micros / microsecondsPerSecond,
		X:         *msg.Values[0],
		Y:         *msg.Values[1],
		Z:         *msg.Values[2],
	}, nil
}

// the timestamp may arrive either as a JSON number or as a numeric string
func parseTimestamp(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errors.New("missing timestamp")
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("timestamp: %w", err)
		}
		text = strings.TrimSpace(text)
	}

	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q is not numeric", text)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("timestamp %q is not finite", text)
	}
	return value, nil
}

func newDecodeError(payload []byte, reason string) *DecodeError {
	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	return &DecodeError{
		Payload: payloadCopy,
		Reason:  reason,
	}
}
