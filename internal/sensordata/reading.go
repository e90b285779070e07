// Package sensordata defines the wire-level data types shared by every
// component of the gateway: the immutable sensor reading and its 10-byte
// frame encoding.
package sensordata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// FrameSize is the fixed size in bytes of one sensor wire frame:
// 2 bytes big-endian sensor id, 8 bytes native-endian IEEE-754 double.
const FrameSize = 10

// InvalidSensorID is the reserved sensor id meaning "no sensor" (RFC
// pseudo-spec: sensor ids 1-65535 are valid, 0 is reserved invalid).
const InvalidSensorID uint16 = 0

// ErrShortFrame indicates a frame whose length is not exactly FrameSize
// bytes was passed to DecodeFrame.
var ErrShortFrame = errors.New("sensordata: short frame")

// Reading is one immutable sensor observation: the sensor id, the raw
// value, and the gateway-assigned ingestion timestamp.
type Reading struct {
	SensorID uint16
	Value    float64
	Ts       time.Time
}

// String renders the reading for diagnostic logging.
func (r Reading) String() string {
	return fmt.Sprintf("sensor=%d value=%.2f ts=%d", r.SensorID, r.Value, r.Ts.Unix())
}

// DecodeFrame parses a FrameSize-byte wire frame into a sensor id and raw
// value. The timestamp is not part of the wire format; the caller
// (Ingress) stamps it with the time of receipt.
//
// The value's 8 bytes are interpreted in the host's native byte order,
// matching the reference implementation's raw struct write of a C
// double — on the little-endian hosts the original targets this is
// binary.NativeEndian.
func DecodeFrame(frame []byte) (sensorID uint16, value float64, err error) {
	if len(frame) != FrameSize {
		return 0, 0, fmt.Errorf("decode frame of %d bytes: %w", len(frame), ErrShortFrame)
	}

	sensorID = binary.BigEndian.Uint16(frame[0:2])
	bits := binary.NativeEndian.Uint64(frame[2:10])
	value = math.Float64frombits(bits)

	return sensorID, value, nil
}

// EncodeFrame is the inverse of DecodeFrame, used by tests and by any
// simulated sensor client.
func EncodeFrame(sensorID uint16, value float64) [FrameSize]byte {
	var frame [FrameSize]byte
	binary.BigEndian.PutUint16(frame[0:2], sensorID)
	binary.NativeEndian.PutUint64(frame[2:10], math.Float64bits(value))
	return frame
}
