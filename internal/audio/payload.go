// Package audio holds captured recordings and their duration estimates.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"
)

// PCMBytesPerSecond is the byte rate of mono 16-bit 44.1kHz PCM.
const PCMBytesPerSecond = 88200

var (
	ErrTooShort = errors.New("audio: recording too short")
	ErrTooLong  = errors.New("audio: recording too long")
	ErrEmpty    = errors.New("audio: empty recording")
)

// Payload is an immutable recording plus its estimated duration.
type Payload struct {
	Data     []byte
	Duration time.Duration
	// FromHeader is true when Duration was derived from a WAV header.
	FromHeader bool
}

// NewPCMPayload estimates duration assuming headerless mono 16-bit 44.1kHz PCM.
func NewPCMPayload(data []byte) Payload {
	return Payload{Data: data, Duration: PCMDuration(len(data))}
}

// NewPayload derives the duration from a RIFF/WAVE header when one is present
// and falls back to the PCM byte-rate estimate otherwise.
func NewPayload(data []byte) Payload {
	if d, ok := wavDuration(data); ok {
		return Payload{Data: data, Duration: d, FromHeader: true}
	}
	return NewPCMPayload(data)
}

// PCMDuration converts a byte count to a duration at PCMBytesPerSecond.
func PCMDuration(n int) time.Duration {
	return time.Duration(int64(n) * int64(time.Second) / PCMBytesPerSecond)
}

// Minutes returns the duration in fractional minutes.
func (p Payload) Minutes() float64 {
	return p.Duration.Minutes()
}

// Validate checks the duration against the inclusive [min, max] range.
func (p Payload) Validate(min, max time.Duration) error {
	if len(p.Data) == 0 {
		return ErrEmpty
	}
	if p.Duration < min {
		return ErrTooShort
	}
	if max > 0 && p.Duration > max {
		return ErrTooLong
	}
	return nil
}

// Base64 returns the standard base64 transport encoding of the data.
func (p Payload) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// Decode reverses Base64 and builds a payload from the result.
func Decode(encoded string) (Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Payload{}, err
	}
	if len(raw) == 0 {
		return Payload{}, ErrEmpty
	}
	return NewPayload(raw), nil
}

// wavDuration walks the RIFF chunks looking for "fmt " and "data".
func wavDuration(data []byte) (time.Duration, bool) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, false
	}
	var byteRate uint64
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8
		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return 0, false
			}
			channels := binary.LittleEndian.Uint16(data[body+2 : body+4])
			sampleRate := binary.LittleEndian.Uint32(data[body+4 : body+8])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			byteRate = uint64(sampleRate) * uint64(channels) * uint64(bits) / 8
		case "data":
			if byteRate == 0 {
				return 0, false
			}
			n := uint64(size)
			// streaming writers leave the size unset; use what was captured
			if remaining := uint64(len(data) - body); n == 0 || n > remaining {
				n = remaining
			}
			return byteDuration(n, byteRate), true
		}
		next := int64(body) + int64(size) + int64(size&1)
		if next > int64(len(data)) {
			return 0, false
		}
		offset = int(next)
	}
	return 0, false
}

// byteDuration converts n bytes at rate bytes per second without overflowing
// for any rate a header can declare.
func byteDuration(n, rate uint64) time.Duration {
	whole := time.Duration(n/rate) * time.Second
	frac := float64(n%rate) / float64(rate)
	return whole + time.Duration(frac*float64(time.Second))
}
