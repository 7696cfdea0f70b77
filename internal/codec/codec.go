// Package codec implements the binary upload format for light programs.
//
// An upload is an 8 byte little-endian epoch-seconds timestamp followed by
// zero or more action records. Each record is a one byte type tag and a fixed
// width body:
//
//	0x00 fixed: duration u64, cw u8, ww u8                      (10 bytes)
//	0x01 ramp:  duration u64, target cw u8, target ww u8        (10 bytes)
//	0x02 blink: duration u64, high u16, low u16,
//	            high cw u8, high ww u8, low cw u8, low ww u8    (16 bytes)
//
// Durations are milliseconds. All integers are little-endian.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/dokzlo13/lightpd/internal/program"
)

const (
	TimestampSize = 8
	FixedBodySize = 10
	RampBodySize  = 10
	BlinkBodySize = 16
)

var (
	ErrTruncatedInput      = errors.New("truncated input")
	ErrInvalidActionType   = errors.New("invalid action type")
	ErrInvalidRampDuration = program.ErrInvalidRampDuration
	ErrUnsupportedSchedule = errors.New("schedule cannot be encoded")
	ErrTimestampRange      = errors.New("timestamp out of range")
)

// DecodeError wraps a decode failure with the byte offset it occurred at.
type DecodeError struct {
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// reader consumes a buffer front to back.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) take(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, &DecodeError{Offset: r.off, Err: ErrTruncatedInput}
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Decode parses an upload into a one-shot program. On any error no program
// is returned.
func Decode(data []byte) (program.Program, error) {
	r := &reader{buf: data}

	ts, err := r.take(TimestampSize)
	if err != nil {
		return program.Program{}, err
	}
	epoch := binary.LittleEndian.Uint64(ts)
	if epoch > math.MaxInt64 {
		return program.Program{}, &DecodeError{Offset: 0, Err: fmt.Errorf("%w: %d", ErrTimestampRange, epoch)}
	}
	prog := program.Program{Schedule: program.At(int64(epoch))}

	for r.remaining() > 0 {
		tagOffset := r.off
		tag, _ := r.take(1)

		var action program.Action
		switch program.Kind(tag[0]) {
		case program.KindFixed:
			body, err := r.take(FixedBodySize)
			if err != nil {
				return program.Program{}, err
			}
			action = program.NewFixed(binary.LittleEndian.Uint64(body[0:8]), body[8], body[9])
		case program.KindRamp:
			body, err := r.take(RampBodySize)
			if err != nil {
				return program.Program{}, err
			}
			action = program.NewRamp(binary.LittleEndian.Uint64(body[0:8]), body[8], body[9])
			if err := action.Validate(); err != nil {
				return program.Program{}, &DecodeError{Offset: tagOffset, Err: err}
			}
		case program.KindBlink:
			body, err := r.take(BlinkBodySize)
			if err != nil {
				return program.Program{}, err
			}
			action = program.NewBlink(
				binary.LittleEndian.Uint64(body[0:8]),
				binary.LittleEndian.Uint16(body[8:10]),
				binary.LittleEndian.Uint16(body[10:12]),
				body[12], body[13], body[14], body[15],
			)
		default:
			return program.Program{}, &DecodeError{
				Offset: tagOffset,
				Err:    fmt.Errorf("%w: %d", ErrInvalidActionType, tag[0]),
			}
		}

		prog.Actions = append(prog.Actions, action)
	}

	return prog, nil
}

// DecodeTimestamp parses a time sync payload. Extra trailing bytes are ignored.
func DecodeTimestamp(data []byte) (int64, error) {
	if len(data) < TimestampSize {
		return 0, &DecodeError{Offset: 0, Err: ErrTruncatedInput}
	}
	return int64(binary.LittleEndian.Uint64(data[:TimestampSize])), nil
}

// EncodeTimestamp renders a time sync payload.
func EncodeTimestamp(epochSeconds int64) []byte {
	return binary.LittleEndian.AppendUint64(make([]byte, 0, TimestampSize), uint64(epochSeconds))
}

// Encode renders a one-shot program in the upload format.
func Encode(p program.Program) ([]byte, error) {
	if p.Schedule.Kind != program.ScheduleMoment {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSchedule, p.Schedule.Kind)
	}
	if p.Schedule.Moment.EpochSeconds < 0 {
		return nil, fmt.Errorf("%w: %d", ErrTimestampRange, p.Schedule.Moment.EpochSeconds)
	}

	buf := make([]byte, 0, TimestampSize+len(p.Actions)*(1+BlinkBodySize))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Schedule.Moment.EpochSeconds))

	for i, a := range p.Actions {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		buf = append(buf, byte(a.Kind))
		switch a.Kind {
		case program.KindFixed:
			buf = binary.LittleEndian.AppendUint64(buf, a.Fixed.DurationMs)
			buf = append(buf, a.Fixed.CW, a.Fixed.WW)
		case program.KindRamp:
			buf = binary.LittleEndian.AppendUint64(buf, a.Ramp.DurationMs)
			buf = append(buf, a.Ramp.TargetCW, a.Ramp.TargetWW)
		case program.KindBlink:
			b := a.Blink
			buf = binary.LittleEndian.AppendUint64(buf, b.BlinkDurationMs)
			buf = binary.LittleEndian.AppendUint16(buf, b.HighDurationMs)
			buf = binary.LittleEndian.AppendUint16(buf, b.LowDurationMs)
			buf = append(buf, b.HighCW, b.HighWW, b.LowCW, b.LowWW)
		}
	}

	return buf, nil
}
