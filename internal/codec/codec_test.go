package codec

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/dokzlo13/lightpd/internal/program"
)

func sampleProgram() program.Program {
	return program.Program{
		Schedule: program.At(1717171717),
		Actions: []program.Action{
			program.NewFixed(1500, 10, 20),
			program.NewRamp(30000, 255, 128),
			program.NewBlink(5000, 250, 750, 200, 100, 1, 2),
		},
	}
}

func TestDecode_Layout(t *testing.T) {
	data := []byte{
		0x05, 0x04, 0x03, 0x02, 0x01, 0x00, 0x00, 0x00, // timestamp
		0x00, 0xe8, 0x03, 0, 0, 0, 0, 0, 0, 0x0a, 0x0b, // fixed 1000ms 10/11
		0x01, 0x30, 0x75, 0, 0, 0, 0, 0, 0, 0xff, 0x80, // ramp 30000ms 255/128
		0x02, 0x10, 0x27, 0, 0, 0, 0, 0, 0, // blink 10000ms
		0xc8, 0x00, // high 200ms
		0x2c, 0x01, // low 300ms
		0x01, 0x02, 0x03, 0x04,
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	want := program.Program{
		Schedule: program.At(0x0102030405),
		Actions: []program.Action{
			program.NewFixed(1000, 10, 11),
			program.NewRamp(30000, 255, 128),
			program.NewBlink(10000, 200, 300, 1, 2, 3, 4),
		},
	}
	if !got.Equal(want) {
		t.Errorf("Decode() = %+v, want %+v", got, want)
	}
}

func TestDecode_TimestampOnly(t *testing.T) {
	got, err := Decode(EncodeTimestamp(42))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Schedule != program.At(42) {
		t.Errorf("schedule = %v, want moment 42", got.Schedule)
	}
	if len(got.Actions) != 0 {
		t.Errorf("actions = %d, want 0", len(got.Actions))
	}
}

func TestEncodeDecode(t *testing.T) {
	p := sampleProgram()
	data, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if want := TimestampSize + 3 + FixedBodySize + RampBodySize + BlinkBodySize; len(data) != want {
		t.Fatalf("len = %d, want %d", len(data), want)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !got.Equal(p) {
		t.Errorf("Decode(Encode(p)) = %+v, want %+v", got, p)
	}
}

func TestDecode_EveryTruncatedPrefixFails(t *testing.T) {
	data, err := Encode(sampleProgram())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// Prefixes that end exactly on a record boundary are themselves valid.
	boundaries := map[int]bool{
		TimestampSize:                                    true,
		TimestampSize + 1 + FixedBodySize:                true,
		TimestampSize + 2 + FixedBodySize + RampBodySize: true,
	}

	for n := 0; n < len(data); n++ {
		_, err := Decode(data[:n])
		if boundaries[n] {
			if err != nil {
				t.Errorf("Decode(prefix %d) on record boundary error = %v", n, err)
			}
			continue
		}
		if !errors.Is(err, ErrTruncatedInput) {
			t.Errorf("Decode(prefix %d) error = %v, want ErrTruncatedInput", n, err)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	valid, _ := Encode(sampleProgram())

	zeroRamp := append(EncodeTimestamp(1), 0x01, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff)
	zeroRampThenFixed := append(append([]byte{}, zeroRamp...), 0x00, 1, 0, 0, 0, 0, 0, 0, 0, 1, 1)

	tests := []struct {
		name   string
		data   []byte
		want   error
		offset int
	}{
		{
			name:   "empty",
			data:   nil,
			want:   ErrTruncatedInput,
			offset: 0,
		},
		{
			name:   "tag 3 after valid records",
			data:   append(append([]byte{}, valid...), 0x03),
			want:   ErrInvalidActionType,
			offset: len(valid),
		},
		{
			name:   "tag 3 first",
			data:   append(EncodeTimestamp(1), 0x03, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0),
			want:   ErrInvalidActionType,
			offset: TimestampSize,
		},
		{
			name:   "tag 255",
			data:   append(EncodeTimestamp(1), 0xff),
			want:   ErrInvalidActionType,
			offset: TimestampSize,
		},
		{
			name:   "zero duration ramp",
			data:   zeroRamp,
			want:   ErrInvalidRampDuration,
			offset: TimestampSize,
		},
		{
			name:   "zero duration ramp aborts remainder",
			data:   zeroRampThenFixed,
			want:   ErrInvalidRampDuration,
			offset: TimestampSize,
		},
		{
			name:   "timestamp above int64",
			data:   append(EncodeTimestamp(math.MinInt64), 0x00, 1, 0, 0, 0, 0, 0, 0, 0, 1, 1),
			want:   ErrTimestampRange,
			offset: 0,
		},
		{
			name:   "all ones timestamp",
			data:   EncodeTimestamp(-1),
			want:   ErrTimestampRange,
			offset: 0,
		},
		{
			name:   "blink body short by one",
			data:   append(EncodeTimestamp(1), 0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0),
			want:   ErrTruncatedInput,
			offset: TimestampSize + 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Decode() error = %v, want %v", err, tt.want)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("Decode() error %T is not *DecodeError", err)
			}
			if de.Offset != tt.offset {
				t.Errorf("offset = %d, want %d", de.Offset, tt.offset)
			}
			if got.Actions != nil {
				t.Errorf("Decode() returned partial actions %+v", got.Actions)
			}
		})
	}
}

func TestDecode_ZeroDurationFixedAndBlinkAccepted(t *testing.T) {
	p := program.Program{
		Schedule: program.At(7),
		Actions: []program.Action{
			program.NewFixed(0, 1, 1),
			program.NewBlink(0, 0, 0, 1, 1, 0, 0),
		},
	}
	data, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if _, err := Decode(data); err != nil {
		t.Errorf("Decode() error = %v", err)
	}
}

func TestEncode_RejectsWeekdays(t *testing.T) {
	p := program.Program{
		Schedule: program.Weekly(program.NewWeekdaySet(program.Monday), program.LocalTime{Hour: 7}),
	}
	if _, err := Encode(p); !errors.Is(err, ErrUnsupportedSchedule) {
		t.Errorf("Encode() error = %v, want ErrUnsupportedSchedule", err)
	}
}

func TestEncode_RejectsNegativeEpoch(t *testing.T) {
	if _, err := Encode(program.Program{Schedule: program.At(-1)}); !errors.Is(err, ErrTimestampRange) {
		t.Errorf("Encode() error = %v, want ErrTimestampRange", err)
	}
}

func TestEncode_RejectsZeroRamp(t *testing.T) {
	p := program.Program{Schedule: program.At(1), Actions: []program.Action{program.NewRamp(0, 1, 1)}}
	if _, err := Encode(p); !errors.Is(err, ErrInvalidRampDuration) {
		t.Errorf("Encode() error = %v, want ErrInvalidRampDuration", err)
	}
}

func TestTimestamp(t *testing.T) {
	data := EncodeTimestamp(-5)
	if !bytes.Equal(data, []byte{0xfb, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}) {
		t.Errorf("EncodeTimestamp(-5) = % x", data)
	}
	got, err := DecodeTimestamp(data)
	if err != nil || got != -5 {
		t.Errorf("DecodeTimestamp() = %d, %v; want -5, nil", got, err)
	}
	if _, err := DecodeTimestamp(data[:7]); !errors.Is(err, ErrTruncatedInput) {
		t.Errorf("DecodeTimestamp(7 bytes) error = %v, want ErrTruncatedInput", err)
	}
}
