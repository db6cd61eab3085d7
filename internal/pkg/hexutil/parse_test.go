package hexutil

import (
	"errors"
	"testing"
)

func TestParseUint64(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    uint64
		wantErr error
	}{
		{name: "zero", input: "0x0", want: 0},
		{name: "block number", input: "0xe4e1c0", want: 15_000_000},
		{name: "timestamp", input: "0x6232294c", want: 1_647_454_540},
		{name: "upper case prefix", input: "0XFF", want: 255},
		{name: "leading zeros", input: "0x00ff", want: 255},
		{name: "max", input: "0xffffffffffffffff", want: ^uint64(0)},
		{name: "empty", input: "", wantErr: ErrEmptyQuantity},
		{name: "bare prefix", input: "0x", wantErr: ErrEmptyQuantity},
		{name: "no prefix", input: "ff", wantErr: ErrMissingPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUint64(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseUint64(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseUint64(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseUint64(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseUint64_Invalid(t *testing.T) {
	for _, input := range []string{"0xzz", "0x1ffffffffffffffff", "0x-1"} {
		if _, err := ParseUint64(input); err == nil {
			t.Errorf("ParseUint64(%q) expected error", input)
		}
	}
}

func TestFormatUint64(t *testing.T) {
	tests := []struct {
		input uint64
		want  string
	}{
		{0, "0x0"},
		{255, "0xff"},
		{15_000_000, "0xe4e1c0"},
	}

	for _, tt := range tests {
		if got := FormatUint64(tt.input); got != tt.want {
			t.Errorf("FormatUint64(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
