// Package hexutil parses and formats Ethereum JSON-RPC hex quantities.
//
// It lives in internal/pkg so adapters can share it without importing each other.
package hexutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrEmptyQuantity is returned for "" and a bare "0x".
	ErrEmptyQuantity = errors.New("empty hex quantity")

	// ErrMissingPrefix is returned when a quantity lacks the 0x prefix.
	ErrMissingPrefix = errors.New("hex quantity without 0x prefix")
)

// ParseUint64 parses a JSON-RPC quantity such as "0x1b4" into a uint64.
func ParseUint64(quantity string) (uint64, error) {
	digits, ok := strings.CutPrefix(quantity, "0x")
	if !ok {
		digits, ok = strings.CutPrefix(quantity, "0X")
	}
	if !ok {
		if quantity == "" {
			return 0, ErrEmptyQuantity
		}
		return 0, fmt.Errorf("%w: %q", ErrMissingPrefix, quantity)
	}
	if digits == "" {
		return 0, ErrEmptyQuantity
	}
	value, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex quantity %q: %w", quantity, err)
	}
	return value, nil
}

// FormatUint64 encodes n as a JSON-RPC quantity.
func FormatUint64(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}
