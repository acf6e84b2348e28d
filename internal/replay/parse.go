package replay

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"perpVault/internal/fixed"
	"perpVault/internal/vault"
)

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", vault.ErrInvalidRequest, input)
	}
	return common.HexToAddress(input), nil
}

// ParseAddresses converts string addresses into common.Address, skipping blanks.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		if strings.TrimSpace(input) == "" {
			continue
		}
		addr, err := ParseAddress(input)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

// ParseTimestamp parses unix seconds or RFC3339. Empty input yields the zero time.
func ParseTimestamp(input string) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, nil
	}
	if isNumeric(input) {
		val, err := strconv.ParseInt(input, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(val, 0).UTC(), nil
	}
	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return time.Time{}, err
	}
	return tm.UTC(), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}

func parseSide(input string) (vault.Side, error) {
	side, ok := vault.ParseSide(strings.ToLower(strings.TrimSpace(input)))
	if !ok {
		return side, fmt.Errorf("%w: unknown side %q", vault.ErrInvalidRequest, input)
	}
	return side, nil
}

// parseAmount reads a required decimal field.
func parseAmount(field, input string, decimals uint8) (*big.Int, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("%w: %s is required", vault.ErrInvalidRequest, field)
	}
	return parseOptional(field, input, decimals)
}

// parseOptional reads a decimal field that defaults to zero.
func parseOptional(field, input string, decimals uint8) (*big.Int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return new(big.Int), nil
	}
	v, err := fixed.Parse(input, decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", vault.ErrInvalidRequest, field, err)
	}
	return v, nil
}
