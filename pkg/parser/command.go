package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	SourceToken = "USDC"
	DestToken   = "BTC"
)

// SwapCommand is a parsed swap instruction.
type SwapCommand struct {
	Amount      decimal.Decimal
	SourceToken string
	DestToken   string
}

var (
	fullPattern   = regexp.MustCompile(`^(\d+\.?\d*)\s+([A-Z0-9]+)\s+TO\s+([A-Z0-9]+)$`)
	amountPattern = regexp.MustCompile(`^(\d+\.?\d*)(\s+USDC)?$`)
)

// ParseSwapCommand parses a swap command
// Examples:
//   - "swap 100 USDC to BTC"
//   - "250.5 usdc to btc"
//   - "/swap 100"
func ParseSwapCommand(command string) (*SwapCommand, error) {
	command = strings.TrimSpace(strings.ToUpper(command))
	command = strings.TrimPrefix(command, "/")
	command = strings.TrimSpace(strings.TrimPrefix(command, "SWAP"))

	var amount, source, dest string
	if m := fullPattern.FindStringSubmatch(command); m != nil {
		amount, source, dest = m[1], NormalizeTokenSymbol(m[2]), NormalizeTokenSymbol(m[3])
	} else if m := amountPattern.FindStringSubmatch(command); m != nil {
		amount, source, dest = m[1], SourceToken, DestToken
	} else {
		return nil, fmt.Errorf("invalid swap command format. Expected: 'swap <amount> USDC to BTC' (e.g., 'swap 100 USDC to BTC')")
	}

	if source != SourceToken || dest != DestToken {
		return nil, fmt.Errorf("unsupported pair %s to %s, only %s to %s is supported", source, dest, SourceToken, DestToken)
	}

	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if !value.IsPositive() {
		return nil, fmt.Errorf("amount must be greater than 0")
	}

	return &SwapCommand{Amount: value, SourceToken: source, DestToken: dest}, nil
}

// NormalizeTokenSymbol normalizes token symbols to standard format
func NormalizeTokenSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	aliases := map[string]string{
		"WBTC":  "BTC",
		"XBT":   "BTC",
		"USDCE": "USDC",
	}
	if normalized, exists := aliases[symbol]; exists {
		return normalized
	}
	return symbol
}
