package types

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// SwapRequest represents a single swap a user has asked for. It lives only
// for the duration of one orchestration run.
type SwapRequest struct {
	UserID             int64
	Gross              decimal.Decimal
	FeeRate            decimal.Decimal
	Fee                decimal.Decimal
	Net                decimal.Decimal
	SourceAddress      string
	DestinationAddress string
}

// NewSwapRequest splits gross into the service fee and the net amount that
// goes to the exchange. The fee is rounded to the token's decimals so that
// fee and net are both whole base units and add up to gross.
func NewSwapRequest(userID int64, gross, feeRate decimal.Decimal, decimals uint8, source, destination string) (*SwapRequest, error) {
	if !gross.IsPositive() {
		return nil, fmt.Errorf("amount must be greater than 0")
	}
	if !gross.Equal(gross.Truncate(int32(decimals))) {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", gross, decimals)
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("fee rate must be in [0, 1), got %s", feeRate)
	}

	fee := gross.Mul(feeRate).Round(int32(decimals))
	return &SwapRequest{
		UserID:             userID,
		Gross:              gross,
		FeeRate:            feeRate,
		Fee:                fee,
		Net:                gross.Sub(fee),
		SourceAddress:      source,
		DestinationAddress: destination,
	}, nil
}

// FeePercent returns the fee rate formatted for display, e.g. "5".
func (r *SwapRequest) FeePercent() string {
	return r.FeeRate.Mul(decimal.NewFromInt(100)).String()
}

// ToBaseUnits converts a UI amount into integer base units for a token with
// the given number of decimals. Fractions below one base unit are truncated.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (uint64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	units := amount.Shift(int32(decimals)).Truncate(0)
	if !units.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %s overflows base units", amount)
	}
	return units.BigInt().Uint64(), nil
}

// FromBaseUnits converts integer base units back into a UI amount.
func FromBaseUnits(units uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(decimals))
}
