// Package token converts stake amounts between the token's smallest unit
// and the display unit shown in notification text.
package token

import (
	"math/big"
	"strings"
)

// StakeDecimals is the decimal count of the stake token (USDC).
const StakeDecimals = 6

// FormatUnits renders amount (smallest units) as a decimal string in
// display units, with trailing zeros in the fraction trimmed.
// FormatUnits(5_000_000, 6) == "5", FormatUnits(5_250_000, 6) == "5.25".
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil || amount.Sign() == 0 {
		return "0"
	}
	v := new(big.Int).Abs(amount)
	div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(v, div, new(big.Int))

	out := whole.String()
	if amount.Sign() < 0 {
		out = "-" + out
	}
	if frac.Sign() == 0 {
		return out
	}

	fracStr := frac.String()
	for len(fracStr) < decimals {
		fracStr = "0" + fracStr
	}
	fracStr = strings.TrimRight(fracStr, "0")
	return out + "." + fracStr
}

// RoundUnits converts amount (smallest units) to the nearest whole display
// unit, the granularity the wager mirror stores stakes at.
func RoundUnits(amount *big.Int, decimals int) int64 {
	if amount == nil {
		return 0
	}
	div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	half := new(big.Int).Rsh(div, 1)
	v := new(big.Int).Add(amount, half)
	return new(big.Int).Quo(v, div).Int64()
}
