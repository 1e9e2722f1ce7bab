// Package units converts human-readable decimal amounts into integer base
// units (wei for ether, 10^-6 for USDC) without going through floating point.
package units

import (
	"math/big"
	"strconv"
	"strings"

	xerrors "ChainPilot/internal/errors"
)

const (
	CodePrecisionLoss xerrors.Code = "PRECISION_LOSS"
	CodeInvalidAmount xerrors.Code = "INVALID_AMOUNT"
)

func init() {
	xerrors.Register(CodePrecisionLoss, xerrors.Attributes{
		Message:    "amount has more decimal places than the asset supports",
		Severity:   xerrors.SeverityInfo,
		UserFacing: true,
	})
	xerrors.Register(CodeInvalidAmount, xerrors.Attributes{
		Message:    "amount is not a non-negative decimal number",
		Severity:   xerrors.SeverityInfo,
		UserFacing: true,
	})
}

// Denomination names a unit and how many decimals separate it from the
// smallest indivisible unit of its asset.
type Denomination struct {
	Symbol   string
	Decimals int
}

// Ether denominations; "eth" and "ether" are synonyms.
var (
	Ether = Denomination{Symbol: "ETH", Decimals: 18}
	Gwei  = Denomination{Symbol: "GWEI", Decimals: 9}
	Wei   = Denomination{Symbol: "WEI", Decimals: 0}
)

// LookupNative resolves a unit word of the native asset.
func LookupNative(unit string) (Denomination, bool) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "eth", "ether", "ethers":
		return Ether, true
	case "gwei":
		return Gwei, true
	case "wei":
		return Wei, true
	default:
		return Denomination{}, false
	}
}

// ToBaseUnits converts a decimal string such as "1.5" into base units for
// the given number of decimals. Digits beyond the supported precision must be
// zero, otherwise the conversion fails with PRECISION_LOSS.
func ToBaseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if decimals < 0 {
		return nil, xerrors.New(CodeInvalidAmount, "negative decimals")
	}
	if amount == "" || strings.HasPrefix(amount, "-") {
		return nil, xerrors.New(CodeInvalidAmount, "", xerrors.WithMetadata("amount", amount))
	}
	amount = strings.TrimPrefix(amount, "+")
	amount = strings.ReplaceAll(amount, "_", "")

	whole, frac, _ := strings.Cut(amount, ".")
	if strings.Contains(frac, ".") {
		return nil, xerrors.New(CodeInvalidAmount, "", xerrors.WithMetadata("amount", amount))
	}
	if (whole == "" && frac == "") || !allDigits(whole) || !allDigits(frac) {
		return nil, xerrors.New(CodeInvalidAmount, "", xerrors.WithMetadata("amount", amount))
	}
	if whole == "" {
		whole = "0"
	}

	if len(frac) > decimals {
		excess := frac[decimals:]
		if strings.Trim(excess, "0") != "" {
			return nil, xerrors.New(CodePrecisionLoss, "",
				xerrors.WithMetadata("amount", amount),
				xerrors.WithMetadata("decimals", strconv.Itoa(decimals)))
		}
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))

	value, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, xerrors.New(CodeInvalidAmount, "", xerrors.WithMetadata("amount", amount))
	}
	return value, nil
}

// Convert turns an amount expressed in the given denomination into the base
// units of an asset with assetDecimals (wei for ETH).
func Convert(amount string, unit Denomination, assetDecimals int) (*big.Int, error) {
	if unit.Decimals > assetDecimals {
		return nil, xerrors.New(CodeInvalidAmount, "unit is larger than the asset precision")
	}
	// Denomination decimals count from the asset's smallest unit.
	return ToBaseUnits(amount, unit.Decimals)
}

// Format renders base units as a trimmed decimal string, e.g. 1500000000000000000
// with 18 decimals becomes "1.5".
func Format(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	sign := ""
	v := new(big.Int).Set(value)
	if v.Sign() < 0 {
		sign = "-"
		v.Neg(v)
	}
	if decimals <= 0 {
		return sign + v.String()
	}
	whole, frac := new(big.Int).QuoRem(v, pow10(decimals), new(big.Int))
	if frac.Sign() == 0 {
		return sign + whole.String()
	}
	fracText := frac.String()
	fracText = strings.Repeat("0", decimals-len(fracText)) + fracText
	fracText = strings.TrimRight(fracText, "0")
	return sign + whole.String() + "." + fracText
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
