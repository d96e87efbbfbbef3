package x402

import (
	"fmt"
	"math/big"
	"regexp"
)

// atomicAmountPattern matches a non-negative base-10 integer string with no
// sign, decimal point, or leading zeros beyond a bare "0" (§3 wire format:
// amounts are always atomic units, never decimal).
var atomicAmountPattern = regexp.MustCompile(`^(0|[1-9][0-9]*)$`)

// ValidateAtomicAmount checks that amount is a well-formed atomic-unit
// string, rejecting decimals, signs, and leading zeros.
func ValidateAtomicAmount(amount string) error {
	if !atomicAmountPattern.MatchString(amount) {
		return NewVerifyError(ReasonInvalidPaymentRequirements, fmt.Errorf("amount %q is not a valid atomic amount", amount))
	}
	return nil
}

// AmountToBigInt parses an atomic-unit amount string into a big.Int.
func AmountToBigInt(amount string) (*big.Int, error) {
	if err := ValidateAtomicAmount(amount); err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, NewVerifyError(ReasonInvalidPaymentRequirements, fmt.Errorf("amount %q could not be parsed", amount))
	}
	return v, nil
}

// BigIntToAmount renders a big.Int back into its canonical atomic-unit string.
func BigIntToAmount(v *big.Int) string {
	return v.String()
}

// CompareAmounts returns -1, 0, or 1 comparing two atomic-unit amount
// strings numerically (never lexically — "9" > "10" as strings but not as
// amounts).
func CompareAmounts(a, b string) (int, error) {
	av, err := AmountToBigInt(a)
	if err != nil {
		return 0, err
	}
	bv, err := AmountToBigInt(b)
	if err != nil {
		return 0, err
	}
	return av.Cmp(bv), nil
}

// AmountAtLeast reports whether paid >= required, both atomic-unit strings.
func AmountAtLeast(paid, required string) (bool, error) {
	cmp, err := CompareAmounts(paid, required)
	if err != nil {
		return false, err
	}
	return cmp >= 0, nil
}

// ScaleAmount converts an atomic amount expressed in fromDecimals to an
// equivalent atomic amount in toDecimals, used when a route's declared price
// must be re-expressed in a fallback asset with a different decimal count.
func ScaleAmount(amount string, fromDecimals, toDecimals int) (string, error) {
	v, err := AmountToBigInt(amount)
	if err != nil {
		return "", err
	}
	if fromDecimals == toDecimals {
		return BigIntToAmount(v), nil
	}
	if toDecimals > fromDecimals {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(toDecimals-fromDecimals)), nil)
		v.Mul(v, scale)
		return BigIntToAmount(v), nil
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(fromDecimals-toDecimals)), nil)
	v.Div(v, scale)
	return BigIntToAmount(v), nil
}
