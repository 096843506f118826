package payments

import (
	"errors"
	"math"
)

// Fee errors, mapped to 400/409 at the HTTP layer.
var (
	ErrUnknownMethod  = errors.New("unknown payment method")
	ErrDisabledMethod = errors.New("payment method is disabled")
)

// platformFeeRate is the flat marketplace commission. Not configurable per
// consultation or lawyer tier.
const platformFeeRate = 0.10

// methodFee is a processing fee schedule: a percentage of the amount plus a
// fixed surcharge, both charged by the processor.
type methodFee struct {
	Percent    float64
	FixedCents int
	Enabled    bool
}

// methods is the static processing fee table. paypal and oxxo are defined
// but not yet enabled for settlement.
var methods = map[string]methodFee{
	"card":          {Percent: 0.029, FixedCents: 300, Enabled: true},
	"bank_transfer": {Percent: 0.015, FixedCents: 500, Enabled: true},
	"paypal":        {Percent: 0.034, FixedCents: 400, Enabled: false},
	"oxxo":          {Percent: 0.035, FixedCents: 1000, Enabled: false},
}

// PlatformFeeCents is the marketplace's cut, rounded to the nearest cent.
func PlatformFeeCents(amountCents int) int {
	return int(math.Round(float64(amountCents) * platformFeeRate))
}

// ProcessingFeeCents is the processor's cut for the given method.
func ProcessingFeeCents(amountCents int, method string) (int, error) {
	m, ok := methods[method]
	if !ok {
		return 0, ErrUnknownMethod
	}
	if !m.Enabled {
		return 0, ErrDisabledMethod
	}
	return int(math.Round(float64(amountCents)*m.Percent)) + m.FixedCents, nil
}

// NetAmountCents is what the lawyer earns after both fees.
func NetAmountCents(amountCents int, method string) (int, error) {
	processing, err := ProcessingFeeCents(amountCents, method)
	if err != nil {
		return 0, err
	}
	return amountCents - PlatformFeeCents(amountCents) - processing, nil
}

// Split derives the full three-way split. By construction
// platform + processing + earnings == amount, exactly, in cents.
func Split(amountCents int, method string) (platform, processing, earnings int, err error) {
	processing, err = ProcessingFeeCents(amountCents, method)
	if err != nil {
		return 0, 0, 0, err
	}
	platform = PlatformFeeCents(amountCents)
	earnings = amountCents - platform - processing
	return platform, processing, earnings, nil
}
