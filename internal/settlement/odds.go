package settlement

import (
	"errors"
	"fmt"
	"math"
)

// Formatos de preço aceitos. O formato é inferido da magnitude:
// |p| >= 100 american, 1 < p < 100 decimal, 0 < p <= 1 probabilidade implícita.
var ErrBadPrice = errors.New("unrecognized price format")

// ToDecimal converte um preço em odds decimais.
func ToDecimal(price float64) (float64, error) {
	abs := math.Abs(price)
	switch {
	case abs >= 100:
		// american
		if price > 0 {
			return 1 + price/100, nil
		}
		return 1 + 100/abs, nil
	case price > 1 && price < 100:
		// já é decimal
		return price, nil
	case price > 0 && price <= 1:
		// probabilidade implícita
		return 1 / price, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrBadPrice, price)
	}
}

// ImpliedProb converte um preço (qualquer formato) em probabilidade implícita.
func ImpliedProb(price float64) (float64, error) {
	dec, err := ToDecimal(price)
	if err != nil {
		return 0, err
	}
	return 1 / dec, nil
}
