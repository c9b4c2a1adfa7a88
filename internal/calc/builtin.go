package calc

import (
	"fmt"

	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// Standard input names used by the built-in calculators.
const (
	AreaWeight        = "area_weight"         // g/m²
	ProductionSpeed   = "production_speed"    // m/min
	Width             = "width"               // m
	CardDeliverySpeed = "card_delivery_speed" // m/min
	LapperSpeed       = "lapper_speed"        // m/min
)

func builtins() map[string]Calculator {
	return map[string]Calculator{
		"mass_throughput": Func(massThroughput),
		"draft_ratio":     Func(draftRatio),
		"web_speed_ratio": Func(webSpeedRatio),
	}
}

// massThroughput is the fibre mass leaving the line in kg/h.
func massThroughput(in vars.Values) (float64, error) {
	w, err := need(in, AreaWeight, ProductionSpeed, Width)
	if err != nil {
		return 0, err
	}
	return w[0] * w[1] * w[2] * 60 / 1000, nil
}

// draftRatio is the stretch between card delivery and the final line speed.
func draftRatio(in vars.Values) (float64, error) {
	w, err := need(in, ProductionSpeed, CardDeliverySpeed)
	if err != nil {
		return 0, err
	}
	if w[1] == 0 {
		return 0, fmt.Errorf("%s is zero", CardDeliverySpeed)
	}
	return w[0] / w[1], nil
}

// webSpeedRatio relates cross-lapper speed to card delivery.
func webSpeedRatio(in vars.Values) (float64, error) {
	w, err := need(in, LapperSpeed, CardDeliverySpeed)
	if err != nil {
		return 0, err
	}
	if w[1] == 0 {
		return 0, fmt.Errorf("%s is zero", CardDeliverySpeed)
	}
	return w[0] / w[1], nil
}

func need(in vars.Values, names ...string) ([]float64, error) {
	out := make([]float64, len(names))
	for i, n := range names {
		v, ok := in[n]
		if !ok {
			return nil, fmt.Errorf("missing input %q", n)
		}
		out[i] = v
	}
	return out, nil
}
