package factor

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/screener-cli/pkg/marketdata"
)

// Definitions is a screen definition file: which factors to compute and
// with what parameters. It lets a desk tune the screen without a rebuild.
type Definitions struct {
	ThresholdPct float64      `yaml:"threshold_pct"`
	Currency     string       `yaml:"currency"`
	Factors      []Definition `yaml:"factors"`
}

// Definition configures one factor by kind.
type Definition struct {
	Name     string `yaml:"name,omitempty"`     // output label; defaults per kind
	Kind     string `yaml:"kind"`               // price_to_book | avg_roe | cash_per_asset
	Currency string `yaml:"currency,omitempty"` // overrides the file-level currency
	Years    int    `yaml:"years,omitempty"`    // avg_roe lookback, default 2
}

// LoadDefinitions reads a screen definition from a YAML file.
func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "factor: read definitions %s", path)
	}

	// The YAML has a top-level "screen" key.
	var wrapper struct {
		Screen Definitions `yaml:"screen"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "factor: parse definitions")
	}

	defs := &wrapper.Screen
	if len(defs.Factors) == 0 {
		return nil, eris.Errorf("factor: %s defines no factors", path)
	}
	if defs.ThresholdPct < 0 || defs.ThresholdPct > 1 {
		return nil, eris.Errorf("factor: threshold_pct %v outside [0,1]", defs.ThresholdPct)
	}
	return defs, nil
}

// Build resolves the definitions into concrete factors.
func (d *Definitions) Build() ([]Factor, error) {
	factors := make([]Factor, 0, len(d.Factors))
	for _, def := range d.Factors {
		currency := def.Currency
		if currency == "" {
			currency = d.Currency
		}

		var f Factor
		switch def.Kind {
		case "price_to_book":
			f = PriceToBook(currency)
		case "avg_roe":
			years := def.Years
			if years == 0 {
				years = 2
			}
			if years < 1 {
				return nil, eris.Errorf("factor: avg_roe years %d must be positive", years)
			}
			f = avgROE(years)
		case "cash_per_asset":
			f = CashPerAsset()
		default:
			return nil, eris.Errorf("factor: unknown kind %q", def.Kind)
		}

		if def.Name != "" {
			f.Name = def.Name
		}
		factors = append(factors, f)
	}

	if err := Validate(factors); err != nil {
		return nil, err
	}
	return factors, nil
}

// avgROE generalizes AvgROE2Y to an arbitrary lookback.
func avgROE(years int) Factor {
	specs := make([]marketdata.FieldSpec, years)
	for i := range specs {
		specs[i] = marketdata.FieldSpec{Field: FieldReturnComEqy, PeriodOffset: -(i + 1)}
	}
	f := AvgROE2Y()
	if years == 2 {
		return f
	}
	f.Name = fmt.Sprintf("AVE_ROE_%dY", years)
	f.Desc = fmt.Sprintf("%d-year average return on common equity", years)
	f.Inputs = specs
	f.Compute = func(rec marketdata.Record) (float64, bool) {
		var sum float64
		for _, spec := range specs {
			v, ok := lookup(rec, spec)
			if !ok {
				return 0, false
			}
			sum += v
		}
		return sum / float64(years), true
	}
	return f
}
