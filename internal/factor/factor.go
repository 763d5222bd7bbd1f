// Package factor defines the screening factors: named metrics computed per
// ticker from raw fundamentals records.
package factor

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/screener-cli/pkg/marketdata"
)

// Vendor field names for the built-in factors.
const (
	FieldPxLast       = "px_last"
	FieldBookValPerSh = "book_val_per_sh"
	FieldReturnComEqy = "return_com_eqy"
	FieldCashFromOper = "cf_cash_from_oper"
	FieldTotalAssets  = "bs_tot_asset"
)

// Built-in factor output labels, in default screen column order.
const (
	NameAvgROE2Y     = "AVE_ROE_2Y"
	NamePriceToBook  = "PX_BOOK_VALUE"
	NameCashPerAsset = "CASH_PER_ASSET"
)

// Factor is one screening metric: the vendor fields it needs and a pure
// function computing the value from a fetched record. ok=false marks the
// value as missing for that ticker.
type Factor struct {
	Name    string
	Desc    string
	Inputs  []marketdata.FieldSpec
	Compute func(rec marketdata.Record) (value float64, ok bool)
}

// PriceToBook is last price over latest-period book value per share.
// Currency-normalizing both legs is the service's job; the ratio is unit-free
// when both come back in the same currency.
func PriceToBook(currency string) Factor {
	px := marketdata.FieldSpec{Field: FieldPxLast, Fill: "PREV", Currency: currency}
	bv := marketdata.FieldSpec{Field: FieldBookValPerSh, PeriodType: "LTM", Currency: currency}
	return Factor{
		Name:   NamePriceToBook,
		Desc:   "last price / book value per share (LTM)",
		Inputs: []marketdata.FieldSpec{px, bv},
		Compute: func(rec marketdata.Record) (float64, bool) {
			p, pok := lookup(rec, px)
			b, bok := lookup(rec, bv)
			if !pok || !bok || b == 0 {
				return 0, false
			}
			return p / b, true
		},
	}
}

// AvgROE2Y is the mean of return on common equity over the two prior
// fiscal years.
func AvgROE2Y() Factor {
	y1 := marketdata.FieldSpec{Field: FieldReturnComEqy, PeriodOffset: -1}
	y2 := marketdata.FieldSpec{Field: FieldReturnComEqy, PeriodOffset: -2}
	return Factor{
		Name:   NameAvgROE2Y,
		Desc:   "2-year average return on common equity",
		Inputs: []marketdata.FieldSpec{y1, y2},
		Compute: func(rec marketdata.Record) (float64, bool) {
			a, aok := lookup(rec, y1)
			b, bok := lookup(rec, y2)
			if !aok || !bok {
				return 0, false
			}
			return (a + b) / 2, true
		},
	}
}

// CashPerAsset is trailing-twelve-month operating cash flow over
// trailing-twelve-month total assets.
func CashPerAsset() Factor {
	cfo := marketdata.FieldSpec{Field: FieldCashFromOper, PeriodType: "LTM"}
	assets := marketdata.FieldSpec{Field: FieldTotalAssets, PeriodType: "LTM"}
	return Factor{
		Name:   NameCashPerAsset,
		Desc:   "operating cash flow (LTM) / total assets (LTM)",
		Inputs: []marketdata.FieldSpec{cfo, assets},
		Compute: func(rec marketdata.Record) (float64, bool) {
			c, cok := lookup(rec, cfo)
			a, aok := lookup(rec, assets)
			if !cok || !aok || a == 0 {
				return 0, false
			}
			return c / a, true
		},
	}
}

// Defaults returns the built-in value screen factors in output column order.
func Defaults(currency string) []Factor {
	return []Factor{
		AvgROE2Y(),
		PriceToBook(currency),
		CashPerAsset(),
	}
}

// Validate checks a factor set before a screen is built from it.
func Validate(factors []Factor) error {
	if len(factors) == 0 {
		return eris.New("factor: empty factor set")
	}
	seen := make(map[string]bool, len(factors))
	for _, f := range factors {
		if f.Name == "" {
			return eris.New("factor: factor with empty name")
		}
		if seen[f.Name] {
			return eris.Errorf("factor: duplicate factor %s", f.Name)
		}
		seen[f.Name] = true
		if f.Compute == nil {
			return eris.Errorf("factor: %s has no compute function", f.Name)
		}
		if len(f.Inputs) == 0 {
			return eris.Errorf("factor: %s declares no input fields", f.Name)
		}
	}
	return nil
}

// FieldSet returns the union of all input field specs across factors,
// de-duplicated by key, in first-seen order.
func FieldSet(factors []Factor) []marketdata.FieldSpec {
	seen := make(map[string]bool)
	var fields []marketdata.FieldSpec
	for _, f := range factors {
		for _, spec := range f.Inputs {
			key := spec.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			fields = append(fields, spec)
		}
	}
	return fields
}

func lookup(rec marketdata.Record, spec marketdata.FieldSpec) (float64, bool) {
	v, ok := rec[spec.Key()]
	if !ok || v.Missing {
		return 0, false
	}
	return v.Float, true
}
