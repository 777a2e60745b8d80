package items

import "github.com/shopspring/decimal"

// Item is a stockable product. Quantities on every document referencing an
// item are stored in its standard unit; the wholesale unit is an alternate
// packaging convertible by a fixed factor.
type Item struct {
	ID              int64           `json:"id"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Abbreviation    string          `json:"abbreviation"`
	StandardUnit    string          `json:"standard_unit"`
	WholesaleUnit   string          `json:"wholesale_unit,omitempty"`
	WholesaleFactor decimal.Decimal `json:"wholesale_factor,omitempty"`
}

// HasWholesaleUnit reports whether the item declares a wholesale pack.
func (i Item) HasWholesaleUnit() bool {
	return i.WholesaleUnit != ""
}
