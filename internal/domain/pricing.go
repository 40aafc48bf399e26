package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ShippingMethod — тариф доставки с фиксированной стоимостью.
type ShippingMethod string

const (
	ShippingStandard  ShippingMethod = "STANDARD"
	ShippingExpress   ShippingMethod = "EXPRESS"
	ShippingOvernight ShippingMethod = "OVERNIGHT"
)

// Таблица стоимости доставки входит в контракт API.
var shippingCosts = map[ShippingMethod]int64{
	ShippingStandard:  299,
	ShippingExpress:   499,
	ShippingOvernight: 999,
}

// ParseShippingMethod разбирает значение из запроса без учёта регистра.
func ParseShippingMethod(raw string) (ShippingMethod, bool) {
	m := ShippingMethod(strings.ToUpper(strings.TrimSpace(raw)))
	return m, m.Valid()
}

// Valid проверяет, что тариф существует.
func (m ShippingMethod) Valid() bool {
	_, ok := shippingCosts[m]
	return ok
}

// Cost возвращает стоимость доставки.
func (m ShippingMethod) Cost() (int64, error) {
	cost, ok := shippingCosts[m]
	if !ok {
		return 0, ErrShippingMethodInvalid
	}
	return cost, nil
}

// MaxTaxRateBps — 100% в базисных пунктах.
const MaxTaxRateBps = 10000

// Totals — рассчитанные суммы заказа.
type Totals struct {
	Subtotal     int64
	ShippingCost int64
	TaxRateBps   int64
	Tax          int64
	Total        int64
}

// PricedLine — строка расчёта: цена за единицу и количество.
type PricedLine struct {
	UnitPrice int64
	Quantity  int
}

// ComputeTax считает налог как долю subtotal, округление half-up до целой единицы.
func ComputeTax(subtotal, taxRateBps int64) int64 {
	if subtotal <= 0 || taxRateBps <= 0 {
		return 0
	}
	return decimal.NewFromInt(subtotal).
		Mul(decimal.NewFromInt(taxRateBps)).
		Div(decimal.NewFromInt(MaxTaxRateBps)).
		Round(0).
		IntPart()
}

// ComputeTotals считает subtotal + доставка + налог. Один и тот же расчёт
// используется при оформлении и при проверке сохранённого заказа.
func ComputeTotals(lines []PricedLine, method ShippingMethod, taxRateBps int64) (Totals, error) {
	if len(lines) == 0 {
		return Totals{}, ErrItemsRequired
	}
	if taxRateBps < 0 || taxRateBps > MaxTaxRateBps {
		return Totals{}, ErrTaxRateInvalid
	}
	shipping, err := method.Cost()
	if err != nil {
		return Totals{}, err
	}

	var subtotal int64
	for _, line := range lines {
		if line.Quantity <= 0 {
			return Totals{}, ErrItemQtyInvalid
		}
		if line.UnitPrice < 0 {
			return Totals{}, ErrItemPriceInvalid
		}
		subtotal += line.UnitPrice * int64(line.Quantity)
	}

	tax := ComputeTax(subtotal, taxRateBps)
	return Totals{
		Subtotal:     subtotal,
		ShippingCost: shipping,
		TaxRateBps:   taxRateBps,
		Tax:          tax,
		Total:        subtotal + shipping + tax,
	}, nil
}

// FormatAmount печатает сумму с двумя знаками после запятой (для писем и логов).
func FormatAmount(amount int64) string {
	return decimal.NewFromInt(amount).StringFixed(2)
}
