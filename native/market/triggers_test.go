package market

import "testing"

func marginOf(t *testing.T, borrow uint64) LiquidationMargin {
	t.Helper()
	return LiquidationMargin{Borrow: decimalOf(t, borrow)}
}

func TestLiquidationPriceZeroNotionalReportsNotApplicable(t *testing.T) {
	pos := &Position{NotionalSize: NewSigned(Zero(), false)}
	_, ok, err := liquidationPrice(pos, decimalOf(t, 100))
	if err != nil {
		t.Fatalf("liquidationPrice: %v", err)
	}
	if ok {
		t.Fatalf("expected no liquidation price for a flat position")
	}
}

func TestLiquidationPriceLongBelowEntry(t *testing.T) {
	pos := &Position{
		NotionalSize:      NewSigned(decimalOf(t, 10), false),
		ActiveCollateral:  decimalOf(t, 50),
		CounterCollateral: decimalOf(t, 0),
		Margin:            marginOf(t, 20),
	}
	price, ok, err := liquidationPrice(pos, decimalOf(t, 100))
	if err != nil {
		t.Fatalf("liquidationPrice: %v", err)
	}
	if !ok {
		t.Fatalf("expected a liquidation price")
	}
	if price.Cmp(decimalOf(t, 97)) != 0 {
		t.Fatalf("expected liquidation price 97, got %s", price.String())
	}
}

func TestLiquidationPriceShortAboveEntry(t *testing.T) {
	pos := &Position{
		NotionalSize:     NewSigned(decimalOf(t, 10), true),
		ActiveCollateral: decimalOf(t, 50),
		Margin:           marginOf(t, 20),
	}
	price, ok, err := liquidationPrice(pos, decimalOf(t, 100))
	if err != nil {
		t.Fatalf("liquidationPrice: %v", err)
	}
	if !ok {
		t.Fatalf("expected a liquidation price")
	}
	if price.Cmp(decimalOf(t, 103)) != 0 {
		t.Fatalf("expected liquidation price 103, got %s", price.String())
	}
}

func TestLiquidationPriceClampsAtZero(t *testing.T) {
	pos := &Position{
		NotionalSize:     NewSigned(decimalOf(t, 10), false),
		ActiveCollateral: decimalOf(t, 50),
		Margin:           marginOf(t, 0),
	}
	price, ok, err := liquidationPrice(pos, decimalOf(t, 2))
	if err != nil {
		t.Fatalf("liquidationPrice: %v", err)
	}
	if !ok {
		t.Fatalf("expected a liquidation price")
	}
	if !price.IsZero() {
		t.Fatalf("expected a negative solve to clamp to zero, got %s", price.String())
	}
}

func TestTakeProfitPriceLongAndShort(t *testing.T) {
	long := &Position{
		NotionalSize:      NewSigned(decimalOf(t, 10), false),
		CounterCollateral: decimalOf(t, 30),
	}
	price, ok, err := takeProfitPrice(long, decimalOf(t, 100))
	if err != nil {
		t.Fatalf("takeProfitPrice long: %v", err)
	}
	if !ok || price.Cmp(decimalOf(t, 103)) != 0 {
		t.Fatalf("expected take-profit price 103 for the long, got %s ok=%v", price.String(), ok)
	}

	short := &Position{
		NotionalSize:      NewSigned(decimalOf(t, 10), true),
		CounterCollateral: decimalOf(t, 30),
	}
	price, ok, err = takeProfitPrice(short, decimalOf(t, 100))
	if err != nil {
		t.Fatalf("takeProfitPrice short: %v", err)
	}
	if !ok || price.Cmp(decimalOf(t, 97)) != 0 {
		t.Fatalf("expected take-profit price 97 for the short, got %s ok=%v", price.String(), ok)
	}
}

func TestTakeProfitPriceZeroNotionalReportsNotApplicable(t *testing.T) {
	pos := &Position{NotionalSize: NewSigned(Zero(), false)}
	_, ok, err := takeProfitPrice(pos, decimalOf(t, 100))
	if err != nil {
		t.Fatalf("takeProfitPrice: %v", err)
	}
	if ok {
		t.Fatalf("expected no take-profit price for a flat position")
	}
}
