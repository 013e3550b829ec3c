package orders

import (
	"context"
	"testing"
)

func TestEnrichKnownProduct(t *testing.T) {
	e := NewEnricher(nil, nil)
	got := e.Enrich(context.Background(), EnrichRequest{Product: "Widget", Quantity: 3})
	want := EnrichResult{Product: "Widget", Quantity: 3, UnitPrice: 9.99, Price: 29.97, Category: CategoryKnown, Currency: "USD"}
	if got != want {
		t.Fatalf("Enrich() = %+v, want %+v", got, want)
	}
}

func TestEnrichDynamicProduct(t *testing.T) {
	e := NewEnricher(nil, nil)
	for _, r := range []float64{0, 0.3333, 0.99999} {
		e.rand = func() float64 { return r }
		got := e.Enrich(context.Background(), EnrichRequest{Product: "Flux Capacitor", Quantity: 2})
		if got.Category != CategoryDynamic {
			t.Fatalf("unexpected category %q", got.Category)
		}
		if got.UnitPrice < 5 || got.UnitPrice > 50 {
			t.Fatalf("unit price %v out of range", got.UnitPrice)
		}
		if got.UnitPrice != round2(got.UnitPrice) || got.Price != round2(got.UnitPrice*2) {
			t.Fatalf("prices must be rounded to cents: %+v", got)
		}
	}
}
