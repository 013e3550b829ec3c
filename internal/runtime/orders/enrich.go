package orders

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/drblury/amqptrace/internal/runtime/logging"
	"github.com/drblury/amqptrace/internal/runtime/telemetry"
)

// Catalog holds the fixed unit prices. Unknown products get a random price.
var Catalog = map[string]float64{
	"widget":    9.99,
	"gadget":    24.99,
	"gizmo":     14.50,
	"doohickey": 7.25,
}

const (
	CategoryKnown   = "known"
	CategoryDynamic = "dynamic"
	Currency        = "USD"

	minDynamicPrice = 5.0
	maxDynamicPrice = 50.0
)

type EnrichRequest struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

type EnrichResult struct {
	Product   string  `json:"product"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Price     float64 `json:"price"`
	Category  string  `json:"category"`
	Currency  string  `json:"currency"`
}

// Enricher prices products for the worker HTTP surface.
type Enricher struct {
	sink   *telemetry.Sink
	logger logging.ServiceLogger
	rand   func() float64
}

func NewEnricher(sink *telemetry.Sink, logger logging.ServiceLogger) *Enricher {
	if sink == nil {
		sink = telemetry.NopSink()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Enricher{sink: sink, logger: logger, rand: rand.Float64}
}

// Enrich looks the product up case-insensitively in Catalog.
func (e *Enricher) Enrich(ctx context.Context, req EnrichRequest) EnrichResult {
	_, span := e.sink.StartSpan(ctx, "enrich_product", map[string]any{
		"enrich.product":  req.Product,
		"enrich.quantity": req.Quantity,
	})
	defer span.End()

	category := CategoryKnown
	unit, ok := Catalog[strings.ToLower(req.Product)]
	if !ok {
		category = CategoryDynamic
		unit = round2(minDynamicPrice + e.rand()*(maxDynamicPrice-minDynamicPrice))
	}
	res := EnrichResult{
		Product:   req.Product,
		Quantity:  req.Quantity,
		UnitPrice: unit,
		Price:     round2(unit * float64(req.Quantity)),
		Category:  category,
		Currency:  Currency,
	}

	span.SetAttributes(map[string]any{"enrich.price": res.Price, "enrich.category": category})
	e.logger.Info("Enriched product", logging.LogFields{
		"product":  req.Product,
		"quantity": req.Quantity,
		"price":    res.Price,
	})
	return res
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
