// Package pricing computes booking estimates. The result is deterministic
// for a given input and configuration.
package pricing

import (
	"fmt"
	"math"

	"pickup-order-service/internal/models"
)

// Config holds the price list, in minor currency units
type Config struct {
	TaxRateBps          int64
	LaundryCentsPerLb   int64
	LaundryMinimumCents int64
	CleaningBaseCents   int64
	PerBedroomCents     int64
	PerBathroomCents    int64
	DeepCleanPct        int64
	DeliveryFeeCents    int64
	FreeDeliveryCents   int64
}

// DefaultConfig is the price list used when none is configured
func DefaultConfig() Config {
	return Config{
		TaxRateBps:          875,
		LaundryCentsPerLb:   199,
		LaundryMinimumCents: 3000,
		CleaningBaseCents:   6000,
		PerBedroomCents:     2000,
		PerBathroomCents:    2500,
		DeepCleanPct:        50,
		DeliveryFeeCents:    499,
		FreeDeliveryCents:   5000,
	}
}

var laundryAddons = map[string]int64{
	"hang_dry":        500,
	"hypoallergenic":  300,
	"stain_treatment": 700,
	"comforter":       1500,
}

var cleaningAddons = map[string]int64{
	"inside_fridge": 3500,
	"inside_oven":   3500,
	"windows":       4500,
	"laundry":       2500,
	"cabinets":      3000,
}

// Calculator implements the quote contract
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator over the given price list
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Quote prices a booking
func (c *Calculator) Quote(st models.ServiceType, zip string, details models.Details) (models.PriceBreakdown, error) {
	if details == nil || details.ServiceType() != st {
		return models.PriceBreakdown{}, models.NewValidationError("INVALID_DETAILS", fmt.Sprintf("details do not match service type %s", st))
	}
	if err := details.Validate(); err != nil {
		return models.PriceBreakdown{}, err
	}
	if zip == "" {
		return models.PriceBreakdown{}, models.NewValidationError("INVALID_ZIP", "zip code is required")
	}

	var subtotal, delivery int64
	col := models.DetailsColumn{Details: details}

	switch st {
	case models.ServiceLaundry:
		d, _ := col.Laundry()
		subtotal = int64(math.Round(d.EstimatedWeightLbs * float64(c.cfg.LaundryCentsPerLb)))
		if subtotal < c.cfg.LaundryMinimumCents {
			subtotal = c.cfg.LaundryMinimumCents
		}
		add, err := addonTotal(laundryAddons, d.Addons)
		if err != nil {
			return models.PriceBreakdown{}, err
		}
		subtotal += add
		if subtotal < c.cfg.FreeDeliveryCents {
			delivery = c.cfg.DeliveryFeeCents
		}
	case models.ServiceCleaning:
		d, _ := col.Cleaning()
		subtotal = c.cfg.CleaningBaseCents +
			int64(d.Bedrooms)*c.cfg.PerBedroomCents +
			int64(d.Bathrooms)*c.cfg.PerBathroomCents
		if d.DeepClean {
			subtotal += subtotal * c.cfg.DeepCleanPct / 100
		}
		add, err := addonTotal(cleaningAddons, d.Addons)
		if err != nil {
			return models.PriceBreakdown{}, err
		}
		subtotal += add
	}

	tax := (subtotal*c.cfg.TaxRateBps + 5000) / 10000
	return models.PriceBreakdown{
		SubtotalCents:    subtotal,
		TaxCents:         tax,
		DeliveryFeeCents: delivery,
		TotalCents:       subtotal + tax + delivery,
	}, nil
}

func addonTotal(prices map[string]int64, addons []string) (int64, error) {
	var total int64
	for _, a := range addons {
		p, ok := prices[a]
		if !ok {
			return 0, models.NewValidationError("INVALID_ADDON", fmt.Sprintf("unknown addon %q", a))
		}
		total += p
	}
	return total, nil
}
