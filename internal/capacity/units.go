package capacity

import (
	"fmt"

	"pickup-order-service/internal/models"
)

const (
	cleaningBaseMinutes    = 60
	minutesPerBedroom      = 30
	minutesPerBathroom     = 45
	deepCleanMultiplierPct = 150
)

var addonMinutes = map[string]int{
	"inside_fridge": 30,
	"inside_oven":   30,
	"windows":       45,
	"laundry":       30,
	"cabinets":      40,
}

// CleaningMinutes estimates how long a cleaning takes
func CleaningMinutes(d models.CleaningDetails) int {
	m := cleaningBaseMinutes + d.Bedrooms*minutesPerBedroom + d.Bathrooms*minutesPerBathroom
	if d.DeepClean {
		m = m * deepCleanMultiplierPct / 100
	}
	for _, a := range d.Addons {
		m += addonMinutes[a]
	}
	return m
}

// UnitsFor returns the ledger units an order consumes: one order for
// laundry, estimated minutes for cleaning.
func UnitsFor(details models.Details) (int, error) {
	col := models.DetailsColumn{Details: details}
	if _, ok := col.Laundry(); ok {
		return 1, nil
	}
	if d, ok := col.Cleaning(); ok {
		return CleaningMinutes(d), nil
	}
	return 0, fmt.Errorf("unsupported details type %T", details)
}
