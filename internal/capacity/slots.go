package capacity

import (
	"fmt"
	"time"

	"pickup-order-service/internal/models"
)

const dateLayout = "2006-01-02"

func partnerLocation(p *models.Partner) *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func slotLength(p *models.Partner) time.Duration {
	if p.SlotMinutes <= 0 {
		return 2 * time.Hour
	}
	return time.Duration(p.SlotMinutes) * time.Minute
}

// EnumerateSlots lists the partner's candidate slot starts on a local date
func EnumerateSlots(p *models.Partner, date string) ([]time.Time, error) {
	loc := partnerLocation(p)
	day, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return nil, models.NewValidationError("INVALID_DATE", fmt.Sprintf("date must be YYYY-MM-DD: %s", date))
	}

	length := slotLength(p)
	start := time.Date(day.Year(), day.Month(), day.Day(), p.DayStartHour, 0, 0, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day(), p.DayEndHour, 0, 0, 0, loc)

	var slots []time.Time
	for s := start; !s.Add(length).After(end); s = s.Add(length) {
		slots = append(slots, s.UTC())
	}
	return slots, nil
}

// SlotEnd returns when the slot starting at start ends
func SlotEnd(p *models.Partner, start time.Time) time.Time {
	return start.Add(slotLength(p))
}

// ValidateSlot checks that start lies on the partner's slot grid
func ValidateSlot(p *models.Partner, st models.ServiceType, start time.Time) error {
	if !p.Active || !p.Offers(st) {
		return models.NewValidationError("INVALID_PARTNER", fmt.Sprintf("partner %s does not offer %s", p.ID, st))
	}
	date := start.In(partnerLocation(p)).Format(dateLayout)
	slots, err := EnumerateSlots(p, date)
	if err != nil {
		return err
	}
	for _, s := range slots {
		if s.Equal(start) {
			return nil
		}
	}
	return models.NewValidationError("INVALID_SLOT", fmt.Sprintf("%s is not a bookable slot for partner %s", start.UTC().Format(time.RFC3339), p.ID))
}
