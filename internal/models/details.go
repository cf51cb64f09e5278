package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Details carries the service-specific part of an order. Exactly one
// variant exists per service type.
type Details interface {
	ServiceType() ServiceType
	Validate() error
}

// LaundryDetails describes a wash-and-fold pickup
type LaundryDetails struct {
	EstimatedWeightLbs float64  `json:"estimated_weight_lbs"`
	Detergent          string   `json:"detergent,omitempty"`
	Addons             []string `json:"addons,omitempty"`
}

func (LaundryDetails) ServiceType() ServiceType { return ServiceLaundry }

func (d LaundryDetails) Validate() error {
	if d.EstimatedWeightLbs <= 0 {
		return NewValidationError("INVALID_DETAILS", "estimated weight must be positive")
	}
	if d.EstimatedWeightLbs > 200 {
		return NewValidationError("INVALID_DETAILS", "estimated weight exceeds 200 lbs")
	}
	return nil
}

// CleaningDetails describes a home cleaning
type CleaningDetails struct {
	Bedrooms  int      `json:"bedrooms"`
	Bathrooms int      `json:"bathrooms"`
	DeepClean bool     `json:"deep_clean"`
	Addons    []string `json:"addons,omitempty"`
}

func (CleaningDetails) ServiceType() ServiceType { return ServiceCleaning }

func (d CleaningDetails) Validate() error {
	if d.Bedrooms < 0 || d.Bedrooms > 10 {
		return NewValidationError("INVALID_DETAILS", "bedrooms must be between 0 and 10")
	}
	if d.Bathrooms < 1 || d.Bathrooms > 10 {
		return NewValidationError("INVALID_DETAILS", "bathrooms must be between 1 and 10")
	}
	return nil
}

// DetailsColumn stores a Details variant as a tagged JSON document
type DetailsColumn struct {
	Details
}

type detailsEnvelope struct {
	ServiceType ServiceType      `json:"service_type"`
	Laundry     *LaundryDetails  `json:"laundry,omitempty"`
	Cleaning    *CleaningDetails `json:"cleaning,omitempty"`
}

// Laundry returns the laundry variant, if that is what the column holds
func (c DetailsColumn) Laundry() (LaundryDetails, bool) {
	switch d := c.Details.(type) {
	case LaundryDetails:
		return d, true
	case *LaundryDetails:
		return *d, true
	}
	return LaundryDetails{}, false
}

// Cleaning returns the cleaning variant, if that is what the column holds
func (c DetailsColumn) Cleaning() (CleaningDetails, bool) {
	switch d := c.Details.(type) {
	case CleaningDetails:
		return d, true
	case *CleaningDetails:
		return *d, true
	}
	return CleaningDetails{}, false
}

func (c DetailsColumn) MarshalJSON() ([]byte, error) {
	env := detailsEnvelope{}
	if l, ok := c.Laundry(); ok {
		env.ServiceType = ServiceLaundry
		env.Laundry = &l
	} else if cl, ok := c.Cleaning(); ok {
		env.ServiceType = ServiceCleaning
		env.Cleaning = &cl
	} else if c.Details != nil {
		return nil, fmt.Errorf("unsupported details type %T", c.Details)
	}
	return json.Marshal(env)
}

func (c *DetailsColumn) UnmarshalJSON(data []byte) error {
	var env detailsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to unmarshal details: %w", err)
	}
	switch env.ServiceType {
	case ServiceLaundry:
		if env.Laundry == nil {
			return NewValidationError("INVALID_DETAILS", "laundry details are required")
		}
		c.Details = *env.Laundry
	case ServiceCleaning:
		if env.Cleaning == nil {
			return NewValidationError("INVALID_DETAILS", "cleaning details are required")
		}
		c.Details = *env.Cleaning
	case "":
		c.Details = nil
	default:
		return NewValidationError("INVALID_SERVICE_TYPE", fmt.Sprintf("unknown service type %q", env.ServiceType))
	}
	return nil
}

// Value implements driver.Valuer
func (c DetailsColumn) Value() (driver.Value, error) {
	b, err := c.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (c *DetailsColumn) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return c.UnmarshalJSON(v)
	case string:
		return c.UnmarshalJSON([]byte(v))
	case nil:
		c.Details = nil
		return nil
	}
	return fmt.Errorf("cannot scan %T into details", src)
}
