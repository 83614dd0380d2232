package domain

import (
	"time"

	"github.com/google/uuid"
)

// AssetFields is the normalized field set of one tracked register record.
// Empty string means the register publishes no value for the field.
type AssetFields struct {
	OwnerID         string `json:"owner_id"`
	Description     string `json:"description"`
	Location        string `json:"location"`
	Category        string `json:"category"`
	AccessDetails   string `json:"access_details"`
	ContactName     string `json:"contact_name"`
	AddressLine1    string `json:"address_line1"`
	AddressLine2    string `json:"address_line2"`
	AddressCity     string `json:"address_city"`
	AddressPostcode string `json:"address_postcode"`
	Telephone       string `json:"telephone"`
	Fax             string `json:"fax"`
	Email           string `json:"email"`
	Website         string `json:"website"`
}

// FieldNames lists the diffable fields in a stable order.
var FieldNames = []string{
	"owner_id",
	"description",
	"location",
	"category",
	"access_details",
	"contact_name",
	"address_line1",
	"address_line2",
	"address_city",
	"address_postcode",
	"telephone",
	"fax",
	"email",
	"website",
}

// Map flattens the field set into field name -> value, keyed by the
// names in FieldNames. Temporal columns are deliberately not part of it.
func (f AssetFields) Map() map[string]string {
	return map[string]string{
		"owner_id":         f.OwnerID,
		"description":      f.Description,
		"location":         f.Location,
		"category":         f.Category,
		"access_details":   f.AccessDetails,
		"contact_name":     f.ContactName,
		"address_line1":    f.AddressLine1,
		"address_line2":    f.AddressLine2,
		"address_city":     f.AddressCity,
		"address_postcode": f.AddressPostcode,
		"telephone":        f.Telephone,
		"fax":              f.Fax,
		"email":            f.Email,
		"website":          f.Website,
	}
}

// Asset is one SCD Type 2 version row of a tracked register record.
// A nil ValidUntil marks the current version. Rows are immutable once
// written; a change closes the open row and inserts a new one.
type Asset struct {
	ID       uuid.UUID `json:"id"`
	UniqueID string    `json:"unique_id"`
	AssetFields
	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewAsset creates an open version row starting at validFrom.
func NewAsset(uniqueID string, fields AssetFields, validFrom time.Time) Asset {
	return Asset{
		ID:          uuid.New(),
		UniqueID:    uniqueID,
		AssetFields: fields,
		ValidFrom:   validFrom,
		ValidUntil:  nil,
		CreatedAt:   time.Now(),
	}
}

// IsCurrent reports whether this row is the open version.
func (a Asset) IsCurrent() bool {
	return a.ValidUntil == nil
}

// ValidAt reports whether this version's validity interval contains date:
// valid_from <= date AND (valid_until IS NULL OR valid_until > date).
func (a Asset) ValidAt(date time.Time) bool {
	if a.ValidFrom.After(date) {
		return false
	}
	return a.ValidUntil == nil || a.ValidUntil.After(date)
}
