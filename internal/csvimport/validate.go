package csvimport

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/circularops/api/internal/domain"
)

const (
	ColProductName      = "Product Name"
	ColQuantity         = "Quantity (kg)"
	ColDescription      = "Product Description"
	ColReservedLocation = "Reserved Location"
	ColCreatedDate      = "Created Date"
	ColLastUpdatedDate  = "Last Updated Date"

	ColCompanyName         = "Company Name"
	ColEmail               = "Email"
	ColPhone               = "Phone"
	ColAddress             = "Address"
	ColLocationName        = "Location Name"
	ColLocationAddress     = "Location Address"
	ColInitialEmptyBins    = "Initial Empty Bins"
	ColDefaultProductTypes = "Default Product Types"

	ColPickupDate = "Pickup Date"
	ColEmptyBins  = "Empty Bins"
	ColFilledBins = "Filled Bins"
	ColStatus     = "Status"
	ColDriver     = "Driver"
	ColProducts   = "Products"
)

var (
	InventoryHeaders = []string{ColProductName, ColQuantity, ColDescription, ColReservedLocation, ColCreatedDate, ColLastUpdatedDate}
	CustomerHeaders  = []string{ColCompanyName, ColEmail, ColPhone, ColAddress, ColLocationName, ColLocationAddress, ColInitialEmptyBins, ColDefaultProductTypes}
	PickupHeaders    = []string{ColCompanyName, ColLocationName, ColAddress, ColPickupDate, ColEmptyBins, ColFilledBins, ColStatus, ColDriver, ColProducts}
)

// RuleSet describes how rows of one import type are validated.
type RuleSet struct {
	Name     string
	Required []string
	// Quantity names the column holding a ceiling-bound quantity, if any.
	Quantity string
	// Product names the column used to label quantity errors.
	Product string
	Dates   []string
	Counts  []string
	Ceiling int64
}

var (
	InventoryRules = RuleSet{
		Name:     "inventory",
		Required: []string{ColProductName, ColQuantity},
		Quantity: ColQuantity,
		Product:  ColProductName,
		Dates:    []string{ColCreatedDate, ColLastUpdatedDate},
	}
	PickupRules = RuleSet{
		Name:     "pickup",
		Required: []string{ColCompanyName, ColPickupDate},
		Dates:    []string{ColPickupDate},
		Counts:   []string{ColEmptyBins, ColFilledBins},
	}
	CustomerRules = RuleSet{
		Name:     "customer",
		Required: []string{ColCompanyName, ColEmail, ColPhone, ColAddress},
		Counts:   []string{ColInitialEmptyBins},
	}
)

// WithCeiling returns a copy of rs with a different quantity ceiling.
func (rs RuleSet) WithCeiling(ceiling int64) RuleSet {
	rs.Ceiling = ceiling
	return rs
}

func (rs RuleSet) ceiling() int64 {
	if rs.Ceiling > 0 {
		return rs.Ceiling
	}
	return domain.MaxQuantity
}

// Record is a validated row.
type Record struct {
	Row      Row
	Quantity int64
	dates    map[string]*time.Time
	counts   map[string]int
}

func (r Record) Get(col string) string {
	return r.Row.Values[col]
}

// Date returns the parsed date of col, nil when absent or unparseable.
func (r Record) Date(col string) *time.Time {
	return r.dates[col]
}

func (r Record) Count(col string) int {
	return r.counts[col]
}

// CheckHeaders fails when the header row lacks a required column.
func CheckHeaders(f *File, rules RuleSet) error {
	for _, col := range rules.Required {
		if !f.HasHeader(col) {
			return &Error{Kind: KindValidation, File: f.Name, Field: col, Message: fmt.Sprintf("missing required column %q", col)}
		}
	}
	return nil
}

// Validate checks row against rules and normalizes its typed fields.
func Validate(file string, row Row, rules RuleSet) (Record, error) {
	if row.Mismatched() {
		return Record{}, &Error{
			Kind:    KindValidation,
			File:    file,
			Row:     row.Index,
			Message: fmt.Sprintf("row has %d columns, header has %d", row.Fields, row.width),
		}
	}
	for _, col := range rules.Required {
		if strings.TrimSpace(row.Get(col)) == "" {
			return Record{}, &Error{Kind: KindValidation, File: file, Row: row.Index, Field: col, Message: "required value is missing"}
		}
	}

	rec := Record{Row: row, dates: map[string]*time.Time{}, counts: map[string]int{}}
	if rules.Quantity != "" {
		qty, err := ParseQuantity(row.Get(rules.Quantity), rules.ceiling())
		if err != nil {
			return Record{}, &Error{
				Kind:    KindValidation,
				File:    file,
				Row:     row.Index,
				Field:   rules.Quantity,
				Product: row.Get(rules.Product),
				Message: fmt.Sprintf("invalid quantity %q for product %q in %s: %v", row.Get(rules.Quantity), row.Get(rules.Product), file, err),
			}
		}
		rec.Quantity = qty
	}
	for _, col := range rules.Dates {
		rec.dates[col] = ParseDate(row.Get(col))
	}
	for _, col := range rules.Counts {
		n, err := parseIntNonNegative(row.Get(col))
		if err != nil {
			return Record{}, &Error{Kind: KindValidation, File: file, Row: row.Index, Field: col, Message: err.Error()}
		}
		rec.counts[col] = n
	}
	return rec, nil
}

// ParseQuantity accepts a whole number in [0, ceiling].
func ParseQuantity(raw string, ceiling int64) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("must be a whole number")
	}
	if v < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	if v > ceiling {
		return 0, fmt.Errorf("must not exceed %d", ceiling)
	}
	return v, nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
}

// ParseDate returns nil for blank or unparseable input.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t := parsed.UTC()
			return &t
		}
	}
	return nil
}

// DateOr returns *t or fallback when t is nil.
func DateOr(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}

func parseIntNonNegative(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("must be a whole number")
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return n, nil
}
