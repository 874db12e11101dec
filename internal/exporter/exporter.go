// Package exporter renders store contents as CSV or XLSX files whose columns
// match the import headers, so an export can be uploaded again unchanged.
package exporter

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/xuri/excelize/v2"

	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/lineitem"
	"github.com/circularops/api/internal/store"
)

type Kind string

const (
	KindProducts  Kind = "products"
	KindPickups   Kind = "pickups"
	KindCustomers Kind = "customers"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindProducts, KindPickups, KindCustomers:
		return Kind(raw), nil
	}
	return "", fmt.Errorf("unknown export kind %q", raw)
}

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(raw)) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unknown export format %q", raw)
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

var filePrefixes = map[Kind]string{
	KindProducts:  "inventory",
	KindPickups:   "pickup_schedule",
	KindCustomers: "customers",
}

var sheetNames = map[Kind]string{
	KindProducts:  "Inventory",
	KindPickups:   "Pickup Schedule",
	KindCustomers: "Customers",
}

// Filename is the download name for an export taken at now, e.g.
// pickup_schedule_2026-03-01.csv.
func Filename(kind Kind, format Format, now time.Time) string {
	return fmt.Sprintf("%s_%s.%s", filePrefixes[kind], now.UTC().Format("2006-01-02"), format)
}

type InventoryRow struct {
	ProductName      string `csv:"Product Name"`
	Quantity         int64  `csv:"Quantity (kg)"`
	Description      string `csv:"Product Description"`
	ReservedLocation string `csv:"Reserved Location"`
	CreatedDate      string `csv:"Created Date"`
	LastUpdatedDate  string `csv:"Last Updated Date"`
}

func (r InventoryRow) cells() []any {
	return []any{r.ProductName, r.Quantity, r.Description, r.ReservedLocation, r.CreatedDate, r.LastUpdatedDate}
}

type PickupRow struct {
	CompanyName  string `csv:"Company Name"`
	LocationName string `csv:"Location Name"`
	Address      string `csv:"Address"`
	PickupDate   string `csv:"Pickup Date"`
	EmptyBins    int    `csv:"Empty Bins"`
	FilledBins   int    `csv:"Filled Bins"`
	Status       string `csv:"Status"`
	Driver       string `csv:"Driver"`
	Products     string `csv:"Products"`
}

func (r PickupRow) cells() []any {
	return []any{r.CompanyName, r.LocationName, r.Address, r.PickupDate, r.EmptyBins, r.FilledBins, r.Status, r.Driver, r.Products}
}

type CustomerRow struct {
	CompanyName         string `csv:"Company Name"`
	Email               string `csv:"Email"`
	Phone               string `csv:"Phone"`
	Address             string `csv:"Address"`
	LocationName        string `csv:"Location Name"`
	LocationAddress     string `csv:"Location Address"`
	InitialEmptyBins    int    `csv:"Initial Empty Bins"`
	DefaultProductTypes string `csv:"Default Product Types"`
}

func (r CustomerRow) cells() []any {
	return []any{r.CompanyName, r.Email, r.Phone, r.Address, r.LocationName, r.LocationAddress, r.InitialEmptyBins, r.DefaultProductTypes}
}

type row interface {
	cells() []any
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func InventoryRows(products []domain.Product) []InventoryRow {
	rows := make([]InventoryRow, 0, len(products))
	for _, p := range products {
		rows = append(rows, InventoryRow{
			ProductName:      p.Name,
			Quantity:         p.Quantity,
			Description:      p.Description,
			ReservedLocation: p.ReservedLocation,
			CreatedDate:      formatTime(p.CreatedAt),
			LastUpdatedDate:  formatTime(p.UpdatedAt),
		})
	}
	return rows
}

func PickupRows(pickups []domain.Pickup) []PickupRow {
	rows := make([]PickupRow, 0, len(pickups))
	for _, p := range pickups {
		items := make([]lineitem.Item, 0, len(p.Products))
		for _, a := range p.Products {
			items = append(items, lineitem.Item{ProductName: a.ProductName, Quantity: a.Quantity})
		}
		rows = append(rows, PickupRow{
			CompanyName:  p.CompanyName,
			LocationName: p.Location,
			Address:      p.Address,
			PickupDate:   formatTime(p.PickupDate),
			EmptyBins:    p.EmptyBins,
			FilledBins:   p.FilledBins,
			Status:       p.Status,
			Driver:       p.DriverName,
			Products:     lineitem.FormatList(items),
		})
	}
	return rows
}

// CustomerRows writes one row per location. Address is always the customer's
// own address; the location's address goes in its own column. A customer
// without locations still gets a single row so it survives a re-import.
func CustomerRows(customers []domain.Customer) []CustomerRow {
	rows := make([]CustomerRow, 0, len(customers))
	for _, c := range customers {
		types := make([]string, 0, len(c.DefaultProductTypes))
		for _, t := range c.DefaultProductTypes {
			types = append(types, t.ProductName)
		}
		base := CustomerRow{
			CompanyName:         c.CompanyName,
			Email:               c.Email,
			Phone:               c.Phone,
			Address:             c.Address,
			DefaultProductTypes: strings.Join(types, ", "),
		}
		if len(c.Locations) == 0 {
			rows = append(rows, base)
			continue
		}
		for _, loc := range c.Locations {
			r := base
			r.LocationName = loc.Name
			r.LocationAddress = loc.Address
			r.InitialEmptyBins = loc.EmptyBins
			rows = append(rows, r)
		}
	}
	return rows
}

// Source is the read side of the store an export needs.
type Source interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListPickups(ctx context.Context) ([]domain.Pickup, error)
	SearchCustomers(ctx context.Context, term string) ([]domain.Customer, error)
}

var _ Source = (store.Store)(nil)

// Write renders kind in format to w and returns the number of data rows.
func Write(ctx context.Context, src Source, kind Kind, format Format, w io.Writer) (int, error) {
	switch kind {
	case KindProducts:
		products, err := src.ListProducts(ctx)
		if err != nil {
			return 0, fmt.Errorf("list products: %w", err)
		}
		return encode(w, format, sheetNames[kind], InventoryRows(products))
	case KindPickups:
		pickups, err := src.ListPickups(ctx)
		if err != nil {
			return 0, fmt.Errorf("list pickups: %w", err)
		}
		return encode(w, format, sheetNames[kind], PickupRows(pickups))
	case KindCustomers:
		customers, err := src.SearchCustomers(ctx, "")
		if err != nil {
			return 0, fmt.Errorf("list customers: %w", err)
		}
		return encode(w, format, sheetNames[kind], CustomerRows(customers))
	}
	return 0, fmt.Errorf("unknown export kind %q", kind)
}

func encode[T row](w io.Writer, format Format, sheet string, rows []T) (int, error) {
	if format == FormatXLSX {
		return len(rows), writeXLSX(w, sheet, rows)
	}
	return len(rows), writeCSV(w, rows)
}

func writeCSV[T row](w io.Writer, rows []T) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if len(rows) == 0 {
		var zero T
		if err := enc.EncodeHeader(zero); err != nil {
			return fmt.Errorf("encode header: %w", err)
		}
	} else if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX[T row](w io.Writer, sheet string, rows []T) error {
	var zero T
	header, err := csvutil.Header(zero, "csv")
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	headerCells := make([]any, len(header))
	for i, h := range header {
		headerCells[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &headerCells); err != nil {
		return err
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := r.cells()
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	return f.Write(w)
}
