package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/circularops/api/internal/csvimport"
	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/lineitem"
	"github.com/circularops/api/internal/store"
)

type rowSkip struct {
	kind    csvimport.Kind
	field   string
	message string
}

func pickupReferenceKeys(f *csvimport.File) map[RefKind][]string {
	keys := map[RefKind][]string{}
	for _, row := range f.Rows {
		keys[RefCustomer] = append(keys[RefCustomer], row.Get(csvimport.ColCompanyName))
		if driver := row.Get(csvimport.ColDriver); driver != "" {
			keys[RefDriver] = append(keys[RefDriver], driver)
		}
		if items, err := lineitem.ParseList(row.Get(csvimport.ColProducts)); err == nil {
			keys[RefProduct] = append(keys[RefProduct], lineitem.Names(items)...)
		}
	}
	return keys
}

// importPickups creates one scheduled pickup per row. Rows whose customer,
// driver, pickup date or products cannot be resolved are skipped with a warning.
func (im *Importer) importPickups(ctx context.Context, tx store.Store, rules csvimport.RuleSet, f *csvimport.File, refs map[RefKind]Lookup, progress *csvimport.Progress) (FileResult, error) {
	fr := FileResult{File: f.Name, Rows: len(f.Rows)}
	customers := map[uuid.UUID]domain.Customer{}
	ceiling := im.Coordinator.ceiling()

	for _, row := range f.Rows {
		pickup, skip, err := im.buildPickup(ctx, tx, rules, f.Name, row, refs, customers, ceiling)
		if err != nil {
			return fr, err
		}
		if skip != nil {
			im.skip(&fr, f.Name, row.Index, skip.kind, skip.field, skip.message)
			progress.Advance(1)
			continue
		}
		if _, err := tx.CreatePickup(ctx, pickup); err != nil {
			return fr, csvimport.Backend(f.Name, row.Index, err)
		}
		fr.Created++
		progress.Advance(1)
	}
	return fr, nil
}

func (im *Importer) buildPickup(
	ctx context.Context,
	tx store.Store,
	rules csvimport.RuleSet,
	file string,
	row csvimport.Row,
	refs map[RefKind]Lookup,
	customers map[uuid.UUID]domain.Customer,
	ceiling int64,
) (domain.Pickup, *rowSkip, error) {
	rec, err := csvimport.Validate(file, row, rules)
	if err != nil {
		var ie *csvimport.Error
		if errors.As(err, &ie) && (ie.Field == csvimport.ColCompanyName || ie.Field == csvimport.ColPickupDate) {
			return domain.Pickup{}, &rowSkip{csvimport.KindValidation, ie.Field, ie.Message}, nil
		}
		return domain.Pickup{}, nil, err
	}

	pickupDate := rec.Date(csvimport.ColPickupDate)
	if pickupDate == nil {
		return domain.Pickup{}, &rowSkip{csvimport.KindValidation, csvimport.ColPickupDate, fmt.Sprintf("pickup date %q is not a valid date", rec.Get(csvimport.ColPickupDate))}, nil
	}

	company := rec.Get(csvimport.ColCompanyName)
	customerRef := refs[RefCustomer].Resolve(company)
	if !customerRef.Found() {
		return domain.Pickup{}, &rowSkip{csvimport.KindResolutionMiss, csvimport.ColCompanyName, fmt.Sprintf("customer %q not found", company)}, nil
	}

	var driverID *uuid.UUID
	if name := rec.Get(csvimport.ColDriver); name != "" {
		driverRef := refs[RefDriver].Resolve(name)
		if !driverRef.Found() {
			return domain.Pickup{}, &rowSkip{csvimport.KindResolutionMiss, csvimport.ColDriver, fmt.Sprintf("driver %q not found", name)}, nil
		}
		driverID = driverRef.ID
	}

	items, err := lineitem.ParseList(rec.Get(csvimport.ColProducts))
	if err != nil {
		return domain.Pickup{}, nil, &csvimport.Error{
			Kind:    csvimport.KindValidation,
			File:    file,
			Row:     row.Index,
			Field:   csvimport.ColProducts,
			Message: err.Error(),
		}
	}
	// Each entry is bounded before summing so the merged total cannot wrap.
	for _, item := range items {
		if _, err := Decide(nil, item.Quantity, ceiling); err != nil {
			return domain.Pickup{}, nil, ceilingError(file, row.Index, item.ProductName, err)
		}
	}
	merged, err := lineitem.Aggregate(items)
	if err != nil {
		return domain.Pickup{}, nil, ceilingError(file, row.Index, rec.Get(csvimport.ColProducts), err)
	}
	allocations := make([]domain.Allocation, 0, len(merged))
	for _, item := range merged {
		if _, err := Decide(nil, item.Quantity, ceiling); err != nil {
			return domain.Pickup{}, nil, ceilingError(file, row.Index, item.ProductName, err)
		}
		productRef := refs[RefProduct].Resolve(item.ProductName)
		if !productRef.Found() {
			return domain.Pickup{}, &rowSkip{csvimport.KindResolutionMiss, csvimport.ColProducts, fmt.Sprintf("product %q not found", item.ProductName)}, nil
		}
		allocations = append(allocations, domain.Allocation{ProductID: *productRef.ID, ProductName: item.ProductName, Quantity: item.Quantity})
	}

	customer, ok := customers[*customerRef.ID]
	if !ok {
		customer, err = tx.GetCustomer(ctx, *customerRef.ID)
		if err != nil {
			return domain.Pickup{}, nil, csvimport.Backend(file, row.Index, err)
		}
		customers[customer.ID] = customer
	}

	pickup := domain.Pickup{
		CustomerID: customer.ID,
		DriverID:   driverID,
		Address:    rec.Get(csvimport.ColAddress),
		PickupDate: *pickupDate,
		EmptyBins:  rec.Count(csvimport.ColEmptyBins),
		FilledBins: rec.Count(csvimport.ColFilledBins),
		Status:     domain.PickupFlow.Normalize(rec.Get(csvimport.ColStatus)),
		Products:   allocations,
	}
	if loc, ok := customer.LocationByName(rec.Get(csvimport.ColLocationName)); ok {
		id := loc.ID
		pickup.LocationID = &id
		if pickup.Address == "" {
			pickup.Address = loc.Address
		}
	}
	if pickup.Address == "" {
		pickup.Address = customer.Address
	}
	return pickup, nil, nil
}
