package importer

import (
	"context"

	"github.com/circularops/api/internal/csvimport"
	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/store"
)

// importInventory adds each row's quantity to the product of the same name,
// creating products that do not exist yet.
func (im *Importer) importInventory(ctx context.Context, tx store.Store, rules csvimport.RuleSet, f *csvimport.File, progress *csvimport.Progress) (FileResult, error) {
	fr := FileResult{File: f.Name, Rows: len(f.Rows)}

	names := make([]string, 0, len(f.Rows))
	for _, row := range f.Rows {
		names = append(names, row.Get(csvimport.ColProductName))
	}
	products, err := im.Resolver.withStore(tx).Resolve(ctx, RefProduct, names)
	if err != nil {
		return fr, csvimport.Backend(f.Name, 0, err)
	}

	now := im.now()
	for _, row := range f.Rows {
		rec, err := csvimport.Validate(f.Name, row, rules)
		if err != nil {
			return fr, err
		}

		name := rec.Get(csvimport.ColProductName)
		ref := products.Resolve(name)
		draft := domain.Product{
			Name:             name,
			Description:      rec.Get(csvimport.ColDescription),
			ReservedLocation: rec.Get(csvimport.ColReservedLocation),
			CreatedAt:        csvimport.DateOr(rec.Date(csvimport.ColCreatedDate), now),
			UpdatedAt:        csvimport.DateOr(rec.Date(csvimport.ColLastUpdatedDate), now),
		}

		product, decision, err := im.Coordinator.UpsertProduct(ctx, tx, ref.ID, draft, rec.Quantity)
		if isQuantityError(err) {
			return fr, ceilingError(f.Name, row.Index, name, err)
		}
		if err != nil {
			return fr, csvimport.Backend(f.Name, row.Index, err)
		}

		products.Add(name, product.ID)
		if decision == DecisionInsert {
			fr.Created++
		} else {
			fr.Updated++
		}
		progress.Advance(1)
	}
	return fr, nil
}
