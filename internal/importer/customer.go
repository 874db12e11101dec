package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/circularops/api/internal/csvimport"
	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/store"
)

type customerGroup struct {
	company string
	records []csvimport.Record
}

// groupCustomerRows validates every row and groups them by company name in
// first-seen order.
func groupCustomerRows(f *csvimport.File, rules csvimport.RuleSet) ([]*customerGroup, error) {
	index := map[string]*customerGroup{}
	groups := []*customerGroup{}
	for _, row := range f.Rows {
		rec, err := csvimport.Validate(f.Name, row, rules)
		if err != nil {
			return nil, err
		}
		company := rec.Get(csvimport.ColCompanyName)
		g, ok := index[company]
		if !ok {
			g = &customerGroup{company: company}
			index[company] = g
			groups = append(groups, g)
		}
		g.records = append(g.records, rec)
	}
	return groups, nil
}

// ParseDefaultProductTypes splits a comma separated list of product names.
func ParseDefaultProductTypes(raw string) []domain.DefaultProductType {
	out := []domain.DefaultProductType{}
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		out = append(out, domain.DefaultProductType{ProductName: name, Description: ""})
	}
	return out
}

func (g *customerGroup) customer() domain.Customer {
	first := g.records[0]
	c := domain.Customer{
		CompanyName:         g.company,
		Email:               first.Get(csvimport.ColEmail),
		Phone:               first.Get(csvimport.ColPhone),
		Address:             first.Get(csvimport.ColAddress),
		DefaultProductTypes: []domain.DefaultProductType{},
	}
	seenTypes := map[string]struct{}{}
	seenLocations := map[string]struct{}{}
	for _, rec := range g.records {
		for _, t := range ParseDefaultProductTypes(rec.Get(csvimport.ColDefaultProductTypes)) {
			if _, ok := seenTypes[t.ProductName]; ok {
				continue
			}
			seenTypes[t.ProductName] = struct{}{}
			c.DefaultProductTypes = append(c.DefaultProductTypes, t)
		}

		name := rec.Get(csvimport.ColLocationName)
		if name == "" {
			name = rec.Get(csvimport.ColAddress)
		}
		if _, ok := seenLocations[name]; ok {
			continue
		}
		seenLocations[name] = struct{}{}
		address := rec.Get(csvimport.ColLocationAddress)
		if address == "" {
			address = rec.Get(csvimport.ColAddress)
		}
		c.Locations = append(c.Locations, domain.Location{
			Name:      name,
			Address:   address,
			EmptyBins: rec.Count(csvimport.ColInitialEmptyBins),
		})
	}
	return c
}

// importCustomers creates one customer per distinct company name with a
// location per row. Existing customers get their contact details refreshed and
// any new locations appended.
func (im *Importer) importCustomers(ctx context.Context, tx store.Store, rules csvimport.RuleSet, f *csvimport.File, progress *csvimport.Progress) (FileResult, error) {
	fr := FileResult{File: f.Name, Rows: len(f.Rows)}

	groups, err := groupCustomerRows(f, rules)
	if err != nil {
		return fr, err
	}
	companies := make([]string, 0, len(groups))
	for _, g := range groups {
		companies = append(companies, g.company)
	}
	existing, err := im.Resolver.withStore(tx).Resolve(ctx, RefCustomer, companies)
	if err != nil {
		return fr, csvimport.Backend(f.Name, 0, err)
	}

	for _, g := range groups {
		firstRow := g.records[0].Row.Index
		incoming := g.customer()
		ref := existing.Resolve(g.company)
		if !ref.Found() {
			if _, err := tx.CreateCustomer(ctx, incoming); err != nil {
				return fr, csvimport.Backend(f.Name, firstRow, fmt.Errorf("create customer %q: %w", g.company, err))
			}
			fr.Created++
			progress.Advance(len(g.records))
			continue
		}

		current, err := tx.GetCustomer(ctx, *ref.ID)
		if err != nil {
			return fr, csvimport.Backend(f.Name, firstRow, err)
		}
		current.Email, current.Phone, current.Address = incoming.Email, incoming.Phone, incoming.Address
		if len(incoming.DefaultProductTypes) > 0 {
			current.DefaultProductTypes = incoming.DefaultProductTypes
		}
		if err := tx.UpdateCustomer(ctx, current); err != nil {
			return fr, csvimport.Backend(f.Name, firstRow, err)
		}
		for _, loc := range incoming.Locations {
			if _, ok := current.LocationByName(loc.Name); ok {
				continue
			}
			loc.CustomerID = current.ID
			if _, err := tx.AddLocation(ctx, loc); err != nil {
				return fr, csvimport.Backend(f.Name, firstRow, err)
			}
		}
		fr.Updated++
		progress.Advance(len(g.records))
	}
	return fr, nil
}
