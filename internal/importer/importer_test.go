package importer

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circularops/api/internal/csvimport"
	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/store"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestImporter(t *testing.T) (*Importer, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	mem.Now = func() time.Time { return fixedNow }
	im := New(mem, slog.New(slog.NewTextHandler(io.Discard, nil)), domain.MaxQuantity, 0)
	im.Now = func() time.Time { return fixedNow }
	return im, mem
}

func upload(name, body string) Upload {
	return Upload{Name: name, Body: strings.NewReader(body)}
}

func productsByName(t *testing.T, s store.Store) map[string]domain.Product {
	t.Helper()
	list, err := s.ListProducts(context.Background())
	require.NoError(t, err)
	out := map[string]domain.Product{}
	for _, p := range list {
		out[p.Name] = p
	}
	return out
}

func seedProduct(t *testing.T, s store.Store, name string, qty int64) domain.Product {
	t.Helper()
	p, err := s.CreateProduct(context.Background(), domain.Product{Name: name, Quantity: qty})
	require.NoError(t, err)
	return p
}

const inventoryHeader = "Product Name,Quantity (kg),Product Description,Reserved Location,Created Date,Last Updated Date\n"

func TestInventoryImportAddsToExistingAndInsertsNew(t *testing.T) {
	ctx := context.Background()
	im, mem := newTestImporter(t)
	seedProduct(t, mem, "kale", 3)

	res, err := im.Run(ctx, KindInventory, []Upload{upload("inv.csv", inventoryHeader+
		"kale,5,,,,\n"+
		"spinach,7,Leafy,Bay 2,2024-01-02,not-a-date\n")}, nil)
	require.NoError(t, err)

	require.Len(t, res.Files, 1)
	assert.Equal(t, 1, res.Files[0].Created)
	assert.Equal(t, 1, res.Files[0].Updated)
	assert.Equal(t, csvimport.StateSucceeded, res.Progress.State)
	assert.Equal(t, 100, res.Progress.Percent)

	products := productsByName(t, mem)
	assert.EqualValues(t, 8, products["kale"].Quantity)
	spinach := products["spinach"]
	assert.EqualValues(t, 7, spinach.Quantity)
	assert.Equal(t, "Leafy", spinach.Description)
	assert.Equal(t, "Bay 2", spinach.ReservedLocation)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), spinach.CreatedAt)
	assert.Equal(t, fixedNow, spinach.UpdatedAt)
}

func TestInventoryImportMergesRepeatedProductWithinFile(t *testing.T) {
	im, mem := newTestImporter(t)
	_, err := im.Run(context.Background(), KindInventory, []Upload{upload("inv.csv", inventoryHeader+
		"kale,5,,,,\nkale,3,,,,\nkale,0,,,,\n")}, nil)
	require.NoError(t, err)

	assert.EqualValues(t, 8, productsByName(t, mem)["kale"].Quantity)
}

func TestInventoryCeilingViolationWritesNothing(t *testing.T) {
	im, mem := newTestImporter(t)
	seedProduct(t, mem, "kale", 9_999_999)

	res, err := im.Run(context.Background(), KindInventory, []Upload{upload("inv.csv", inventoryHeader+
		"beet,4,,,,\nkale,2,,,,\n")}, nil)
	require.Error(t, err)
	assert.Equal(t, csvimport.KindCeiling, csvimport.KindOf(err))
	assert.Contains(t, err.Error(), "kale")
	assert.Contains(t, err.Error(), "inv.csv")

	products := productsByName(t, mem)
	assert.EqualValues(t, 9_999_999, products["kale"].Quantity)
	assert.NotContains(t, products, "beet")
	assert.Equal(t, csvimport.StateFailed, res.Progress.State)
	assert.Equal(t, 50, res.Progress.Percent)
}

func TestInventoryValidationErrorAbortsFile(t *testing.T) {
	im, mem := newTestImporter(t)
	_, err := im.Run(context.Background(), KindInventory, []Upload{upload("inv.csv", inventoryHeader+
		"kale,5,,,,\nbeet,-1,,,,\n")}, nil)
	require.Error(t, err)
	assert.Equal(t, csvimport.KindValidation, csvimport.KindOf(err))
	assert.Empty(t, productsByName(t, mem))
}

func TestBatchKeepsEarlierFilesWhenLaterFileFails(t *testing.T) {
	im, mem := newTestImporter(t)
	var seen []csvimport.Snapshot
	progress := csvimport.NewProgress(func(s csvimport.Snapshot) { seen = append(seen, s) })

	res, err := im.Run(context.Background(), KindInventory, []Upload{
		upload("first.csv", inventoryHeader+"kale,5,,,,\n"),
		upload("second.csv", inventoryHeader+"beet,1,,,,\nchard,abc,,,,\n"),
	}, progress)
	require.Error(t, err)

	require.Len(t, res.Files, 1)
	products := productsByName(t, mem)
	assert.EqualValues(t, 5, products["kale"].Quantity)
	assert.NotContains(t, products, "beet")

	last := 0
	for _, s := range seen {
		assert.GreaterOrEqual(t, s.Percent, last)
		last = s.Percent
	}
	assert.Equal(t, csvimport.StateFailed, progress.Snapshot().State)
	assert.Equal(t, 66, progress.Snapshot().Percent)
}

func TestParseErrorStopsBatchBeforeWrites(t *testing.T) {
	im, mem := newTestImporter(t)
	_, err := im.Run(context.Background(), KindInventory, []Upload{
		upload("ok.csv", inventoryHeader+"kale,5,,,,\n"),
		upload("photo.png", "\x89PNG\r\n\x1a\n\x00\x00"),
	}, nil)
	require.Error(t, err)
	assert.Equal(t, csvimport.KindParse, csvimport.KindOf(err))
	assert.Empty(t, productsByName(t, mem))
}

func TestMissingRequiredColumnFailsFile(t *testing.T) {
	im, _ := newTestImporter(t)
	_, err := im.Run(context.Background(), KindInventory, []Upload{upload("inv.csv", "Product Name\nkale\n")}, nil)
	assert.Equal(t, csvimport.KindValidation, csvimport.KindOf(err))
}

const pickupHeader = "Company Name,Location Name,Address,Pickup Date,Empty Bins,Filled Bins,Status,Driver,Products\n"

func seedPickupRefs(t *testing.T, s store.Store) domain.Customer {
	t.Helper()
	ctx := context.Background()
	c, err := s.CreateCustomer(ctx, domain.Customer{
		CompanyName: "Acme Farms",
		Address:     "1 Main St",
		Locations:   []domain.Location{{Name: "Dock A", Address: "1 Main St, Dock A"}},
	})
	require.NoError(t, err)
	_, err = s.CreateDriver(ctx, domain.Driver{Name: "Sam Lee"})
	require.NoError(t, err)
	seedProduct(t, s, "kale", 0)
	seedProduct(t, s, "spinach", 0)
	return c
}

func TestPickupImportSkipsUnresolvedRowsAndContinues(t *testing.T) {
	im, mem := newTestImporter(t)
	customer := seedPickupRefs(t, mem)

	res, err := im.Run(context.Background(), KindPickups, []Upload{upload("pickups.csv", pickupHeader+
		"Unknown Co,,,2025-06-02,1,1,scheduled,,5 kale\n"+
		"Acme Farms,Dock A,,2025-06-03,2,3,,Sam Lee,5 kale; 3 spinach; 2 kale\n"+
		"Acme Farms,,,2025-06-04,0,0,,Nobody,1 kale\n"+
		"Acme Farms,,,,0,0,,,\n"+
		"Acme Farms,,,someday,0,0,,,\n"+
		"Acme Farms,,,2025-06-05,0,0,completed,,4 beets\n")}, nil)
	require.NoError(t, err)

	file := res.Files[0]
	assert.Equal(t, 1, file.Created)
	assert.Equal(t, 5, file.Skipped)
	require.Len(t, file.Warnings, 5)
	assert.Equal(t, csvimport.KindResolutionMiss.String(), file.Warnings[0].Kind)
	assert.Equal(t, csvimport.ColDriver, file.Warnings[1].Field)
	assert.Equal(t, csvimport.ColPickupDate, file.Warnings[2].Field)
	assert.Equal(t, csvimport.ColPickupDate, file.Warnings[3].Field)
	assert.Equal(t, csvimport.ColProducts, file.Warnings[4].Field)
	assert.Equal(t, 100, res.Progress.Percent)

	pickups, err := mem.ListPickups(context.Background())
	require.NoError(t, err)
	require.Len(t, pickups, 1)
	p := pickups[0]
	assert.Equal(t, customer.ID, p.CustomerID)
	assert.Equal(t, "Dock A", p.Location)
	assert.Equal(t, "1 Main St, Dock A", p.Address)
	assert.Equal(t, "Sam Lee", p.DriverName)
	assert.Equal(t, domain.PickupScheduled, p.Status)
	assert.Equal(t, 2, p.EmptyBins)
	assert.Equal(t, 3, p.FilledBins)

	quantities := map[string]int64{}
	for _, a := range p.Products {
		quantities[a.ProductName] = a.Quantity
	}
	assert.Equal(t, map[string]int64{"kale": 7, "spinach": 3}, quantities)
}

func TestPickupImportMalformedProductsAbortsFile(t *testing.T) {
	im, mem := newTestImporter(t)
	seedPickupRefs(t, mem)

	_, err := im.Run(context.Background(), KindPickups, []Upload{upload("pickups.csv", pickupHeader+
		"Acme Farms,,,2025-06-03,0,0,,,5 kale\n"+
		"Acme Farms,,,2025-06-03,0,0,,,lots of kale\n")}, nil)
	require.Error(t, err)
	assert.Equal(t, csvimport.KindValidation, csvimport.KindOf(err))

	pickups, err := mem.ListPickups(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pickups)
}

func TestPickupImportRejectsQuantitiesThatWouldWrap(t *testing.T) {
	im, mem := newTestImporter(t)
	seedPickupRefs(t, mem)

	_, err := im.Run(context.Background(), KindPickups, []Upload{upload("pickups.csv", pickupHeader+
		"Acme Farms,,,2025-01-02,0,0,scheduled,,\"9223372036854775807 kale; 9223372036854775807 kale; 2 kale\"\n")}, nil)
	require.Error(t, err)
	assert.Equal(t, csvimport.KindCeiling, csvimport.KindOf(err))

	var ie *csvimport.Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "kale", ie.Product)

	pickups, err := mem.ListPickups(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pickups)
}

func TestPickupImportChecksCeilingAfterMerging(t *testing.T) {
	im, mem := newTestImporter(t)
	seedPickupRefs(t, mem)

	_, err := im.Run(context.Background(), KindPickups, []Upload{upload("pickups.csv", pickupHeader+
		"Acme Farms,,,2025-01-02,0,0,,,6000000 kale; 5000000 kale\n")}, nil)
	require.Error(t, err)
	assert.Equal(t, csvimport.KindCeiling, csvimport.KindOf(err))
}

const customerHeader = "Company Name,Email,Phone,Address,Location Name,Initial Empty Bins,Default Product Types\n"

func TestCustomerImportGroupsRowsByCompany(t *testing.T) {
	im, mem := newTestImporter(t)

	res, err := im.Run(context.Background(), KindCustomers, []Upload{upload("customers.csv", customerHeader+
		"Acme Farms,ops@acme.test,555-0100,1 Main St,Dock A,4,\"kale, spinach\"\n"+
		"Green Grocer,hi@green.test,555-0200,9 Elm St,,2,\n"+
		"Acme Farms,ops@acme.test,555-0100,2 Side St,Dock B,1,\"spinach,beets\"\n")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files[0].Created)

	customers, err := mem.SearchCustomers(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, customers, 2)

	acme := customers[0]
	assert.Equal(t, "Acme Farms", acme.CompanyName)
	require.Len(t, acme.Locations, 2)
	assert.Equal(t, "Dock A", acme.Locations[0].Name)
	assert.Equal(t, 4, acme.Locations[0].EmptyBins)
	assert.Equal(t, "2 Side St", acme.Locations[1].Address)
	assert.Equal(t, []domain.DefaultProductType{
		{ProductName: "kale"}, {ProductName: "spinach"}, {ProductName: "beets"},
	}, acme.DefaultProductTypes)

	grocer := customers[1]
	require.Len(t, grocer.Locations, 1)
	assert.Equal(t, "9 Elm St", grocer.Locations[0].Name)
}

func TestCustomerImportReadsLocationAddressColumn(t *testing.T) {
	im, mem := newTestImporter(t)

	_, err := im.Run(context.Background(), KindCustomers, []Upload{upload("customers.csv",
		"Company Name,Email,Phone,Address,Location Name,Location Address,Initial Empty Bins,Default Product Types\n"+
			"Acme Farms,ops@acme.test,555-0100,1 Main St,Dock A,7 Dock Rd,4,\n"+
			"Acme Farms,ops@acme.test,555-0100,1 Main St,Dock B,,1,\n")}, nil)
	require.NoError(t, err)

	customers, err := mem.SearchCustomers(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "1 Main St", customers[0].Address)
	require.Len(t, customers[0].Locations, 2)
	assert.Equal(t, "7 Dock Rd", customers[0].Locations[0].Address)
	assert.Equal(t, "1 Main St", customers[0].Locations[1].Address)
}

func TestCustomerImportUpdatesExistingCustomer(t *testing.T) {
	ctx := context.Background()
	im, mem := newTestImporter(t)
	_, err := mem.CreateCustomer(ctx, domain.Customer{
		CompanyName: "Acme Farms",
		Email:       "old@acme.test",
		Locations:   []domain.Location{{Name: "Dock A"}},
	})
	require.NoError(t, err)

	res, err := im.Run(ctx, KindCustomers, []Upload{upload("customers.csv", customerHeader+
		"Acme Farms,new@acme.test,555-0100,1 Main St,Dock A,4,\n"+
		"Acme Farms,new@acme.test,555-0100,1 Main St,Dock C,0,\n")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files[0].Updated)

	customers, err := mem.SearchCustomers(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "new@acme.test", customers[0].Email)
	require.Len(t, customers[0].Locations, 2)
	assert.Equal(t, "Dock C", customers[0].Locations[1].Name)
}

func TestCustomerImportRequiresContactFields(t *testing.T) {
	im, mem := newTestImporter(t)
	_, err := im.Run(context.Background(), KindCustomers, []Upload{upload("customers.csv", customerHeader+
		"Acme Farms,ops@acme.test,555-0100,1 Main St,,,\n"+
		"Green Grocer,,555-0200,9 Elm St,,,\n")}, nil)
	require.Error(t, err)
	assert.Equal(t, csvimport.KindValidation, csvimport.KindOf(err))

	customers, err := mem.SearchCustomers(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, customers)
}

func TestParseDefaultProductTypes(t *testing.T) {
	assert.Equal(t, []domain.DefaultProductType{{ProductName: "kale"}, {ProductName: "swiss chard"}},
		ParseDefaultProductTypes(" kale, ,swiss chard "))
	assert.Empty(t, ParseDefaultProductTypes(""))
}

func TestResolveAllBatchesByKind(t *testing.T) {
	mem := store.NewMemory()
	seedPickupRefs(t, mem)

	refs, err := Resolver{Store: mem, Parallelism: 2}.ResolveAll(context.Background(), map[RefKind][]string{
		RefCustomer: {"Acme Farms", "Acme Farms", "acme farms"},
		RefDriver:   {"Sam Lee", ""},
		RefProduct:  {"kale", "kale "},
	})
	require.NoError(t, err)

	assert.True(t, refs[RefCustomer].Resolve("Acme Farms").Found())
	assert.False(t, refs[RefCustomer].Resolve("acme farms").Found())
	assert.True(t, refs[RefDriver].Resolve("Sam Lee").Found())
	assert.True(t, refs[RefProduct].Resolve("kale").Found())
	assert.False(t, refs[RefProduct].Resolve("kale ").Found())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("pickups")
	require.NoError(t, err)
	assert.Equal(t, KindPickups, k)

	_, err = ParseKind("estimates")
	assert.Error(t, err)
}
