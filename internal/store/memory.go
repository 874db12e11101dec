package store

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/circularops/api/internal/domain"
)

type allocationKey struct {
	owner   uuid.UUID
	product uuid.UUID
}

type memSession struct {
	domain.Session
	revoked  bool
	lastSeen time.Time
}

type memData struct {
	products          map[uuid.UUID]domain.Product
	customers         map[uuid.UUID]domain.Customer
	locations         map[uuid.UUID]domain.Location
	drivers           map[uuid.UUID]domain.Driver
	pickups           map[uuid.UUID]domain.Pickup
	photos            map[uuid.UUID]domain.PickupPhoto
	containers        map[uuid.UUID]domain.Container
	containerProducts map[allocationKey]int64
	processing        map[uuid.UUID]domain.ProcessingRequest
	operators         map[uuid.UUID]domain.Operator
	sessions          map[uuid.UUID]memSession
	audit             []domain.AuditEntry
}

func newMemData() *memData {
	return &memData{
		products:          map[uuid.UUID]domain.Product{},
		customers:         map[uuid.UUID]domain.Customer{},
		locations:         map[uuid.UUID]domain.Location{},
		drivers:           map[uuid.UUID]domain.Driver{},
		pickups:           map[uuid.UUID]domain.Pickup{},
		photos:            map[uuid.UUID]domain.PickupPhoto{},
		containers:        map[uuid.UUID]domain.Container{},
		containerProducts: map[allocationKey]int64{},
		processing:        map[uuid.UUID]domain.ProcessingRequest{},
		operators:         map[uuid.UUID]domain.Operator{},
		sessions:          map[uuid.UUID]memSession{},
	}
}

// clone copies every table. Stored values are never mutated in place, so
// copying the maps is enough to isolate a snapshot.
func (d *memData) clone() *memData {
	return &memData{
		products:          maps.Clone(d.products),
		customers:         maps.Clone(d.customers),
		locations:         maps.Clone(d.locations),
		drivers:           maps.Clone(d.drivers),
		pickups:           maps.Clone(d.pickups),
		photos:            maps.Clone(d.photos),
		containers:        maps.Clone(d.containers),
		containerProducts: maps.Clone(d.containerProducts),
		processing:        maps.Clone(d.processing),
		operators:         maps.Clone(d.operators),
		sessions:          maps.Clone(d.sessions),
		audit:             slices.Clone(d.audit),
	}
}

type memState struct {
	mu   sync.Mutex
	txMu sync.Mutex
	data *memData
}

// Memory is an in-process Store. Transactions are serialized and roll back by
// restoring a snapshot taken when they began.
type Memory struct {
	st   *memState
	inTx bool
	Now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{st: &memState{data: newMemData()}, Now: time.Now}
}

func (m *Memory) lock() (*memData, func()) {
	m.st.mu.Lock()
	return m.st.data, m.st.mu.Unlock
}

func (m *Memory) now() time.Time {
	return m.Now().UTC()
}

func (m *Memory) WithinTx(ctx context.Context, fn func(Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.st.txMu.Lock()
	defer m.st.txMu.Unlock()

	m.st.mu.Lock()
	snapshot := m.st.data.clone()
	m.st.mu.Unlock()

	if err := fn(&Memory{st: m.st, inTx: true, Now: m.Now}); err != nil {
		m.st.mu.Lock()
		m.st.data = snapshot
		m.st.mu.Unlock()
		return err
	}
	return nil
}

// AuditEntries returns a copy of the audit trail.
func (m *Memory) AuditEntries() []domain.AuditEntry {
	d, unlock := m.lock()
	defer unlock()
	return slices.Clone(d.audit)
}

func idsByName[T any](rows map[uuid.UUID]T, names []string, nameOf func(T) string) map[string]uuid.UUID {
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}
	out := make(map[string]uuid.UUID, len(names))
	for id, row := range rows {
		if _, ok := wanted[nameOf(row)]; ok {
			out[nameOf(row)] = id
		}
	}
	return out
}

func (m *Memory) ListProducts(ctx context.Context) ([]domain.Product, error) {
	d, unlock := m.lock()
	defer unlock()
	out := slices.Collect(maps.Values(d.products))
	slices.SortFunc(out, func(a, b domain.Product) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *Memory) GetProduct(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	d, unlock := m.lock()
	defer unlock()
	p, ok := d.products[id]
	if !ok {
		return domain.Product{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ProductIDsByName(ctx context.Context, names []string) (map[string]uuid.UUID, error) {
	d, unlock := m.lock()
	defer unlock()
	return idsByName(d.products, names, func(p domain.Product) string { return p.Name }), nil
}

func (m *Memory) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	d, unlock := m.lock()
	defer unlock()
	for _, existing := range d.products {
		if existing.Name == p.Name {
			return domain.Product{}, ErrConflict
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := m.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	d.products[p.ID] = p
	return p, nil
}

func (m *Memory) UpdateProduct(ctx context.Context, p domain.Product, expectedQuantity int64) error {
	d, unlock := m.lock()
	defer unlock()
	existing, ok := d.products[p.ID]
	if !ok || existing.Quantity != expectedQuantity {
		return ErrConflict
	}
	existing.Quantity = p.Quantity
	existing.Description = p.Description
	existing.ReservedLocation = p.ReservedLocation
	existing.UpdatedAt = p.UpdatedAt
	if existing.UpdatedAt.IsZero() {
		existing.UpdatedAt = m.now()
	}
	d.products[p.ID] = existing
	return nil
}

func (d *memData) customerWithLocations(c domain.Customer) domain.Customer {
	locs := []domain.Location{}
	for _, loc := range d.locations {
		if loc.CustomerID == c.ID {
			locs = append(locs, loc)
		}
	}
	slices.SortFunc(locs, func(a, b domain.Location) int { return strings.Compare(a.Name, b.Name) })
	c.Locations = locs
	return c
}

func (m *Memory) SearchCustomers(ctx context.Context, term string) ([]domain.Customer, error) {
	d, unlock := m.lock()
	defer unlock()
	term = strings.ToLower(strings.TrimSpace(term))
	out := []domain.Customer{}
	for _, c := range d.customers {
		if term != "" && !containsFold(term, c.CompanyName, c.Email, c.Phone, c.Address) {
			continue
		}
		out = append(out, d.customerWithLocations(c))
	}
	slices.SortFunc(out, func(a, b domain.Customer) int { return strings.Compare(a.CompanyName, b.CompanyName) })
	return out, nil
}

func containsFold(term string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	return false
}

func (m *Memory) GetCustomer(ctx context.Context, id uuid.UUID) (domain.Customer, error) {
	d, unlock := m.lock()
	defer unlock()
	c, ok := d.customers[id]
	if !ok {
		return domain.Customer{}, ErrNotFound
	}
	return d.customerWithLocations(c), nil
}

func (m *Memory) CustomerIDsByCompanyName(ctx context.Context, names []string) (map[string]uuid.UUID, error) {
	d, unlock := m.lock()
	defer unlock()
	return idsByName(d.customers, names, func(c domain.Customer) string { return c.CompanyName }), nil
}

func (m *Memory) CreateCustomer(ctx context.Context, c domain.Customer) (domain.Customer, error) {
	d, unlock := m.lock()
	defer unlock()
	for _, existing := range d.customers {
		if existing.CompanyName == c.CompanyName {
			return domain.Customer{}, ErrConflict
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	c.DefaultProductTypes = slices.Clone(c.DefaultProductTypes)
	locs := c.Locations
	c.Locations = nil
	d.customers[c.ID] = c
	for _, loc := range locs {
		loc.CustomerID = c.ID
		if _, err := d.addLocation(loc); err != nil {
			return domain.Customer{}, err
		}
	}
	return d.customerWithLocations(c), nil
}

func (m *Memory) UpdateCustomer(ctx context.Context, c domain.Customer) error {
	d, unlock := m.lock()
	defer unlock()
	existing, ok := d.customers[c.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Email = c.Email
	existing.Phone = c.Phone
	existing.Address = c.Address
	existing.DefaultProductTypes = slices.Clone(c.DefaultProductTypes)
	d.customers[c.ID] = existing
	return nil
}

func (m *Memory) AddLocation(ctx context.Context, loc domain.Location) (domain.Location, error) {
	d, unlock := m.lock()
	defer unlock()
	if _, ok := d.customers[loc.CustomerID]; !ok {
		return domain.Location{}, ErrNotFound
	}
	return d.addLocation(loc)
}

func (d *memData) addLocation(loc domain.Location) (domain.Location, error) {
	for _, existing := range d.locations {
		if existing.CustomerID == loc.CustomerID && existing.Name == loc.Name {
			return domain.Location{}, ErrConflict
		}
	}
	if loc.ID == uuid.Nil {
		loc.ID = uuid.New()
	}
	d.locations[loc.ID] = loc
	return loc, nil
}

func (m *Memory) ListDrivers(ctx context.Context) ([]domain.Driver, error) {
	d, unlock := m.lock()
	defer unlock()
	out := slices.Collect(maps.Values(d.drivers))
	slices.SortFunc(out, func(a, b domain.Driver) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *Memory) CreateDriver(ctx context.Context, drv domain.Driver) (domain.Driver, error) {
	d, unlock := m.lock()
	defer unlock()
	for _, existing := range d.drivers {
		if existing.Name == drv.Name {
			return domain.Driver{}, ErrConflict
		}
	}
	if drv.ID == uuid.Nil {
		drv.ID = uuid.New()
	}
	d.drivers[drv.ID] = drv
	return drv, nil
}

func (m *Memory) DriverIDsByName(ctx context.Context, names []string) (map[string]uuid.UUID, error) {
	d, unlock := m.lock()
	defer unlock()
	return idsByName(d.drivers, names, func(drv domain.Driver) string { return drv.Name }), nil
}

func (d *memData) hydratePickup(p domain.Pickup) domain.Pickup {
	p.CompanyName = d.customers[p.CustomerID].CompanyName
	if p.LocationID != nil {
		p.Location = d.locations[*p.LocationID].Name
	}
	if p.DriverID != nil {
		p.DriverName = d.drivers[*p.DriverID].Name
	}
	items := make([]domain.Allocation, 0, len(p.Products))
	for _, a := range p.Products {
		a.ProductName = d.products[a.ProductID].Name
		items = append(items, a)
	}
	p.Products = items
	return p
}

func (m *Memory) ListPickups(ctx context.Context) ([]domain.Pickup, error) {
	d, unlock := m.lock()
	defer unlock()
	out := make([]domain.Pickup, 0, len(d.pickups))
	for _, p := range d.pickups {
		out = append(out, d.hydratePickup(p))
	}
	slices.SortFunc(out, func(a, b domain.Pickup) int {
		if c := a.PickupDate.Compare(b.PickupDate); c != 0 {
			return c
		}
		return strings.Compare(a.CompanyName, b.CompanyName)
	})
	return out, nil
}

func (m *Memory) GetPickup(ctx context.Context, id uuid.UUID) (domain.Pickup, error) {
	d, unlock := m.lock()
	defer unlock()
	p, ok := d.pickups[id]
	if !ok {
		return domain.Pickup{}, ErrNotFound
	}
	return d.hydratePickup(p), nil
}

func (m *Memory) CreatePickup(ctx context.Context, p domain.Pickup) (domain.Pickup, error) {
	d, unlock := m.lock()
	defer unlock()
	if _, ok := d.customers[p.CustomerID]; !ok {
		return domain.Pickup{}, ErrNotFound
	}
	if err := d.checkAllocations(p.Products); err != nil {
		return domain.Pickup{}, err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = domain.PickupFlow.Initial()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	p.Products = slices.Clone(p.Products)
	d.pickups[p.ID] = p
	return d.hydratePickup(p), nil
}

func (d *memData) checkAllocations(items []domain.Allocation) error {
	seen := map[uuid.UUID]struct{}{}
	for _, a := range items {
		if _, ok := d.products[a.ProductID]; !ok {
			return ErrNotFound
		}
		if _, dup := seen[a.ProductID]; dup {
			return ErrConflict
		}
		seen[a.ProductID] = struct{}{}
	}
	return nil
}

func (m *Memory) ReplacePickupProducts(ctx context.Context, pickupID uuid.UUID, items []domain.Allocation) error {
	d, unlock := m.lock()
	defer unlock()
	p, ok := d.pickups[pickupID]
	if !ok {
		return ErrNotFound
	}
	if err := d.checkAllocations(items); err != nil {
		return err
	}
	p.Products = slices.Clone(items)
	d.pickups[pickupID] = p
	return nil
}

func (m *Memory) AddPickupPhoto(ctx context.Context, photo domain.PickupPhoto) (domain.PickupPhoto, error) {
	d, unlock := m.lock()
	defer unlock()
	if _, ok := d.pickups[photo.PickupID]; !ok {
		return domain.PickupPhoto{}, ErrNotFound
	}
	if photo.ID == uuid.Nil {
		photo.ID = uuid.New()
	}
	if photo.CreatedAt.IsZero() {
		photo.CreatedAt = m.now()
	}
	d.photos[photo.ID] = photo
	return photo, nil
}

func (m *Memory) ListPickupPhotos(ctx context.Context, pickupID uuid.UUID) ([]domain.PickupPhoto, error) {
	d, unlock := m.lock()
	defer unlock()
	out := []domain.PickupPhoto{}
	for _, ph := range d.photos {
		if ph.PickupID == pickupID {
			out = append(out, ph)
		}
	}
	slices.SortFunc(out, func(a, b domain.PickupPhoto) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (d *memData) hydrateContainer(c domain.Container) domain.Container {
	items := []domain.Allocation{}
	for key, qty := range d.containerProducts {
		if key.owner == c.ID {
			items = append(items, domain.Allocation{ProductID: key.product, ProductName: d.products[key.product].Name, Quantity: qty})
		}
	}
	slices.SortFunc(items, func(a, b domain.Allocation) int { return strings.Compare(a.ProductName, b.ProductName) })
	c.Products = items
	return c
}

func (m *Memory) ListContainers(ctx context.Context) ([]domain.Container, error) {
	d, unlock := m.lock()
	defer unlock()
	out := make([]domain.Container, 0, len(d.containers))
	for _, c := range d.containers {
		out = append(out, d.hydrateContainer(c))
	}
	slices.SortFunc(out, func(a, b domain.Container) int { return strings.Compare(a.Reference, b.Reference) })
	return out, nil
}

func (m *Memory) GetContainer(ctx context.Context, id uuid.UUID) (domain.Container, error) {
	d, unlock := m.lock()
	defer unlock()
	c, ok := d.containers[id]
	if !ok {
		return domain.Container{}, ErrNotFound
	}
	return d.hydrateContainer(c), nil
}

func (m *Memory) CreateContainer(ctx context.Context, c domain.Container) (domain.Container, error) {
	d, unlock := m.lock()
	defer unlock()
	for _, existing := range d.containers {
		if existing.Reference == c.Reference {
			return domain.Container{}, ErrConflict
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = domain.ContainerFlow.Initial()
	}
	now := m.now()
	c.CreatedAt, c.UpdatedAt = now, now
	c.Products = nil
	d.containers[c.ID] = c
	return d.hydrateContainer(c), nil
}

func (m *Memory) GetContainerAllocation(ctx context.Context, containerID, productID uuid.UUID) (domain.Allocation, error) {
	d, unlock := m.lock()
	defer unlock()
	qty, ok := d.containerProducts[allocationKey{containerID, productID}]
	if !ok {
		return domain.Allocation{}, ErrNotFound
	}
	return domain.Allocation{ProductID: productID, ProductName: d.products[productID].Name, Quantity: qty}, nil
}

func (m *Memory) InsertContainerAllocation(ctx context.Context, containerID uuid.UUID, a domain.Allocation) error {
	d, unlock := m.lock()
	defer unlock()
	if _, ok := d.containers[containerID]; !ok {
		return ErrNotFound
	}
	if _, ok := d.products[a.ProductID]; !ok {
		return ErrNotFound
	}
	key := allocationKey{containerID, a.ProductID}
	if _, exists := d.containerProducts[key]; exists {
		return ErrConflict
	}
	d.containerProducts[key] = a.Quantity
	return nil
}

func (m *Memory) UpdateContainerAllocation(ctx context.Context, containerID, productID uuid.UUID, expected, quantity int64) error {
	d, unlock := m.lock()
	defer unlock()
	key := allocationKey{containerID, productID}
	current, ok := d.containerProducts[key]
	if !ok || current != expected {
		return ErrConflict
	}
	d.containerProducts[key] = quantity
	return nil
}

func (m *Memory) ListProcessingRequests(ctx context.Context) ([]domain.ProcessingRequest, error) {
	d, unlock := m.lock()
	defer unlock()
	out := make([]domain.ProcessingRequest, 0, len(d.processing))
	for _, pr := range d.processing {
		pr.ProductName = d.products[pr.ProductID].Name
		out = append(out, pr)
	}
	slices.SortFunc(out, func(a, b domain.ProcessingRequest) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (m *Memory) GetProcessingRequest(ctx context.Context, id uuid.UUID) (domain.ProcessingRequest, error) {
	d, unlock := m.lock()
	defer unlock()
	pr, ok := d.processing[id]
	if !ok {
		return domain.ProcessingRequest{}, ErrNotFound
	}
	pr.ProductName = d.products[pr.ProductID].Name
	return pr, nil
}

func (m *Memory) CreateProcessingRequest(ctx context.Context, pr domain.ProcessingRequest) (domain.ProcessingRequest, error) {
	d, unlock := m.lock()
	defer unlock()
	product, ok := d.products[pr.ProductID]
	if !ok {
		return domain.ProcessingRequest{}, ErrNotFound
	}
	if pr.ID == uuid.Nil {
		pr.ID = uuid.New()
	}
	if pr.Status == "" {
		pr.Status = domain.ProcessingFlow.Initial()
	}
	now := m.now()
	pr.CreatedAt, pr.UpdatedAt = now, now
	d.processing[pr.ID] = pr
	pr.ProductName = product.Name
	return pr, nil
}

func (m *Memory) CurrentStatus(ctx context.Context, entity domain.Entity, id uuid.UUID) (string, error) {
	d, unlock := m.lock()
	defer unlock()
	switch entity {
	case domain.EntityPickup:
		if p, ok := d.pickups[id]; ok {
			return p.Status, nil
		}
	case domain.EntityContainer:
		if c, ok := d.containers[id]; ok {
			return c.Status, nil
		}
	case domain.EntityProcessing:
		if pr, ok := d.processing[id]; ok {
			return pr.Status, nil
		}
	}
	return "", ErrNotFound
}

func (m *Memory) AdvanceStatus(ctx context.Context, entity domain.Entity, id uuid.UUID, from, to string) error {
	d, unlock := m.lock()
	defer unlock()
	now := m.now()
	switch entity {
	case domain.EntityPickup:
		p, ok := d.pickups[id]
		if !ok {
			return ErrNotFound
		}
		if p.Status != from {
			return ErrConflict
		}
		p.Status = to
		if to == domain.PickupCompleted {
			p.CompletedAt = &now
		}
		d.pickups[id] = p
	case domain.EntityContainer:
		c, ok := d.containers[id]
		if !ok {
			return ErrNotFound
		}
		if c.Status != from {
			return ErrConflict
		}
		c.Status, c.UpdatedAt = to, now
		d.containers[id] = c
	case domain.EntityProcessing:
		pr, ok := d.processing[id]
		if !ok {
			return ErrNotFound
		}
		if pr.Status != from {
			return ErrConflict
		}
		pr.Status, pr.UpdatedAt = to, now
		d.processing[id] = pr
	default:
		return ErrNotFound
	}
	return nil
}

func (m *Memory) OperatorByEmail(ctx context.Context, email string) (domain.Operator, error) {
	d, unlock := m.lock()
	defer unlock()
	for _, o := range d.operators {
		if strings.EqualFold(o.Email, email) {
			return o, nil
		}
	}
	return domain.Operator{}, ErrNotFound
}

func (m *Memory) CreateOperator(ctx context.Context, o domain.Operator) (domain.Operator, error) {
	d, unlock := m.lock()
	defer unlock()
	for _, existing := range d.operators {
		if strings.EqualFold(existing.Email, o.Email) {
			return domain.Operator{}, ErrConflict
		}
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	d.operators[o.ID] = o
	return o, nil
}

func (m *Memory) CreateSession(ctx context.Context, s domain.Session) (domain.Session, error) {
	d, unlock := m.lock()
	defer unlock()
	if _, ok := d.operators[s.OperatorID]; !ok {
		return domain.Session{}, ErrNotFound
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	d.sessions[s.ID] = memSession{Session: s, lastSeen: m.now()}
	return s, nil
}

func (m *Memory) SessionPrincipal(ctx context.Context, tokenHash string) (domain.SessionPrincipal, error) {
	d, unlock := m.lock()
	defer unlock()
	now := m.now()
	for _, s := range d.sessions {
		if s.TokenHash != tokenHash || s.revoked || !s.ExpiresAt.After(now) {
			continue
		}
		o, ok := d.operators[s.OperatorID]
		if !ok || !o.IsActive {
			break
		}
		return domain.SessionPrincipal{
			SessionID:  s.ID,
			OperatorID: o.ID,
			Email:      o.Email,
			FullName:   o.FullName,
			Role:       o.Role,
			CSRFToken:  s.CSRFToken,
			ExpiresAt:  s.ExpiresAt,
		}, nil
	}
	return domain.SessionPrincipal{}, ErrNotFound
}

func (m *Memory) TouchSession(ctx context.Context, id uuid.UUID) error {
	d, unlock := m.lock()
	defer unlock()
	s, ok := d.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.lastSeen = m.now()
	d.sessions[id] = s
	return nil
}

func (m *Memory) RevokeSession(ctx context.Context, id uuid.UUID) error {
	d, unlock := m.lock()
	defer unlock()
	s, ok := d.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.revoked = true
	d.sessions[id] = s
	return nil
}

func (m *Memory) RevokeSessionByTokenHash(ctx context.Context, tokenHash string) error {
	d, unlock := m.lock()
	defer unlock()
	for id, s := range d.sessions {
		if s.TokenHash == tokenHash {
			s.revoked = true
			d.sessions[id] = s
		}
	}
	return nil
}

func (m *Memory) InsertAuditLog(ctx context.Context, e domain.AuditEntry) error {
	d, unlock := m.lock()
	defer unlock()
	d.audit = append(d.audit, e)
	return nil
}
