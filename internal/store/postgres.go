package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/circularops/api/internal/domain"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Store on a pgx pool. Inside WithinTx the same type wraps
// the transaction instead.
type Postgres struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, q: pool}
}

func (p *Postgres) WithinTx(ctx context.Context, fn func(Store) error) error {
	if p.pool == nil {
		return fn(p)
	}
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Postgres{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// mapErr folds driver errors onto the store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (p *Postgres) idsByName(ctx context.Context, sql string, names []string) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID, len(names))
	if len(names) == 0 {
		return out, nil
	}
	rows, err := p.q.Query(ctx, sql, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   uuid.UUID
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, rows.Err()
}

const productColumns = `id, name, quantity, description, reserved_location, created_at, updated_at`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var pr domain.Product
	err := row.Scan(&pr.ID, &pr.Name, &pr.Quantity, &pr.Description, &pr.ReservedLocation, &pr.CreatedAt, &pr.UpdatedAt)
	return pr, err
}

func (p *Postgres) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := p.q.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Product, error) { return scanProduct(r) })
}

func (p *Postgres) GetProduct(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	pr, err := scanProduct(p.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	return pr, mapErr(err)
}

func (p *Postgres) ProductIDsByName(ctx context.Context, names []string) (map[string]uuid.UUID, error) {
	return p.idsByName(ctx, `SELECT id, name FROM products WHERE name = ANY($1)`, names)
}

// CreateProduct reports a taken name as ErrConflict without raising a unique
// violation, so a surrounding transaction stays usable for the re-read.
func (p *Postgres) CreateProduct(ctx context.Context, pr domain.Product) (domain.Product, error) {
	row := p.q.QueryRow(ctx, `
		INSERT INTO products (name, quantity, description, reserved_location, created_at, updated_at)
		VALUES ($1, $2, $3, $4, coalesce($5, now()), coalesce($6, now()))
		ON CONFLICT (name) DO NOTHING
		RETURNING `+productColumns,
		pr.Name, pr.Quantity, pr.Description, pr.ReservedLocation, nullTime(pr.CreatedAt), nullTime(pr.UpdatedAt))
	created, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("%w: product %q exists", ErrConflict, pr.Name)
	}
	return created, mapErr(err)
}

func (p *Postgres) UpdateProduct(ctx context.Context, pr domain.Product, expectedQuantity int64) error {
	tag, err := p.q.Exec(ctx, `
		UPDATE products
		SET quantity = $2, description = $3, reserved_location = $4, updated_at = coalesce($5, now())
		WHERE id = $1 AND quantity = $6`,
		pr.ID, pr.Quantity, pr.Description, pr.ReservedLocation, nullTime(pr.UpdatedAt), expectedQuantity)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (p *Postgres) loadLocations(ctx context.Context, customers []domain.Customer) error {
	if len(customers) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(customers))
	index := make(map[uuid.UUID]int, len(customers))
	for i, c := range customers {
		ids[i] = c.ID
		index[c.ID] = i
		customers[i].Locations = []domain.Location{}
	}
	rows, err := p.q.Query(ctx, `
		SELECT id, customer_id, name, address, empty_bins
		FROM customer_locations WHERE customer_id = ANY($1) ORDER BY name`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var loc domain.Location
		if err := rows.Scan(&loc.ID, &loc.CustomerID, &loc.Name, &loc.Address, &loc.EmptyBins); err != nil {
			return err
		}
		i := index[loc.CustomerID]
		customers[i].Locations = append(customers[i].Locations, loc)
	}
	return rows.Err()
}

func scanCustomer(row pgx.Row) (domain.Customer, error) {
	var (
		c        domain.Customer
		defaults []byte
	)
	if err := row.Scan(&c.ID, &c.CompanyName, &c.Email, &c.Phone, &c.Address, &defaults, &c.CreatedAt); err != nil {
		return domain.Customer{}, err
	}
	if len(defaults) > 0 {
		if err := json.Unmarshal(defaults, &c.DefaultProductTypes); err != nil {
			return domain.Customer{}, fmt.Errorf("decode default product types: %w", err)
		}
	}
	return c, nil
}

func (p *Postgres) SearchCustomers(ctx context.Context, term string) ([]domain.Customer, error) {
	rows, err := p.q.Query(ctx, `
		SELECT id, company_name, email, phone, address, default_product_types, created_at
		FROM search_customers($1)`, term)
	if err != nil {
		return nil, err
	}
	customers, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Customer, error) { return scanCustomer(r) })
	if err != nil {
		return nil, err
	}
	return customers, p.loadLocations(ctx, customers)
}

func (p *Postgres) GetCustomer(ctx context.Context, id uuid.UUID) (domain.Customer, error) {
	c, err := scanCustomer(p.q.QueryRow(ctx, `
		SELECT id, company_name, email, phone, address, default_product_types, created_at
		FROM customers WHERE id = $1`, id))
	if err != nil {
		return domain.Customer{}, mapErr(err)
	}
	list := []domain.Customer{c}
	if err := p.loadLocations(ctx, list); err != nil {
		return domain.Customer{}, err
	}
	return list[0], nil
}

func (p *Postgres) CustomerIDsByCompanyName(ctx context.Context, names []string) (map[string]uuid.UUID, error) {
	return p.idsByName(ctx, `SELECT id, company_name FROM customers WHERE company_name = ANY($1)`, names)
}

func encodeDefaults(types []domain.DefaultProductType) ([]byte, error) {
	if types == nil {
		types = []domain.DefaultProductType{}
	}
	return json.Marshal(types)
}

func (p *Postgres) CreateCustomer(ctx context.Context, c domain.Customer) (domain.Customer, error) {
	defaults, err := encodeDefaults(c.DefaultProductTypes)
	if err != nil {
		return domain.Customer{}, err
	}
	err = p.q.QueryRow(ctx, `
		INSERT INTO customers (company_name, email, phone, address, default_product_types)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		c.CompanyName, c.Email, c.Phone, c.Address, defaults).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return domain.Customer{}, mapErr(err)
	}
	locs := c.Locations
	c.Locations = make([]domain.Location, 0, len(locs))
	for _, loc := range locs {
		loc.CustomerID = c.ID
		created, err := p.AddLocation(ctx, loc)
		if err != nil {
			return domain.Customer{}, err
		}
		c.Locations = append(c.Locations, created)
	}
	return c, nil
}

func (p *Postgres) UpdateCustomer(ctx context.Context, c domain.Customer) error {
	defaults, err := encodeDefaults(c.DefaultProductTypes)
	if err != nil {
		return err
	}
	tag, err := p.q.Exec(ctx, `
		UPDATE customers
		SET email = $2, phone = $3, address = $4, default_product_types = $5, updated_at = now()
		WHERE id = $1`,
		c.ID, c.Email, c.Phone, c.Address, defaults)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AddLocation(ctx context.Context, loc domain.Location) (domain.Location, error) {
	err := p.q.QueryRow(ctx, `
		INSERT INTO customer_locations (customer_id, name, address, empty_bins)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		loc.CustomerID, loc.Name, loc.Address, loc.EmptyBins).Scan(&loc.ID)
	return loc, mapErr(err)
}

func (p *Postgres) ListDrivers(ctx context.Context) ([]domain.Driver, error) {
	rows, err := p.q.Query(ctx, `SELECT id, name, phone FROM drivers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Driver, error) {
		var d domain.Driver
		err := r.Scan(&d.ID, &d.Name, &d.Phone)
		return d, err
	})
}

func (p *Postgres) CreateDriver(ctx context.Context, d domain.Driver) (domain.Driver, error) {
	err := p.q.QueryRow(ctx, `INSERT INTO drivers (name, phone) VALUES ($1, $2) RETURNING id`, d.Name, d.Phone).Scan(&d.ID)
	return d, mapErr(err)
}

func (p *Postgres) DriverIDsByName(ctx context.Context, names []string) (map[string]uuid.UUID, error) {
	return p.idsByName(ctx, `SELECT id, name FROM drivers WHERE name = ANY($1)`, names)
}

const pickupSelect = `
	SELECT pk.id, pk.customer_id, c.company_name, pk.location_id, coalesce(l.name, ''),
	       pk.driver_id, coalesce(d.name, ''), pk.address, pk.pickup_date, pk.empty_bins,
	       pk.filled_bins, pk.status, pk.completed_at, pk.created_at
	FROM pickups pk
	JOIN customers c ON c.id = pk.customer_id
	LEFT JOIN customer_locations l ON l.id = pk.location_id
	LEFT JOIN drivers d ON d.id = pk.driver_id`

func scanPickup(row pgx.Row) (domain.Pickup, error) {
	var pk domain.Pickup
	err := row.Scan(&pk.ID, &pk.CustomerID, &pk.CompanyName, &pk.LocationID, &pk.Location,
		&pk.DriverID, &pk.DriverName, &pk.Address, &pk.PickupDate, &pk.EmptyBins,
		&pk.FilledBins, &pk.Status, &pk.CompletedAt, &pk.CreatedAt)
	return pk, err
}

func (p *Postgres) loadPickupProducts(ctx context.Context, pickups []domain.Pickup) error {
	if len(pickups) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(pickups))
	index := make(map[uuid.UUID]int, len(pickups))
	for i, pk := range pickups {
		ids[i] = pk.ID
		index[pk.ID] = i
		pickups[i].Products = []domain.Allocation{}
	}
	rows, err := p.q.Query(ctx, `
		SELECT pp.pickup_id, pp.product_id, pr.name, pp.quantity
		FROM pickup_products pp JOIN products pr ON pr.id = pp.product_id
		WHERE pp.pickup_id = ANY($1) ORDER BY pr.name`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pickupID uuid.UUID
			a        domain.Allocation
		)
		if err := rows.Scan(&pickupID, &a.ProductID, &a.ProductName, &a.Quantity); err != nil {
			return err
		}
		i := index[pickupID]
		pickups[i].Products = append(pickups[i].Products, a)
	}
	return rows.Err()
}

func (p *Postgres) ListPickups(ctx context.Context) ([]domain.Pickup, error) {
	rows, err := p.q.Query(ctx, pickupSelect+` ORDER BY pk.pickup_date, c.company_name`)
	if err != nil {
		return nil, err
	}
	pickups, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Pickup, error) { return scanPickup(r) })
	if err != nil {
		return nil, err
	}
	return pickups, p.loadPickupProducts(ctx, pickups)
}

func (p *Postgres) GetPickup(ctx context.Context, id uuid.UUID) (domain.Pickup, error) {
	pk, err := scanPickup(p.q.QueryRow(ctx, pickupSelect+` WHERE pk.id = $1`, id))
	if err != nil {
		return domain.Pickup{}, mapErr(err)
	}
	list := []domain.Pickup{pk}
	if err := p.loadPickupProducts(ctx, list); err != nil {
		return domain.Pickup{}, err
	}
	return list[0], nil
}

func (p *Postgres) CreatePickup(ctx context.Context, pk domain.Pickup) (domain.Pickup, error) {
	if pk.Status == "" {
		pk.Status = domain.PickupFlow.Initial()
	}
	err := p.q.QueryRow(ctx, `
		INSERT INTO pickups (customer_id, location_id, driver_id, address, pickup_date, empty_bins, filled_bins, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		pk.CustomerID, pk.LocationID, pk.DriverID, pk.Address, pk.PickupDate, pk.EmptyBins, pk.FilledBins, pk.Status).Scan(&pk.ID)
	if err != nil {
		return domain.Pickup{}, mapErr(err)
	}
	if err := p.insertPickupProducts(ctx, pk.ID, pk.Products); err != nil {
		return domain.Pickup{}, err
	}
	return p.GetPickup(ctx, pk.ID)
}

func (p *Postgres) insertPickupProducts(ctx context.Context, pickupID uuid.UUID, items []domain.Allocation) error {
	for _, a := range items {
		if _, err := p.q.Exec(ctx, `
			INSERT INTO pickup_products (pickup_id, product_id, quantity) VALUES ($1, $2, $3)`,
			pickupID, a.ProductID, a.Quantity); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (p *Postgres) ReplacePickupProducts(ctx context.Context, pickupID uuid.UUID, items []domain.Allocation) error {
	var exists bool
	if err := p.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pickups WHERE id = $1)`, pickupID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	if _, err := p.q.Exec(ctx, `DELETE FROM pickup_products WHERE pickup_id = $1`, pickupID); err != nil {
		return err
	}
	return p.insertPickupProducts(ctx, pickupID, items)
}

func (p *Postgres) AddPickupPhoto(ctx context.Context, photo domain.PickupPhoto) (domain.PickupPhoto, error) {
	err := p.q.QueryRow(ctx, `
		INSERT INTO pickup_photos (pickup_id, object_path, content_type)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		photo.PickupID, photo.ObjectPath, photo.ContentType).Scan(&photo.ID, &photo.CreatedAt)
	return photo, mapErr(err)
}

func (p *Postgres) ListPickupPhotos(ctx context.Context, pickupID uuid.UUID) ([]domain.PickupPhoto, error) {
	rows, err := p.q.Query(ctx, `
		SELECT id, pickup_id, object_path, content_type, created_at
		FROM pickup_photos WHERE pickup_id = $1 ORDER BY created_at`, pickupID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.PickupPhoto, error) {
		var ph domain.PickupPhoto
		err := r.Scan(&ph.ID, &ph.PickupID, &ph.ObjectPath, &ph.ContentType, &ph.CreatedAt)
		return ph, err
	})
}

func (p *Postgres) loadContainerProducts(ctx context.Context, containers []domain.Container) error {
	if len(containers) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(containers))
	index := make(map[uuid.UUID]int, len(containers))
	for i, c := range containers {
		ids[i] = c.ID
		index[c.ID] = i
		containers[i].Products = []domain.Allocation{}
	}
	rows, err := p.q.Query(ctx, `
		SELECT cp.container_id, cp.product_id, pr.name, cp.quantity
		FROM container_products cp JOIN products pr ON pr.id = cp.product_id
		WHERE cp.container_id = ANY($1) ORDER BY pr.name`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			containerID uuid.UUID
			a           domain.Allocation
		)
		if err := rows.Scan(&containerID, &a.ProductID, &a.ProductName, &a.Quantity); err != nil {
			return err
		}
		i := index[containerID]
		containers[i].Products = append(containers[i].Products, a)
	}
	return rows.Err()
}

func scanContainer(row pgx.Row) (domain.Container, error) {
	var c domain.Container
	err := row.Scan(&c.ID, &c.Reference, &c.Destination, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (p *Postgres) ListContainers(ctx context.Context) ([]domain.Container, error) {
	rows, err := p.q.Query(ctx, `
		SELECT id, reference, destination, status, created_at, updated_at
		FROM containers ORDER BY reference`)
	if err != nil {
		return nil, err
	}
	containers, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Container, error) { return scanContainer(r) })
	if err != nil {
		return nil, err
	}
	return containers, p.loadContainerProducts(ctx, containers)
}

func (p *Postgres) GetContainer(ctx context.Context, id uuid.UUID) (domain.Container, error) {
	c, err := scanContainer(p.q.QueryRow(ctx, `
		SELECT id, reference, destination, status, created_at, updated_at
		FROM containers WHERE id = $1`, id))
	if err != nil {
		return domain.Container{}, mapErr(err)
	}
	list := []domain.Container{c}
	if err := p.loadContainerProducts(ctx, list); err != nil {
		return domain.Container{}, err
	}
	return list[0], nil
}

func (p *Postgres) CreateContainer(ctx context.Context, c domain.Container) (domain.Container, error) {
	if c.Status == "" {
		c.Status = domain.ContainerFlow.Initial()
	}
	created, err := scanContainer(p.q.QueryRow(ctx, `
		INSERT INTO containers (reference, destination, status)
		VALUES ($1, $2, $3)
		RETURNING id, reference, destination, status, created_at, updated_at`,
		c.Reference, c.Destination, c.Status))
	if err != nil {
		return domain.Container{}, mapErr(err)
	}
	created.Products = []domain.Allocation{}
	return created, nil
}

func (p *Postgres) GetContainerAllocation(ctx context.Context, containerID, productID uuid.UUID) (domain.Allocation, error) {
	a := domain.Allocation{ProductID: productID}
	err := p.q.QueryRow(ctx, `
		SELECT pr.name, cp.quantity
		FROM container_products cp JOIN products pr ON pr.id = cp.product_id
		WHERE cp.container_id = $1 AND cp.product_id = $2`,
		containerID, productID).Scan(&a.ProductName, &a.Quantity)
	return a, mapErr(err)
}

func (p *Postgres) InsertContainerAllocation(ctx context.Context, containerID uuid.UUID, a domain.Allocation) error {
	tag, err := p.q.Exec(ctx, `
		INSERT INTO container_products (container_id, product_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (container_id, product_id) DO NOTHING`,
		containerID, a.ProductID, a.Quantity)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (p *Postgres) UpdateContainerAllocation(ctx context.Context, containerID, productID uuid.UUID, expected, quantity int64) error {
	tag, err := p.q.Exec(ctx, `
		UPDATE container_products SET quantity = $3
		WHERE container_id = $1 AND product_id = $2 AND quantity = $4`,
		containerID, productID, quantity, expected)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

const processingSelect = `
	SELECT r.id, r.product_id, pr.name, r.quantity, r.notes, r.status, r.created_at, r.updated_at
	FROM processing_requests r JOIN products pr ON pr.id = r.product_id`

func scanProcessing(row pgx.Row) (domain.ProcessingRequest, error) {
	var r domain.ProcessingRequest
	err := row.Scan(&r.ID, &r.ProductID, &r.ProductName, &r.Quantity, &r.Notes, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (p *Postgres) ListProcessingRequests(ctx context.Context) ([]domain.ProcessingRequest, error) {
	rows, err := p.q.Query(ctx, processingSelect+` ORDER BY r.created_at`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.ProcessingRequest, error) { return scanProcessing(r) })
}

func (p *Postgres) GetProcessingRequest(ctx context.Context, id uuid.UUID) (domain.ProcessingRequest, error) {
	r, err := scanProcessing(p.q.QueryRow(ctx, processingSelect+` WHERE r.id = $1`, id))
	return r, mapErr(err)
}

func (p *Postgres) CreateProcessingRequest(ctx context.Context, r domain.ProcessingRequest) (domain.ProcessingRequest, error) {
	if r.Status == "" {
		r.Status = domain.ProcessingFlow.Initial()
	}
	var id uuid.UUID
	err := p.q.QueryRow(ctx, `
		INSERT INTO processing_requests (product_id, quantity, notes, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		r.ProductID, r.Quantity, r.Notes, r.Status).Scan(&id)
	if err != nil {
		return domain.ProcessingRequest{}, mapErr(err)
	}
	return p.GetProcessingRequest(ctx, id)
}

var advanceSQL = map[domain.Entity]string{
	domain.EntityPickup: `
		UPDATE pickups
		SET status = $3, updated_at = now(),
		    completed_at = CASE WHEN $3 = 'completed' THEN now() ELSE completed_at END
		WHERE id = $1 AND status = $2`,
	domain.EntityContainer: `
		UPDATE containers SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
	domain.EntityProcessing: `
		UPDATE processing_requests SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
}

func (p *Postgres) CurrentStatus(ctx context.Context, entity domain.Entity, id uuid.UUID) (string, error) {
	if _, ok := advanceSQL[entity]; !ok {
		return "", fmt.Errorf("unknown entity %q", entity)
	}
	var status string
	err := p.q.QueryRow(ctx, `SELECT status FROM `+pgx.Identifier{string(entity)}.Sanitize()+` WHERE id = $1`, id).Scan(&status)
	return status, mapErr(err)
}

func (p *Postgres) AdvanceStatus(ctx context.Context, entity domain.Entity, id uuid.UUID, from, to string) error {
	sql, ok := advanceSQL[entity]
	if !ok {
		return fmt.Errorf("unknown entity %q", entity)
	}
	tag, err := p.q.Exec(ctx, sql, id, from, to)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.CurrentStatus(ctx, entity, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (p *Postgres) OperatorByEmail(ctx context.Context, email string) (domain.Operator, error) {
	var o domain.Operator
	err := p.q.QueryRow(ctx, `
		SELECT id, email, full_name, password_hash, role, is_active
		FROM operators WHERE lower(email) = lower($1)`, email).
		Scan(&o.ID, &o.Email, &o.FullName, &o.PasswordHash, &o.Role, &o.IsActive)
	return o, mapErr(err)
}

func (p *Postgres) CreateOperator(ctx context.Context, o domain.Operator) (domain.Operator, error) {
	err := p.q.QueryRow(ctx, `
		INSERT INTO operators (email, full_name, password_hash, role, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		o.Email, o.FullName, o.PasswordHash, o.Role, o.IsActive).Scan(&o.ID)
	return o, mapErr(err)
}

func (p *Postgres) CreateSession(ctx context.Context, s domain.Session) (domain.Session, error) {
	err := p.q.QueryRow(ctx, `
		INSERT INTO sessions (operator_id, token_hash, csrf_token, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		s.OperatorID, s.TokenHash, s.CSRFToken, s.ExpiresAt).Scan(&s.ID)
	return s, mapErr(err)
}

func (p *Postgres) SessionPrincipal(ctx context.Context, tokenHash string) (domain.SessionPrincipal, error) {
	var sp domain.SessionPrincipal
	err := p.q.QueryRow(ctx, `
		SELECT s.id, o.id, o.email, o.full_name, o.role, s.csrf_token, s.expires_at
		FROM sessions s JOIN operators o ON o.id = s.operator_id
		WHERE s.token_hash = $1 AND s.revoked_at IS NULL AND s.expires_at > now() AND o.is_active`,
		tokenHash).Scan(&sp.SessionID, &sp.OperatorID, &sp.Email, &sp.FullName, &sp.Role, &sp.CSRFToken, &sp.ExpiresAt)
	return sp, mapErr(err)
}

func (p *Postgres) TouchSession(ctx context.Context, id uuid.UUID) error {
	_, err := p.q.Exec(ctx, `UPDATE sessions SET last_seen_at = now() WHERE id = $1`, id)
	return err
}

func (p *Postgres) RevokeSession(ctx context.Context, id uuid.UUID) error {
	tag, err := p.q.Exec(ctx, `UPDATE sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) RevokeSessionByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := p.q.Exec(ctx, `UPDATE sessions SET revoked_at = now() WHERE token_hash = $1 AND revoked_at IS NULL`, tokenHash)
	return err
}

func (p *Postgres) InsertAuditLog(ctx context.Context, e domain.AuditEntry) error {
	metadata := e.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	var requestID *string
	if e.RequestID != "" {
		requestID = &e.RequestID
	}
	_, err := p.q.Exec(ctx, `
		INSERT INTO audit_log (operator_id, action, entity_type, entity_id, request_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.OperatorID, e.Action, e.EntityType, e.EntityID, requestID, metadata)
	return err
}
