package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/circularops/api/internal/auth"
	"github.com/circularops/api/internal/db"
	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/store"
)

func main() {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	email := envOrDefault("SEED_ADMIN_EMAIL", "admin@local.circularops")
	password := envOrDefault("SEED_ADMIN_PASSWORD", "Admin12345!")
	fullName := envOrDefault("SEED_ADMIN_NAME", "Local Admin")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, databaseURL)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	op := domain.Operator{
		Email:        email,
		FullName:     fullName,
		PasswordHash: passwordHash,
		Role:         domain.RoleAdmin,
		IsActive:     true,
	}
	if err := seed(ctx, store.NewPostgres(pool), op); err != nil {
		log.Fatalf("seed: %v", err)
	}

	fmt.Printf("Seed completed. admin=%s, password=%s\n", email, password)
}

// seed runs each insert on its own so existing rows are skipped without
// aborting the rest.
func seed(ctx context.Context, s store.Store, op domain.Operator) error {
	if err := ignoreConflict(s.CreateOperator(ctx, op)); err != nil {
		return fmt.Errorf("insert operator: %w", err)
	}

	for _, name := range []string{"Dana Ruiz", "Kofi Mensah"} {
		if err := ignoreConflict(s.CreateDriver(ctx, domain.Driver{Name: name})); err != nil {
			return fmt.Errorf("insert driver %s: %w", name, err)
		}
	}

	for _, p := range []domain.Product{
		{Name: "Cardboard", Quantity: 1200, Description: "Baled corrugated board", ReservedLocation: "Bay 1"},
		{Name: "PET Bottles", Quantity: 450, Description: "Clear PET, crushed", ReservedLocation: "Bay 2"},
		{Name: "Food Waste", Quantity: 300, Description: "Organics for composting"},
	} {
		if err := ignoreConflict(s.CreateProduct(ctx, p)); err != nil {
			return fmt.Errorf("insert product %s: %w", p.Name, err)
		}
	}

	ids, err := s.CustomerIDsByCompanyName(ctx, []string{"Harbour Cafe"})
	if err != nil {
		return err
	}
	if _, ok := ids["Harbour Cafe"]; !ok {
		if _, err := s.CreateCustomer(ctx, domain.Customer{
			CompanyName: "Harbour Cafe",
			Email:       "ops@harbourcafe.example",
			Phone:       "555-0100",
			Address:     "1 Quay St",
			DefaultProductTypes: []domain.DefaultProductType{
				{ProductName: "Food Waste"},
				{ProductName: "Cardboard"},
			},
			Locations: []domain.Location{{Name: "Main", Address: "1 Quay St", EmptyBins: 4}},
		}); err != nil {
			return fmt.Errorf("insert customer: %w", err)
		}
	}
	return nil
}

func ignoreConflict[T any](_ T, err error) error {
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	return err
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
