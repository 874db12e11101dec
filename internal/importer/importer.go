// Package importer reconciles uploaded CSV files with the store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/circularops/api/internal/csvimport"
	"github.com/circularops/api/internal/store"
)

type Kind string

const (
	KindInventory Kind = "inventory"
	KindPickups   Kind = "pickups"
	KindCustomers Kind = "customers"
)

func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindInventory, KindPickups, KindCustomers:
		return Kind(raw), nil
	}
	return "", fmt.Errorf("unknown import kind %q", raw)
}

func (k Kind) rules() csvimport.RuleSet {
	switch k {
	case KindPickups:
		return csvimport.PickupRules
	case KindCustomers:
		return csvimport.CustomerRules
	default:
		return csvimport.InventoryRules
	}
}

// Upload is one file selected for import.
type Upload struct {
	Name string
	Body io.Reader
}

type RowWarning struct {
	Row     int    `json:"row"`
	Kind    string `json:"kind"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type FileResult struct {
	File     string       `json:"file"`
	Rows     int          `json:"rows"`
	Created  int          `json:"created"`
	Updated  int          `json:"updated"`
	Skipped  int          `json:"skipped"`
	Warnings []RowWarning `json:"warnings,omitempty"`
}

type BatchResult struct {
	Kind     Kind                `json:"kind"`
	Files    []FileResult        `json:"files"`
	Progress csvimport.Snapshot `json:"progress"`
}

type Importer struct {
	Store       store.Store
	Logger      *slog.Logger
	Coordinator Coordinator
	Resolver    Resolver
	MaxRows     int
	Now         func() time.Time
}

func New(s store.Store, logger *slog.Logger, ceiling int64, maxRows int) *Importer {
	return &Importer{
		Store:       s,
		Logger:      logger,
		Coordinator: Coordinator{Ceiling: ceiling},
		Resolver:    Resolver{Store: s},
		MaxRows:     maxRows,
		Now:         time.Now,
	}
}

func (im *Importer) now() time.Time {
	if im.Now == nil {
		return time.Now().UTC()
	}
	return im.Now().UTC()
}

// Run imports files in order. Every file commits or rolls back as a whole; the
// batch stops at the first file that fails, leaving earlier files committed.
// All files are parsed before anything is written.
func (im *Importer) Run(ctx context.Context, kind Kind, uploads []Upload, progress *csvimport.Progress) (BatchResult, error) {
	if progress == nil {
		progress = csvimport.NewProgress(nil)
	}
	result := BatchResult{Kind: kind, Files: []FileResult{}}
	finish := func(err error) (BatchResult, error) {
		if err != nil {
			progress.Fail(err.Error())
		} else {
			progress.Succeed()
		}
		result.Progress = progress.Snapshot()
		return result, err
	}

	rules := kind.rules().WithCeiling(im.Coordinator.ceiling())
	files := make([]*csvimport.File, 0, len(uploads))
	total := 0
	for _, up := range uploads {
		f, err := csvimport.Parse(up.Name, up.Body, csvimport.WithMaxRows(im.MaxRows))
		if err != nil {
			return finish(err)
		}
		if err := csvimport.CheckHeaders(f, rules); err != nil {
			return finish(err)
		}
		files = append(files, f)
		total += len(f.Rows)
	}
	progress.Start(total)

	for _, f := range files {
		fr, err := im.importFile(ctx, kind, rules, f, progress)
		if err != nil {
			im.Logger.Error("import_file_failed", "kind", kind, "file", f.Name, "error", err)
			return finish(err)
		}
		im.Logger.Info("import_file_completed",
			"kind", kind,
			"file", f.Name,
			"rows", fr.Rows,
			"created", fr.Created,
			"updated", fr.Updated,
			"skipped", fr.Skipped,
		)
		result.Files = append(result.Files, fr)
	}
	return finish(nil)
}

func (im *Importer) importFile(ctx context.Context, kind Kind, rules csvimport.RuleSet, f *csvimport.File, progress *csvimport.Progress) (FileResult, error) {
	var run func(context.Context, store.Store) (FileResult, error)
	switch kind {
	case KindInventory:
		run = func(ctx context.Context, tx store.Store) (FileResult, error) {
			return im.importInventory(ctx, tx, rules, f, progress)
		}
	case KindPickups:
		refs, err := im.Resolver.ResolveAll(ctx, pickupReferenceKeys(f))
		if err != nil {
			return FileResult{}, csvimport.Backend(f.Name, 0, err)
		}
		run = func(ctx context.Context, tx store.Store) (FileResult, error) {
			return im.importPickups(ctx, tx, rules, f, refs, progress)
		}
	case KindCustomers:
		run = func(ctx context.Context, tx store.Store) (FileResult, error) {
			return im.importCustomers(ctx, tx, rules, f, progress)
		}
	default:
		return FileResult{}, fmt.Errorf("unknown import kind %q", kind)
	}

	var fr FileResult
	err := im.Store.WithinTx(ctx, func(tx store.Store) error {
		var err error
		fr, err = run(ctx, tx)
		return err
	})
	if err != nil {
		var ie *csvimport.Error
		if !errors.As(err, &ie) {
			err = csvimport.Backend(f.Name, 0, err)
		}
		return FileResult{}, err
	}
	return fr, nil
}

func (im *Importer) skip(fr *FileResult, file string, row int, kind csvimport.Kind, field, message string) {
	fr.Skipped++
	fr.Warnings = append(fr.Warnings, RowWarning{Row: row, Kind: kind.String(), Field: field, Message: message})
	im.Logger.Warn("import_row_skipped", "file", file, "row", row, "kind", kind.String(), "field", field, "reason", message)
}

// ceilingError reports a quantity that would overflow the ceiling for product.
func ceilingError(file string, row int, product string, err error) error {
	kind := csvimport.KindCeiling
	if errors.Is(err, ErrNegativeQuantity) {
		kind = csvimport.KindValidation
	}
	return &csvimport.Error{
		Kind:    kind,
		File:    file,
		Row:     row,
		Field:   csvimport.ColQuantity,
		Product: product,
		Message: fmt.Sprintf("quantity for product %q in %s is out of range", product, file),
		Err:     err,
	}
}

func isQuantityError(err error) bool {
	return errors.Is(err, ErrCeilingExceeded) || errors.Is(err, ErrNegativeQuantity)
}
