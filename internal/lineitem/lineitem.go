// Package lineitem merges product/quantity pairs and parses the compact
// "<qty> <name>; <qty> <name>" notation used in pickup spreadsheets.
package lineitem

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrOverflow means the summed quantity of one product does not fit in an int64.
var ErrOverflow = errors.New("aggregated quantity overflows")

type Item struct {
	ProductName string `json:"productName"`
	Quantity    int64  `json:"quantity"`
}

// Aggregate merges items by exact (trimmed) product name, summing quantities.
// Zero quantities still produce an entry. Items are returned in first-seen order.
// A sum that would wrap fails with ErrOverflow instead of losing quantity.
func Aggregate(items []Item) ([]Item, error) {
	index := make(map[string]int, len(items))
	out := make([]Item, 0, len(items))
	for _, item := range items {
		name := strings.TrimSpace(item.ProductName)
		if i, ok := index[name]; ok {
			sum, ok := add(out[i].Quantity, item.Quantity)
			if !ok {
				return nil, fmt.Errorf("%w: product %q", ErrOverflow, name)
			}
			out[i].Quantity = sum
			continue
		}
		index[name] = len(out)
		out = append(out, Item{ProductName: name, Quantity: item.Quantity})
	}
	return out, nil
}

func add(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

// Names returns the distinct product names of items.
func Names(items []Item) []string {
	seen := make(map[string]struct{}, len(items))
	names := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductName]; ok {
			continue
		}
		seen[item.ProductName] = struct{}{}
		names = append(names, item.ProductName)
	}
	return names
}

// ParseList parses "5 kale; 3 spinach". Empty segments are ignored.
func ParseList(raw string) ([]Item, error) {
	items := []Item{}
	for _, segment := range strings.Split(raw, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		qtyText, name, ok := strings.Cut(segment, " ")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("product entry %q must look like \"<qty> <name>\"", segment)
		}
		qty, err := strconv.ParseInt(qtyText, 10, 64)
		if err != nil || qty < 0 {
			return nil, fmt.Errorf("product entry %q has invalid quantity %q", segment, qtyText)
		}
		items = append(items, Item{ProductName: name, Quantity: qty})
	}
	return items, nil
}

// FormatList is the inverse of ParseList.
func FormatList(items []Item) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, strconv.FormatInt(item.Quantity, 10)+" "+item.ProductName)
	}
	return strings.Join(parts, "; ")
}
