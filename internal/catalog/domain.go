package catalog

import (
	"context"
	"errors"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// ErrNotFound indicates that the capability key is not in the catalog.
var ErrNotFound = errors.New("catalog: capability not found")

// Capability represents an atomic, stable capability key. Capabilities are
// never deleted, only deprecated.
type Capability struct {
	Key        string
	Module     string
	Dangerous  bool
	Deprecated bool
}

// Store is the read port over the capability catalog. The catalog is
// immutable at resolution time.
type Store interface {
	Get(ctx context.Context, key string) (Capability, error)
	List(ctx context.Context) ([]Capability, error)
}

// SortByKey orders capabilities by key using locale-aware collation so admin
// listings render identically everywhere.
func SortByKey(caps []Capability) {
	collator := collate.New(language.English)
	sort.SliceStable(caps, func(i, j int) bool {
		return collator.CompareString(caps[i].Key, caps[j].Key) < 0
	})
}
