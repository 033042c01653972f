package agreement

import (
	"fmt"

	"github.com/shopspring/decimal"

	"banksandbox/internal/common/money"
)

// CatalogEntry is one product's opening bounds. Bounds are expressed as
// decimal strings (major units, e.g. "10.00") the way the catalog would
// carry them over the wire or out of a pricing config, rather than as
// pre-converted minor-unit integers.
type CatalogEntry struct {
	Kind     ProductKind
	Currency money.Currency
	MinMajor string
	MaxMajor string
}

// Catalog is the sandbox's static product list. Catalog CRUD is out of
// scope; this is the fixed set of products the manager can open
// agreements against.
type Catalog struct {
	entries map[ProductKind]CatalogEntry
}

// NewCatalog builds a catalog from the given entries, keyed by kind.
func NewCatalog(entries ...CatalogEntry) *Catalog {
	c := &Catalog{entries: make(map[ProductKind]CatalogEntry, len(entries))}
	for _, e := range entries {
		c.entries[e.Kind] = e
	}
	return c
}

// DefaultCatalog returns the sandbox's built-in product list.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		CatalogEntry{Kind: ProductDeposit, Currency: money.USD, MinMajor: "10.00", MaxMajor: "1000000.00"},
		CatalogEntry{Kind: ProductLoan, Currency: money.USD, MinMajor: "100.00", MaxMajor: "500000.00"},
		CatalogEntry{Kind: ProductCard, Currency: money.USD, MinMajor: "0.00", MaxMajor: "50000.00"},
		CatalogEntry{Kind: ProductCreditCard, Currency: money.USD, MinMajor: "0.00", MaxMajor: "50000.00"},
	)
}

// Lookup returns the catalog entry for a product kind.
func (c *Catalog) Lookup(kind ProductKind) (CatalogEntry, error) {
	e, ok := c.entries[kind]
	if !ok {
		return CatalogEntry{}, ErrUnknownProduct
	}
	return e, nil
}

// CheckBounds validates amount against the entry's min/max, parsing the
// catalog's decimal-string bounds into minor units at the currency's
// precision rather than comparing floats.
func (e CatalogEntry) CheckBounds(amount money.Money) error {
	if amount.Currency != e.Currency {
		return fmt.Errorf("product %s is denominated in %s, not %s", e.Kind, e.Currency, amount.Currency)
	}

	min, err := e.minorUnitsOf(e.MinMajor)
	if err != nil {
		return err
	}
	max, err := e.minorUnitsOf(e.MaxMajor)
	if err != nil {
		return err
	}
	if amount.AmountMinor < min || amount.AmountMinor > max {
		return ErrAmountOutOfRange
	}
	return nil
}

func (e CatalogEntry) minorUnitsOf(major string) (int64, error) {
	info, ok := money.GetCurrencyInfo(e.Currency)
	if !ok {
		return 0, fmt.Errorf("unknown currency %s", e.Currency)
	}
	d, err := decimal.NewFromString(major)
	if err != nil {
		return 0, fmt.Errorf("parsing catalog bound %q: %w", major, err)
	}
	scaled := d.Shift(int32(info.MinorUnits))
	return scaled.Round(0).IntPart(), nil
}
