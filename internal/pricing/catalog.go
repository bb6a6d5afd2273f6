// Package pricing holds the deterministic quote engine: catalog lookup, discount
// code validation, per-line price resolution and order totals. Everything in this
// package is side-effect free and safe for concurrent use.
package pricing

import (
	"errors"
	"strings"

	"orderdesk/backend/internal/domain"
)

// BulkThreshold is the quantity from which the bulk ("Kit") price point applies.
const BulkThreshold = 10

const (
	ChannelRetail = "retail"
	ChannelBulk   = "bulk"
)

var ErrProductNotFound = errors.New("product not found")

// Tier names the price point a line was priced from.
type Tier int

const (
	TierOriginal Tier = iota
	TierSingle
	TierKit
	TierManual
)

func (t Tier) String() string {
	switch t {
	case TierSingle:
		return "Single"
	case TierKit:
		return "Kit"
	case TierManual:
		return "Manual"
	default:
		return "Original"
	}
}

// Listing is one product as seen from one order channel.
type Listing struct {
	Product         domain.Product
	Channel         string
	SingleUnitCents *int64
	BulkUnitCents   *int64
}

// TierPrice selects the unit price purely from quantity thresholds.
func (l Listing) TierPrice(quantity int) (int64, Tier) {
	if quantity >= BulkThreshold && l.BulkUnitCents != nil {
		return *l.BulkUnitCents, TierKit
	}
	if l.SingleUnitCents != nil {
		return *l.SingleUnitCents, TierSingle
	}
	return l.Product.BasePriceCents, TierOriginal
}

type tierKey struct {
	barcode string
	channel string
}

// Catalog is an immutable snapshot of listings built once per load.
type Catalog struct {
	products map[string]domain.Product
	tiers    map[tierKey]domain.PriceTier
}

func NewCatalog(listings []domain.ProductListing) *Catalog {
	c := &Catalog{
		products: make(map[string]domain.Product, len(listings)),
		tiers:    make(map[tierKey]domain.PriceTier, len(listings)),
	}
	for _, listing := range listings {
		barcode := NormalizeBarcode(listing.Product.Barcode)
		if barcode == "" {
			continue
		}
		product := listing.Product
		product.Barcode = barcode
		c.products[barcode] = product
		for _, tier := range listing.Tiers {
			tier.Barcode = barcode
			tier.Channel = NormalizeChannel(tier.Channel, ChannelRetail)
			tier.SingleUnitPriceCents = copyCents(tier.SingleUnitPriceCents)
			tier.BulkUnitPriceCents = copyCents(tier.BulkUnitPriceCents)
			c.tiers[tierKey{barcode: barcode, channel: tier.Channel}] = tier
		}
	}
	return c
}

// Lookup resolves a barcode to its listing on the given channel. Unknown or
// inactive products yield ErrProductNotFound.
func (c *Catalog) Lookup(barcode string, channel string) (Listing, error) {
	barcode = NormalizeBarcode(barcode)
	product, ok := c.products[barcode]
	if !ok || !product.Active {
		return Listing{}, ErrProductNotFound
	}

	channel = NormalizeChannel(channel, ChannelRetail)
	listing := Listing{Product: product, Channel: channel}
	if tier, ok := c.tiers[tierKey{barcode: barcode, channel: channel}]; ok {
		listing.SingleUnitCents = copyCents(tier.SingleUnitPriceCents)
		listing.BulkUnitCents = copyCents(tier.BulkUnitPriceCents)
	}
	return listing, nil
}

func (c *Catalog) Len() int {
	return len(c.products)
}

func NormalizeBarcode(barcode string) string {
	return strings.ToUpper(strings.TrimSpace(barcode))
}

func NormalizeChannel(channel string, fallback string) string {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		return fallback
	}
	return channel
}

func copyCents(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
