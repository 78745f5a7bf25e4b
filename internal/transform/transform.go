// Package transform maps one catalog card into its downstream write
// payload. It is pure and fully deterministic: the same record and context
// always yield byte-identical output, which is what makes idempotent
// re-processing safe.
package transform

import (
	"fmt"
	"strings"

	"github.com/deckbase/cardsync/internal/domain"
	"github.com/deckbase/cardsync/internal/downstream"
)

// maxSlugLen is the downstream's slug length limit.
const maxSlugLen = 255

// Conditions is the fixed variant dimension enumeration, in generation
// order. Every (finish, condition) pair of a card becomes one variant.
var Conditions = []string{"NM", "LP", "MP", "HP", "DMG"}

// conditionMultipliers scales the base price per condition grade.
var conditionMultipliers = map[string]float64{
	"NM":  1.0,
	"LP":  0.85,
	"MP":  0.7,
	"HP":  0.5,
	"DMG": 0.3,
}

// finishMultipliers scales the base price per finish.
var finishMultipliers = map[string]float64{
	"nonfoil": 1.0,
	"foil":    1.5,
	"etched":  1.75,
}

// Context carries the target-system lookups a run resolves once and reuses
// for every record.
type Context struct {
	// AttributeIDs maps logical attribute names (rarity, set, type) to the
	// downstream attribute ids.
	AttributeIDs map[string]string
	CategoryID   string
	ChannelIDs   []string
	WarehouseID  string
	// DefaultPriceUSD is used when the record carries no price.
	DefaultPriceUSD float64
}

// Build maps one card into its downstream write candidate: one product plus
// the full set of generated variant rows.
// Parameters:
//   - rec: the source card record.
//   - tctx: target-system context resolved once per run.
// Returns:
//   - *downstream.ProductInput: the write candidate.
//   - error: non-nil if the record cannot form a valid candidate.
func Build(rec *domain.CardRecord, tctx *Context) (*downstream.ProductInput, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("card record has no id")
	}

	input := &downstream.ProductInput{
		Name:        productName(rec),
		Slug:        Slug(rec),
		ExternalRef: rec.ID,
		CategoryID:  tctx.CategoryID,
		MediaURL:    rec.ImageURL,
	}

	// Absent optional fields stay absent; the downstream schema treats
	// missing and null differently.
	if rec.OracleText != "" {
		input.Description = rec.OracleText
	}

	input.Attributes = buildAttributes(rec, tctx)

	for _, channelID := range tctx.ChannelIDs {
		input.ChannelListings = append(input.ChannelListings, downstream.ChannelListing{
			ChannelID: channelID,
			Published: true,
		})
	}

	basePrice := rec.PriceUSD
	if basePrice <= 0 {
		basePrice = tctx.DefaultPriceUSD
	}

	for _, finish := range rec.Finishes {
		for _, condition := range Conditions {
			input.Variants = append(input.Variants, downstream.VariantInput{
				SKU:         VariantSKU(rec.ID, finish, condition),
				Name:        variantName(finish, condition),
				Price:       variantPrice(basePrice, finish, condition),
				WarehouseID: tctx.WarehouseID,
			})
		}
	}

	return input, nil
}

// VariantSKU derives the deterministic variant key from the card id and the
// variant dimensions.
func VariantSKU(cardID, finish, condition string) string {
	return fmt.Sprintf("%s-%s-%s", cardID, finish, strings.ToLower(condition))
}

// Slug builds the product's natural key: normalized name, set, and collector
// number, truncated to the downstream's length and charset constraints, with
// a guaranteed-non-empty fallback.
func Slug(rec *domain.CardRecord) string {
	slug := slugify(fmt.Sprintf("%s-%s-%s", rec.Name, rec.SetCode, rec.CollectorNumber))
	if slug == "" {
		slug = slugify("card-" + rec.ID)
	}
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	return slug
}

// slugify lowercases and collapses everything outside [a-z0-9] into single
// hyphens.
func slugify(s string) string {
	var b strings.Builder
	lastHyphen := true // swallow leading hyphens
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func productName(rec *domain.CardRecord) string {
	if rec.SetName != "" {
		return fmt.Sprintf("%s (%s #%s)", rec.Name, rec.SetName, rec.CollectorNumber)
	}
	return rec.Name
}

func variantName(finish, condition string) string {
	return fmt.Sprintf("%s / %s", capitalize(finish), condition)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func variantPrice(base float64, finish, condition string) float64 {
	price := base
	if m, ok := finishMultipliers[finish]; ok {
		price *= m
	}
	if m, ok := conditionMultipliers[condition]; ok {
		price *= m
	}
	// Round to cents so repeated builds stay byte-identical after encoding.
	return float64(int64(price*100+0.5)) / 100
}

// buildAttributes assigns the configured attributes in a fixed order.
func buildAttributes(rec *domain.CardRecord, tctx *Context) []downstream.AttributeValue {
	var attrs []downstream.AttributeValue

	add := func(name, value string) {
		if value == "" {
			return
		}
		id, ok := tctx.AttributeIDs[name]
		if !ok {
			return
		}
		attrs = append(attrs, downstream.AttributeValue{AttributeID: id, Value: value})
	}

	add("rarity", rec.Rarity)
	add("set", rec.SetCode)
	add("type", rec.TypeLine)
	add("collector_number", rec.CollectorNumber)

	return attrs
}
