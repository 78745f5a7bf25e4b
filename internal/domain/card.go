package domain

// CardRecord is the shared in-memory shape of one upstream catalog card.
// Both the primary and the fallback provider adapt their own wire formats
// into this type, so everything downstream of the source layer sees exactly
// one record shape.
type CardRecord struct {
	ID              string   // Stable card id within the upstream catalog
	Name            string
	SetCode         string
	SetName         string
	CollectorNumber string
	Rarity          string
	Layout          string
	TypeLine        string
	OracleText      string
	ImageURL        string
	Finishes        []string // nonfoil, foil, etched
	Digital         bool
	PriceUSD        float64
}

// HasFinish reports whether the card is printed with the given finish.
func (c *CardRecord) HasFinish(finish string) bool {
	for _, f := range c.Finishes {
		if f == finish {
			return true
		}
	}
	return false
}
