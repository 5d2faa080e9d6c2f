package cart

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Ref identifies a cart. The identity layer decides whether it belongs to an
// account or an anonymous session; nothing below it cares which.
type Ref string

const (
	accountPrefix = "account:"
	sessionPrefix = "session:"
)

func AccountRef(accountID int64) Ref {
	return Ref(accountPrefix + strconv.FormatInt(accountID, 10))
}

func SessionRef(token string) Ref {
	return Ref(sessionPrefix + token)
}

func (r Ref) String() string { return string(r) }

// AccountID returns the account id behind an account cart.
func (r Ref) AccountID() (int64, bool) {
	s, ok := strings.CutPrefix(string(r), accountPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil
}

func (r Ref) Valid() bool {
	s := string(r)
	switch {
	case strings.HasPrefix(s, accountPrefix):
		return len(s) > len(accountPrefix)
	case strings.HasPrefix(s, sessionPrefix):
		return len(s) > len(sessionPrefix)
	}
	return false
}

// VariationSet maps a variation category (color, size) to the chosen value.
type VariationSet map[string]string

// Key renders the set in canonical form, e.g. "color=red;size=m".
func (v VariationSet) Key() string {
	if len(v) == 0 {
		return ""
	}
	cats := make([]string, 0, len(v))
	for c := range v {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = c + "=" + v[c]
	}
	return strings.Join(parts, ";")
}

// Pairs returns the canonical "category=value" entries.
func (v VariationSet) Pairs() []string {
	key := v.Key()
	if key == "" {
		return nil
	}
	return strings.Split(key, ";")
}

func ParseVariationKey(key string) VariationSet {
	set := VariationSet{}
	if key == "" {
		return set
	}
	for _, part := range strings.Split(key, ";") {
		cat, val, ok := strings.Cut(part, "=")
		if !ok || cat == "" {
			continue
		}
		set[cat] = val
	}
	return set
}

func normalizeVariations(v VariationSet) VariationSet {
	out := VariationSet{}
	for c, val := range v {
		c = strings.ToLower(strings.TrimSpace(c))
		val = strings.TrimSpace(val)
		if c == "" || val == "" {
			continue
		}
		out[c] = val
	}
	return out
}

type Line struct {
	ID         int64        `json:"id"`
	Ref        Ref          `json:"-"`
	ProductID  int64        `json:"product_id"`
	Quantity   int          `json:"quantity"`
	Variations VariationSet `json:"variations"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

type ViewLine struct {
	Line
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// View is the cart priced at current product prices.
type View struct {
	Lines      []ViewLine      `json:"lines"`
	Quantity   int             `json:"quantity"`
	Total      decimal.Decimal `json:"total"`
	Tax        decimal.Decimal `json:"tax"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// TaxFunc computes the tax owed on a cart or order total.
type TaxFunc func(total decimal.Decimal) decimal.Decimal
