package allocation

import (
	"cmp"
	"slices"

	"github.com/angelmondragon/cocledger-backend/internal/coc"
)

// Candidate is a batch eligible for consumption, tagged with whether its
// brand was already used on the production lot.
type Candidate struct {
	coc.BatchBalance
	PreferredBrand bool `json:"preferredBrand"`
}

// Order ranks batches for consumption. Batches without remaining stock are
// dropped. Brands already used on the lot come first; each bucket is FIFO by
// received date with the invoice number breaking ties. Brand preference only
// reorders, it never excludes.
func Order(batches []coc.BatchBalance, usedBrands []string) []Candidate {
	used := make(map[string]struct{}, len(usedBrands))
	for _, brand := range usedBrands {
		used[brand] = struct{}{}
	}

	preferred := make([]Candidate, 0, len(batches))
	fresh := make([]Candidate, 0, len(batches))
	for _, batch := range batches {
		if batch.RemainingQty <= 0 || !batch.Consistent() {
			continue
		}
		if _, ok := used[batch.Brand]; ok {
			preferred = append(preferred, Candidate{BatchBalance: batch, PreferredBrand: true})
			continue
		}
		fresh = append(fresh, Candidate{BatchBalance: batch})
	}

	slices.SortStableFunc(preferred, fifo)
	slices.SortStableFunc(fresh, fifo)
	return append(preferred, fresh...)
}

func fifo(a, b Candidate) int {
	if c := a.ReceivedDate.Compare(b.ReceivedDate); c != 0 {
		return c
	}
	return cmp.Compare(a.InvoiceNo, b.InvoiceNo)
}
