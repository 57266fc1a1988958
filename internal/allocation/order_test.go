package allocation

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cocledger-backend/internal/coc"
)

func balance(invoice, brand string, received time.Time, qty, remaining int) coc.BatchBalance {
	return coc.BatchBalance{
		BatchID:      uuid.New(),
		InvoiceNo:    invoice,
		Material:     "Solar Cell",
		Brand:        brand,
		ReceivedDate: received,
		ReceivedQty:  qty,
		ConsumedQty:  qty - remaining,
		RemainingQty: remaining,
	}
}

func invoices(candidates []Candidate) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.InvoiceNo)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOrderIsFIFOWithoutBrandHistory(t *testing.T) {
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jan5 := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)

	got := Order([]coc.BatchBalance{
		balance("INV-002", "Y", jan5, 500, 500),
		balance("INV-010", "Z", jan1, 100, 100),
		balance("INV-001", "X", jan1, 1000, 1000),
	}, nil)

	want := []string{"INV-001", "INV-010", "INV-002"}
	if !equalStrings(invoices(got), want) {
		t.Fatalf("expected %v got %v", want, invoices(got))
	}
	for _, c := range got {
		if c.PreferredBrand {
			t.Fatalf("no brand should be preferred without history: %+v", c)
		}
	}
}

func TestOrderPrefersUsedBrands(t *testing.T) {
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jan5 := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	jan9 := time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC)

	got := Order([]coc.BatchBalance{
		balance("INV-001", "X", jan1, 1000, 1000),
		balance("INV-003", "Y", jan9, 200, 200),
		balance("INV-002", "Y", jan5, 500, 500),
	}, []string{"Y"})

	want := []string{"INV-002", "INV-003", "INV-001"}
	if !equalStrings(invoices(got), want) {
		t.Fatalf("expected %v got %v", want, invoices(got))
	}
	if !got[0].PreferredBrand || got[2].PreferredBrand {
		t.Fatalf("unexpected preference flags %+v", got)
	}
}

func TestOrderDropsExhaustedAndFallsBackToNewBrands(t *testing.T) {
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jan5 := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)

	got := Order([]coc.BatchBalance{
		balance("INV-001", "X", jan1, 1000, 1000),
		balance("INV-002", "Y", jan5, 500, 0),
	}, []string{"Y"})

	if !equalStrings(invoices(got), []string{"INV-001"}) {
		t.Fatalf("exhausted preferred batch must be dropped, got %v", invoices(got))
	}

	if got := Order(nil, []string{"Y"}); len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", got)
	}
}

func TestOrderSkipsInconsistentBatches(t *testing.T) {
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	broken := balance("INV-001", "X", jan1, 100, 150)

	if got := Order([]coc.BatchBalance{broken}, nil); len(got) != 0 {
		t.Fatalf("inconsistent batch must not be offered, got %v", invoices(got))
	}
}
