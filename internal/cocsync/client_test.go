package cocsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkgerrors "github.com/angelmondragon/cocledger-backend/pkg/errors"
)

func TestClientFetchReceipts(t *testing.T) {
	var capturedQuery, capturedAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedQuery = r.URL.Query().Get("since")
		capturedAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"receipts":[
			{"material":"Solar Cell","brand":"X","invoiceNo":"INV-001","quantity":1000,"receivedDate":"2025-01-01"},
			{"material":"Solar Cell","brand":"Y","invoiceNo":"INV-002","quantity":"500","receivedDate":"2025-01-05T10:30:00+02:00","cocDocumentNo":" COC-9 "},
			{"material":"Solar Cell","brand":"Z","invoiceNo":"INV-003","quantity":"lots","receivedDate":"2025-01-06"},
			"not an object"
		]}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/receipts", WithToken("secret"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	page, err := client.FetchReceipts(context.Background(), time.Date(2025, 1, 1, 15, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if capturedQuery != "2025-01-01" {
		t.Fatalf("unexpected since query %q", capturedQuery)
	}
	if capturedAuth != "Bearer secret" {
		t.Fatalf("unexpected authorization header %q", capturedAuth)
	}
	if len(page.Receipts) != 2 {
		t.Fatalf("expected 2 receipts, got %d", len(page.Receipts))
	}
	second := page.Receipts[1]
	if second.Quantity != 500 {
		t.Fatalf("expected string quantity to decode, got %d", second.Quantity)
	}
	if !second.ReceivedDate.Equal(time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected received date %s", second.ReceivedDate)
	}
	if second.COCDocumentNo == nil || *second.COCDocumentNo != "COC-9" {
		t.Fatalf("unexpected coc document %v", second.COCDocumentNo)
	}
	if len(page.Rejected) != 2 {
		t.Fatalf("expected 2 rejections, got %+v", page.Rejected)
	}
	if page.Rejected[0].Row != 2 || page.Rejected[0].InvoiceNo != "INV-003" {
		t.Fatalf("unexpected rejection %+v", page.Rejected[0])
	}
}

func TestClientFetchReceiptsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.FetchReceipts(context.Background(), time.Time{})
	if !pkgerrors.Is(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatal("expected missing url error")
	}
	if _, err := NewClient("not a url"); err == nil {
		t.Fatal("expected invalid url error")
	}
}
