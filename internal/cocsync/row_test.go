package cocsync

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDecodeRow(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantQty int
		wantErr string
	}{
		{name: "numeric quantity", raw: `{"material":"Glass","brand":"B","invoiceNo":"I-1","quantity":12,"receivedDate":"2025-03-01"}`, wantQty: 12},
		{name: "string quantity", raw: `{"material":"Glass","brand":"B","invoiceNo":"I-1","quantity":" 40 ","receivedDate":"2025-03-01"}`, wantQty: 40},
		{name: "whole decimal", raw: `{"material":"Glass","brand":"B","invoiceNo":"I-1","quantity":"15.00","receivedDate":"2025-03-01"}`, wantQty: 15},
		{name: "fractional quantity", raw: `{"material":"Glass","brand":"B","invoiceNo":"I-1","quantity":1.5,"receivedDate":"2025-03-01"}`, wantErr: "whole number"},
		{name: "zero quantity", raw: `{"material":"Glass","brand":"B","invoiceNo":"I-1","quantity":0,"receivedDate":"2025-03-01"}`, wantErr: "quantity must be greater than 0"},
		{name: "missing quantity", raw: `{"material":"Glass","brand":"B","invoiceNo":"I-1","receivedDate":"2025-03-01"}`, wantErr: "quantity is required"},
		{name: "bad date", raw: `{"material":"Glass","brand":"B","invoiceNo":"I-1","quantity":1,"receivedDate":"03/01/2025"}`, wantErr: "not a date"},
		{name: "missing brand", raw: `{"material":"Glass","brand":"  ","invoiceNo":"I-1","quantity":1,"receivedDate":"2025-03-01"}`, wantErr: "brand is required"},
		{name: "long invoice", raw: `{"material":"Glass","brand":"B","invoiceNo":"` + strings.Repeat("9", 101) + `","quantity":1,"receivedDate":"2025-03-01"}`, wantErr: "invoiceNo must be at most 100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			receipt, err := decodeRow(json.RawMessage(tt.raw))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if receipt.Quantity != tt.wantQty {
				t.Fatalf("expected quantity %d, got %d", tt.wantQty, receipt.Quantity)
			}
			if !receipt.ReceivedDate.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
				t.Fatalf("unexpected date %s", receipt.ReceivedDate)
			}
		})
	}
}
