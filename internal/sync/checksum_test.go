package sync

import (
	"testing"

	"sync-service/pkg/models"
)

func TestChecksum(t *testing.T) {
	a := models.Row{"id": "1", "qty": 2.0, "name": "apple"}
	b := models.Row{"id": "2", "qty": 5.0, "name": "pear"}
	aEdited := models.Row{"id": "1", "qty": 3.0, "name": "apple"}

	sum := func(rows []models.Row, ordered bool) string {
		t.Helper()
		s, err := Checksum(rows, ordered)
		if err != nil {
			t.Fatalf("Checksum() failed: %v", err)
		}
		return s
	}

	tests := []struct {
		name    string
		x, y    []models.Row
		ordered bool
		equal   bool
	}{
		{"identical", []models.Row{a, b}, []models.Row{a, b}, false, true},
		{"unordered ignores row order", []models.Row{a, b}, []models.Row{b, a}, false, true},
		{"ordered sees row order", []models.Row{a, b}, []models.Row{b, a}, true, false},
		{"single cell edit", []models.Row{a, b}, []models.Row{aEdited, b}, false, false},
		{"single cell edit ordered", []models.Row{a, b}, []models.Row{aEdited, b}, true, false},
		{"duplicate rows count", []models.Row{a, a}, []models.Row{a}, false, false},
		{"empty tables", nil, []models.Row{}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := sum(tt.x, tt.ordered), sum(tt.y, tt.ordered)
			if (x == y) != tt.equal {
				t.Errorf("Checksum equal = %v, want %v (%s vs %s)", x == y, tt.equal, x, y)
			}
		})
	}
}

func TestChecksum_Format(t *testing.T) {
	s, err := Checksum([]models.Row{{"a": 1}}, false)
	if err != nil {
		t.Fatalf("Checksum() failed: %v", err)
	}
	if len(s) != 64 {
		t.Errorf("len(checksum) = %d, want 64 hex chars", len(s))
	}
}

func TestChecksum_UnencodableRow(t *testing.T) {
	if _, err := Checksum([]models.Row{{"ch": make(chan int)}}, false); err == nil {
		t.Error("Checksum() with a channel value succeeded, want error")
	}
}
