package market

import (
	"path/filepath"
	"testing"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.sqlite")
	a, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchiveEmitIgnoresNonCloseEvents(t *testing.T) {
	a := openTestArchive(t)
	a.Emit(PricePointAppendedEvent{Ordinal: 1, Timestamp: 1000, PriceBase: "100"})

	rows, err := a.PositionsByOwner("anyone", 10, 0)
	if err != nil {
		t.Fatalf("PositionsByOwner: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows from a non-close event, got %d", len(rows))
	}
}

func TestArchiveEmitUpsertsClosedPositionAndPaginates(t *testing.T) {
	a := openTestArchive(t)
	for i := 0; i < 3; i++ {
		a.Emit(PositionCloseEvent{
			ID:            PositionID(string(rune('a' + i))),
			Owner:         "owner-1",
			NotionalSize:  "200",
			Reason:        CloseTrader,
			PayoutToOwner: "97",
			PoolReceived:  "100",
		})
	}
	a.Emit(PositionCloseEvent{
		ID:            PositionID("other"),
		Owner:         "owner-2",
		NotionalSize:  "50",
		Reason:        CloseLiquidation,
		PayoutToOwner: "0",
		PoolReceived:  "50",
	})

	rows, err := a.PositionsByOwner("owner-1", 10, 0)
	if err != nil {
		t.Fatalf("PositionsByOwner: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows for owner-1, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Reason != "Trader" {
			t.Fatalf("expected reason Trader, got %s", row.Reason)
		}
	}

	page, err := a.PositionsByOwner("owner-1", 2, 0)
	if err != nil {
		t.Fatalf("PositionsByOwner page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected a 2-row page, got %d", len(page))
	}

	others, err := a.PositionsByOwner("owner-2", 10, 0)
	if err != nil {
		t.Fatalf("PositionsByOwner owner-2: %v", err)
	}
	if len(others) != 1 || others[0].Reason != "Liquidation" {
		t.Fatalf("expected 1 Liquidation row for owner-2, got %+v", others)
	}
}

func TestArchiveDefaultsLimitWhenNonPositive(t *testing.T) {
	a := openTestArchive(t)
	a.Emit(PositionCloseEvent{ID: PositionID("p"), Owner: "owner-1", Reason: CloseTrader})

	rows, err := a.PositionsByOwner("owner-1", 0, 0)
	if err != nil {
		t.Fatalf("PositionsByOwner: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected the default limit to still return the single row, got %d", len(rows))
	}
}
