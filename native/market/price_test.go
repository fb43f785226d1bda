package market

import "testing"

func TestPriceStoreAppendRejectsNonAdvancingTimestamp(t *testing.T) {
	s := NewPriceStore()
	if _, err := s.Append(100, decimalOf(t, 1), decimalOf(t, 1)); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if _, err := s.Append(100, decimalOf(t, 1), decimalOf(t, 1)); err != ErrStalePrice {
		t.Fatalf("expected ErrStalePrice for equal timestamp, got %v", err)
	}
	if _, err := s.Append(99, decimalOf(t, 1), decimalOf(t, 1)); err != ErrStalePrice {
		t.Fatalf("expected ErrStalePrice for earlier timestamp, got %v", err)
	}
}

func TestPriceStoreOrdinalsAreSequential(t *testing.T) {
	s := NewPriceStore()
	for i, ts := range []int64{10, 20, 30} {
		p, err := s.Append(ts, decimalOf(t, uint64(i+1)), decimalOf(t, 1))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if p.Ordinal != uint64(i) {
			t.Fatalf("expected ordinal %d, got %d", i, p.Ordinal)
		}
	}
	latest, ok := s.Latest()
	if !ok || latest.Ordinal != 2 {
		t.Fatalf("expected latest ordinal 2, got %+v ok=%v", latest, ok)
	}
	if s.Count() != 3 {
		t.Fatalf("expected count 3, got %d", s.Count())
	}
}

func TestPriceStoreAtOrBefore(t *testing.T) {
	s := NewPriceStore()
	_, _ = s.Append(10, decimalOf(t, 1), decimalOf(t, 1))
	_, _ = s.Append(20, decimalOf(t, 2), decimalOf(t, 1))
	_, _ = s.Append(30, decimalOf(t, 3), decimalOf(t, 1))

	if _, ok := s.AtOrBefore(5); ok {
		t.Fatalf("expected no point before the first timestamp")
	}
	p, ok := s.AtOrBefore(25)
	if !ok || p.Ordinal != 1 {
		t.Fatalf("expected ordinal 1 at ts=25, got %+v ok=%v", p, ok)
	}
	p, ok = s.AtOrBefore(30)
	if !ok || p.Ordinal != 2 {
		t.Fatalf("expected exact-match ordinal 2 at ts=30, got %+v ok=%v", p, ok)
	}
}

func TestPriceStoreOldestIncompleteAndMarkComplete(t *testing.T) {
	s := NewPriceStore()
	_, _ = s.Append(10, decimalOf(t, 1), decimalOf(t, 1))
	_, _ = s.Append(20, decimalOf(t, 2), decimalOf(t, 1))

	p, ok := s.OldestIncomplete()
	if !ok || p.Ordinal != 0 {
		t.Fatalf("expected oldest incomplete ordinal 0, got %+v ok=%v", p, ok)
	}
	s.MarkComplete(0)
	p, ok = s.OldestIncomplete()
	if !ok || p.Ordinal != 1 {
		t.Fatalf("expected oldest incomplete ordinal 1 after marking 0 complete, got %+v ok=%v", p, ok)
	}
	s.MarkComplete(1)
	if _, ok := s.OldestIncomplete(); ok {
		t.Fatalf("expected no incomplete points remaining")
	}
}

func TestPriceStoreByOrdinalOutOfRange(t *testing.T) {
	s := NewPriceStore()
	_, _ = s.Append(10, decimalOf(t, 1), decimalOf(t, 1))
	if _, ok := s.ByOrdinal(5); ok {
		t.Fatalf("expected ByOrdinal to report false for an out-of-range ordinal")
	}
}
