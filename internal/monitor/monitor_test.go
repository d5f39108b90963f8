package monitor

import "testing"

func TestWeightDefaults(t *testing.T) {
	t.Parallel()
	var nilTable *Table
	if got := nilTable.Weight("any"); got != 1 {
		t.Fatalf("nil table weight = %v, want 1", got)
	}

	m := NewInMemory(map[string]float64{"clicks": 2.5})
	tb := m.Table()
	if got := tb.Weight("clicks"); got != 2.5 {
		t.Fatalf("weight = %v, want 2.5", got)
	}
	if got := tb.Weight("unknown"); got != 1 {
		t.Fatalf("unknown stream weight = %v, want 1", got)
	}
}

func TestUpdateSwapsSnapshot(t *testing.T) {
	t.Parallel()
	m := NewInMemory(map[string]float64{"a": 1})
	old := m.Table()

	weights := map[string]float64{"a": 3}
	m.Update(weights)
	weights["a"] = 99 // the snapshot must not alias the caller's map

	cur := m.Table()
	if cur == old {
		t.Fatal("Update did not swap the snapshot")
	}
	if cur.Version != old.Version+1 {
		t.Fatalf("version = %d, want %d", cur.Version, old.Version+1)
	}
	if got := cur.Weight("a"); got != 3 {
		t.Fatalf("weight = %v, want 3", got)
	}
	if got := old.Weight("a"); got != 1 {
		t.Fatalf("old snapshot mutated: weight = %v", got)
	}
}

func TestLastFinishedIsMonotonic(t *testing.T) {
	t.Parallel()
	m := NewInMemory(nil)
	m.NotifyBatchFinished(2000)
	m.NotifyBatchFinished(1000)
	if got := m.LastFinished(); got != 2000 {
		t.Fatalf("last finished = %v, want 2000", got)
	}
}
