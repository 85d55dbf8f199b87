package crdt

import "testing"

func TestPutGet(t *testing.T) {
	d := New("node-a")
	if _, ok := d.Get("name"); ok {
		t.Fatal("expected missing key to report absent")
	}
	d.Put("name", "dio")
	v, ok := d.Get("name")
	if !ok || v != "dio" {
		t.Fatalf("got (%q, %v), want (%q, true)", v, ok, "dio")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	d := New("node-a")
	d.Put("color", "red")
	data := d.Save()

	loaded, err := Load(data)
	if err != nil {
		t.Fatal(err)
	}
	v, ok := loaded.Get("color")
	if !ok || v != "red" {
		t.Fatalf("got (%q, %v), want (%q, true)", v, ok, "red")
	}
	if loaded.Actor() != "node-a" {
		t.Fatalf("actor mismatch: %q", loaded.Actor())
	}
}

func TestMergeIdempotent(t *testing.T) {
	a := New("a")
	a.Put("name", "dio")

	b := New("b")
	b.Put("name", "jotaro")

	// merge(s1); merge(s2); merge(s1) must equal merge(s1); merge(s2)
	left := New("x")
	left.Merge(a)
	left.Merge(b)
	left.Merge(a)

	right := New("x")
	right.Merge(a)
	right.Merge(b)

	lv, _ := left.Get("name")
	rv, _ := right.Get("name")
	if lv != rv {
		t.Fatalf("merge not idempotent: %q vs %q", lv, rv)
	}
}

func TestMergeConvergesAcrossOrder(t *testing.T) {
	a := New("a")
	a.Put("name", "dio")
	b := New("b")
	b.Put("name", "jotaro")

	n1 := New("n1")
	n1.Merge(a)
	n1.Merge(b)

	n2 := New("n2")
	n2.Merge(b)
	n2.Merge(a)

	v1, _ := n1.Get("name")
	v2, _ := n2.Get("name")
	if v1 != v2 {
		t.Fatalf("nodes diverged after merge in different order: %q vs %q", v1, v2)
	}
}

func TestMergeLaterClockWins(t *testing.T) {
	a := New("a")
	a.Put("name", "first")
	a.Put("name", "second") // clock now 2

	b := New("b")
	b.Put("name", "only") // clock 1

	a.Merge(b)
	v, _ := a.Get("name")
	if v != "second" {
		t.Fatalf("expected higher-clock write to survive merge, got %q", v)
	}
}
