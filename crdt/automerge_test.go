package crdt

import (
	"sort"
	"testing"

	"github.com/automerge/automerge-go"
)

// makeUpdate simulates a client replica producing one incremental change.
func makeUpdate(t *testing.T, key, value string) []byte {
	t.Helper()
	doc := automerge.New()
	if err := doc.Path(key).Set(value); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if _, err := doc.Commit("edit " + key); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	return doc.SaveIncremental()
}

func loadDoc(t *testing.T, data []byte) *automerge.Doc {
	t.Helper()
	doc, err := automerge.Load(data)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	return doc
}

func heads(doc *automerge.Doc) []string {
	out := make([]string, 0)
	for _, h := range doc.Heads() {
		out = append(out, h.String())
	}
	sort.Strings(out)
	return out
}

func valueAt(t *testing.T, doc *automerge.Doc, key string) string {
	t.Helper()
	v, err := doc.Path(key).Get()
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	return v.Str()
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

func TestAutomerge_NewEncodesLoadableState(t *testing.T) {
	engine := NewAutomerge()
	state := engine.New()

	decoded, err := engine.Decode(state.Encode())
	if err != nil {
		t.Fatalf("Decode() of empty state failed: %v", err)
	}
	if decoded == nil {
		t.Fatal("Decode() returned nil state")
	}
}

func TestAutomerge_ApplyIdempotent(t *testing.T) {
	engine := NewAutomerge()
	update := makeUpdate(t, "title", "hello")

	once := engine.New()
	if err := once.Apply(update); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	twice := engine.New()
	for i := 0; i < 2; i++ {
		if err := twice.Apply(update); err != nil {
			t.Fatalf("Apply() #%d failed: %v", i+1, err)
		}
	}

	a := loadDoc(t, once.Encode())
	b := loadDoc(t, twice.Encode())
	if !equalStrings(heads(a), heads(b)) {
		t.Errorf("heads differ: %v vs %v", heads(a), heads(b))
	}
	if got := valueAt(t, b, "title"); got != "hello" {
		t.Errorf("title = %q, want %q", got, "hello")
	}
}

func TestAutomerge_ApplyCommutative(t *testing.T) {
	engine := NewAutomerge()
	u1 := makeUpdate(t, "title", "from-one")
	u2 := makeUpdate(t, "title", "from-two")
	u3 := makeUpdate(t, "body", "text")

	forward := engine.New()
	for _, u := range [][]byte{u1, u2, u3} {
		if err := forward.Apply(u); err != nil {
			t.Fatalf("Apply() failed: %v", err)
		}
	}

	backward := engine.New()
	for _, u := range [][]byte{u3, u2, u1} {
		if err := backward.Apply(u); err != nil {
			t.Fatalf("Apply() failed: %v", err)
		}
	}

	a := loadDoc(t, forward.Encode())
	b := loadDoc(t, backward.Encode())
	if !equalStrings(heads(a), heads(b)) {
		t.Errorf("heads differ: %v vs %v", heads(a), heads(b))
	}
	if valueAt(t, a, "title") != valueAt(t, b, "title") {
		t.Errorf("conflicting title resolved differently: %q vs %q", valueAt(t, a, "title"), valueAt(t, b, "title"))
	}
	if got := valueAt(t, b, "body"); got != "text" {
		t.Errorf("body = %q, want %q", got, "text")
	}
}

func TestAutomerge_FullStateAppliesAsUpdate(t *testing.T) {
	engine := NewAutomerge()
	source := engine.New()
	if err := source.Apply(makeUpdate(t, "title", "seed")); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	replica := engine.New()
	if err := replica.Apply(source.Encode()); err != nil {
		t.Fatalf("Apply(full state) failed: %v", err)
	}
	if got := valueAt(t, loadDoc(t, replica.Encode()), "title"); got != "seed" {
		t.Errorf("title = %q, want %q", got, "seed")
	}
}

func TestAutomerge_DecodeCorrupted(t *testing.T) {
	if _, err := NewAutomerge().Decode([]byte("not an automerge document")); err == nil {
		t.Error("Decode() should fail for corrupted data")
	}
}

func TestAutomerge_ApplyEmpty(t *testing.T) {
	if err := NewAutomerge().New().Apply(nil); err == nil {
		t.Error("Apply(nil) should fail")
	}
}
