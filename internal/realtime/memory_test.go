package realtime

import (
	"context"
	"encoding/json"
	"testing"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSetAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "a/b", record{Name: "x", Count: 2}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got record
	if err := store.Get(ctx, "a/b", &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "x" || got.Count != 2 {
		t.Errorf("Got %+v, want {x 2}", got)
	}

	// Objects flatten to leaves: individual fields are addressable.
	var name string
	if err := store.Get(ctx, "a/b/name", &name); err != nil {
		t.Fatalf("Get leaf failed: %v", err)
	}
	if name != "x" {
		t.Errorf("Got leaf %q, want x", name)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := NewMemoryStore()

	var got record
	if err := store.Get(context.Background(), "missing", &got); err != ErrNotFound {
		t.Errorf("Got err %v, want ErrNotFound", err)
	}
}

func TestUpdate_FieldWriteKeepsSiblings(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "a/b", record{Name: "x", Count: 2}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Update(ctx, map[string]interface{}{"a/b/count": 7}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	var got record
	if err := store.Get(ctx, "a/b", &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "x" || got.Count != 7 {
		t.Errorf("Got %+v, want {x 7}", got)
	}
}

func TestUpdate_NilDeletesSubtree(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "a/b", record{Name: "x"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Update(ctx, map[string]interface{}{
		"a/b":   nil,
		"a/c/v": 1,
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	var got record
	if err := store.Get(ctx, "a/b", &got); err != ErrNotFound {
		t.Errorf("Got err %v, want ErrNotFound after delete", err)
	}
	var v int
	if err := store.Get(ctx, "a/c/v", &v); err != nil || v != 1 {
		t.Errorf("Got v=%d err=%v, want 1", v, err)
	}
}

func TestSet_ReplacesWholeSubtree(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "a/b", record{Name: "x", Count: 2}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	// Replace with a value that has no count leaf.
	if err := store.Set(ctx, "a/b", map[string]interface{}{"name": "y"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var count int
	if err := store.Get(ctx, "a/b/count", &count); err != ErrNotFound {
		t.Errorf("Got err %v, want ErrNotFound for stale field", err)
	}
}

func TestChildren(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Set(ctx, "rooms/r1/u1", record{Name: "a"})
	store.Set(ctx, "rooms/r1/u2", record{Name: "b"})
	store.Set(ctx, "rooms/r2/u3", record{Name: "c"})

	children, err := store.Children(ctx, "rooms/r1")
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("Got %d children, want 2", len(children))
	}

	var got record
	if err := json.Unmarshal(children["u2"], &got); err != nil {
		t.Fatalf("Unmarshal child failed: %v", err)
	}
	if got.Name != "b" {
		t.Errorf("Got child %+v, want name b", got)
	}

	if _, err := store.Children(ctx, "rooms/r9"); err != ErrNotFound {
		t.Errorf("Got err %v, want ErrNotFound for missing parent", err)
	}
}

func TestWatch_DeliversChangesAndDeletes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ch, cancel := store.Watch("a/b")
	defer cancel()

	if err := store.Set(ctx, "a/b", record{Name: "x"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	raw := <-ch
	var got record
	if err := json.Unmarshal(raw, &got); err != nil || got.Name != "x" {
		t.Fatalf("Got %s err=%v, want name x", raw, err)
	}

	// A write to a child of the watched path also fires.
	if err := store.Update(ctx, map[string]interface{}{"a/b/name": "y"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	raw = <-ch
	if err := json.Unmarshal(raw, &got); err != nil || got.Name != "y" {
		t.Fatalf("Got %s err=%v, want name y", raw, err)
	}

	if err := store.Remove(ctx, "a/b"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if raw = <-ch; raw != nil {
		t.Errorf("Got %s after delete, want nil", raw)
	}
}

func TestConnected_TransitionsOnly(t *testing.T) {
	store := NewMemoryStore()

	ch, cancel := store.Connected()
	defer cancel()

	select {
	case v := <-ch:
		t.Fatalf("Got initial emit %v, want none", v)
	default:
	}

	store.SetConnected(true) // already connected, no transition
	select {
	case v := <-ch:
		t.Fatalf("Got emit %v for unchanged state", v)
	default:
	}

	store.SetConnected(false)
	if v := <-ch; v != false {
		t.Errorf("Got %v, want false", v)
	}
	store.SetConnected(true)
	if v := <-ch; v != true {
		t.Errorf("Got %v, want true", v)
	}
}

func TestDisconnectOps(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Set(ctx, "a/b", record{Name: "x"})
	store.RegisterDisconnect("conn1",
		DisconnectOp{Path: "a/b"},
		DisconnectOp{Path: "a/flag", Value: true},
	)

	if got := store.RegisteredDisconnects("conn1"); got != 2 {
		t.Fatalf("Got %d registered ops, want 2", got)
	}

	if err := store.RunDisconnect(ctx, "conn1"); err != nil {
		t.Fatalf("RunDisconnect failed: %v", err)
	}

	var r record
	if err := store.Get(ctx, "a/b", &r); err != ErrNotFound {
		t.Errorf("Got err %v, want ErrNotFound after disconnect delete", err)
	}
	var flag bool
	if err := store.Get(ctx, "a/flag", &flag); err != nil || !flag {
		t.Errorf("Got flag=%v err=%v, want true", flag, err)
	}

	// Ops are consumed: running again is a no-op.
	if got := store.RegisteredDisconnects("conn1"); got != 0 {
		t.Errorf("Got %d registered ops after run, want 0", got)
	}
	if err := store.RunDisconnect(ctx, "conn1"); err != nil {
		t.Errorf("Second RunDisconnect failed: %v", err)
	}
}

func TestCancelDisconnect(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Set(ctx, "a/b", record{Name: "x"})
	store.RegisterDisconnect("conn1", DisconnectOp{Path: "a/b"})
	store.CancelDisconnect("conn1")

	if err := store.RunDisconnect(ctx, "conn1"); err != nil {
		t.Fatalf("RunDisconnect failed: %v", err)
	}

	var r record
	if err := store.Get(ctx, "a/b", &r); err != nil {
		t.Errorf("Record deleted after cancel: %v", err)
	}
}
