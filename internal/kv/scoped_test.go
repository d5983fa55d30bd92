package kv_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/gtd/internal/kv"
)

func Test_Scoped_Prefixes_Keys_In_Backing_Store(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	backing := kv.NewMemory()
	items := kv.NewScoped(backing, "@items")

	mustSet(ctx, t, items, "abc", "body")

	value, ok, err := backing.Get(ctx, "@items/abc")
	if err != nil || !ok || value != "body" {
		t.Fatalf("backing get = (%q, %v, %v), want prefixed key", value, ok, err)
	}

	if got := items.Namespace(); got != "@items" {
		t.Fatalf("namespace = %q, want @items", got)
	}
}

func Test_Scoped_ListKeys_Strips_Prefix_And_Omits_Other_Namespaces(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	backing := kv.NewMemory()
	items := kv.NewScoped(backing, "@items")
	edges := kv.NewScoped(backing, "@parent-child")

	mustSet(ctx, t, items, "a", "1")
	mustSet(ctx, t, items, "b", "2")
	mustSet(ctx, t, edges, "a/incoming", `["b"]`)
	mustSet(ctx, t, backing, "@items-archive/zzz", "other")

	keys, err := items.ListKeys(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}

	if diff := cmp.Diff([]string{"a", "b"}, keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}

	keys, err = edges.ListKeys(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}

	if diff := cmp.Diff([]string{"a/incoming"}, keys); diff != "" {
		t.Fatalf("edge keys mismatch (-want +got):\n%s", diff)
	}
}

func Test_Scoped_MultiGet_Returns_Unprefixed_Keys(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	items := kv.NewScoped(kv.NewMemory(), "@items")

	mustSet(ctx, t, items, "a", "1")

	pairs, err := items.MultiGet(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("multi get: %v", err)
	}

	want := []kv.Pair{{Key: "a", Value: "1", Found: true}, {Key: "b"}}
	if diff := cmp.Diff(want, pairs); diff != "" {
		t.Fatalf("pairs mismatch (-want +got):\n%s", diff)
	}
}

func Test_Scoped_Remove_Only_Touches_Own_Namespace(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	backing := kv.NewMemory()

	mustSet(ctx, t, backing, "x", "root")
	mustSet(ctx, t, kv.NewScoped(backing, "ns"), "x", "scoped")

	if err := kv.NewScoped(backing, "ns").Remove(ctx, "x"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	keys, err := backing.ListKeys(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}

	if diff := cmp.Diff([]string{"x"}, keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
}
