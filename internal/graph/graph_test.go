package graph_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/calvinalkan/gtd/internal/graph"
	"github.com/calvinalkan/gtd/internal/kv"
)

func newGraph(t *testing.T) (*graph.Store, *kv.Memory) {
	t.Helper()

	storage := kv.NewMemory()

	return graph.New(storage), storage
}

func incoming(ctx context.Context, t *testing.T, g *graph.Store, id string) []string {
	t.Helper()

	list, err := g.Incoming(ctx, id)
	if err != nil {
		t.Fatalf("incoming %q: %v", id, err)
	}

	return list
}

func outgoing(ctx context.Context, t *testing.T, g *graph.Store, id string) []string {
	t.Helper()

	list, err := g.Outgoing(ctx, id)
	if err != nil {
		t.Fatalf("outgoing %q: %v", id, err)
	}

	return list
}

func setIncoming(ctx context.Context, t *testing.T, g *graph.Store, id string, refs ...string) {
	t.Helper()

	if err := g.SetIncoming(ctx, id, refs); err != nil {
		t.Fatalf("set incoming %q: %v", id, err)
	}
}

func setOutgoing(ctx context.Context, t *testing.T, g *graph.Store, id string, refs ...string) {
	t.Helper()

	if err := g.SetOutgoing(ctx, id, refs); err != nil {
		t.Fatalf("set outgoing %q: %v", id, err)
	}
}

func assertList(t *testing.T, what string, want, got []string) {
	t.Helper()

	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("%s mismatch (-want +got):\n%s", what, diff)
	}
}

func Test_Graph_Is_Empty_To_Begin(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	g, _ := newGraph(t)

	assertList(t, "incoming", nil, incoming(ctx, t, g, "foo"))
	assertList(t, "outgoing", nil, outgoing(ctx, t, g, "foo"))
}

func Test_SetIncoming_Updates_Both_Directions(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	g, _ := newGraph(t)

	setIncoming(ctx, t, g, "foo", "bar")

	assertList(t, "foo incoming", []string{"bar"}, incoming(ctx, t, g, "foo"))
	assertList(t, "bar outgoing", []string{"foo"}, outgoing(ctx, t, g, "bar"))
}

func Test_SetIncoming_From_Same_Source_Appends_In_Order(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	g, _ := newGraph(t)

	setIncoming(ctx, t, g, "bar", "foo")
	setIncoming(ctx, t, g, "baz", "foo")
	setIncoming(ctx, t, g, "qux", "foo")

	assertList(t, "foo outgoing", []string{"bar", "baz", "qux"}, outgoing(ctx, t, g, "foo"))
}

func Test_SetIncoming_Empty_Removes_Reverse_Edge(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	g, _ := newGraph(t)

	setIncoming(ctx, t, g, "bar", "foo")
	setIncoming(ctx, t, g, "bar")

	assertList(t, "foo outgoing", nil, outgoing(ctx, t, g, "foo"))
}

func Test_SetIncoming_Twice_Adds_Once(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	g, _ := newGraph(t)

	setIncoming(ctx, t, g, "bar", "foo")
	setIncoming(ctx, t, g, "bar", "foo")
	setIncoming(ctx, t, g, "baz", "foo", "foo")

	assertList(t, "bar incoming", []string{"foo"}, incoming(ctx, t, g, "bar"))
	assertList(t, "baz incoming", []string{"foo"}, incoming(ctx, t, g, "baz"))
	assertList(t, "foo outgoing", []string{"bar", "baz"}, outgoing(ctx, t, g, "foo"))
}

func Test_SetOutgoing_Defines_Order_And_Touches_Only_Changed_Peers(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	g, storage := newGraph(t)

	setOutgoing(ctx, t, g, "p", "a", "b", "c")
	setIncoming(ctx, t, g, "b", "p", "q")

	// Reorder plus swap c for d: only c and d may have their incoming list rewritten.
	before, _, _ := storage.Get(ctx, "b/incoming")

	setOutgoing(ctx, t, g, "p", "b", "a", "d")

	assertList(t, "p outgoing", []string{"b", "a", "d"}, outgoing(ctx, t, g, "p"))
	assertList(t, "c incoming", nil, incoming(ctx, t, g, "c"))
	assertList(t, "d incoming", []string{"p"}, incoming(ctx, t, g, "d"))

	after, _, _ := storage.Get(ctx, "b/incoming")
	if before != after {
		t.Fatalf("b/incoming rewritten: %q -> %q", before, after)
	}
}

func Test_Delete_Removes_Both_Directions_And_Reverse_Links(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	g, storage := newGraph(t)

	setIncoming(ctx, t, g, "bar", "foo")
	setOutgoing(ctx, t, g, "bar", "baz")

	if err := g.Delete(ctx, "bar"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	assertList(t, "bar incoming", nil, incoming(ctx, t, g, "bar"))
	assertList(t, "bar outgoing", nil, outgoing(ctx, t, g, "bar"))
	assertList(t, "foo outgoing", nil, outgoing(ctx, t, g, "foo"))
	assertList(t, "baz incoming", nil, incoming(ctx, t, g, "baz"))

	keys, err := storage.ListKeys(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}

	if len(keys) != 0 {
		t.Fatalf("keys left after delete: %v", keys)
	}
}

func Test_Graph_Returns_ErrCorrupt_When_List_Malformed(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	g, storage := newGraph(t)

	if err := storage.Set(ctx, "x/incoming", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := g.Incoming(ctx, "x")
	if !errors.Is(err, graph.ErrCorrupt) {
		t.Fatalf("incoming err = %v, want ErrCorrupt", err)
	}

	err = g.SetIncoming(ctx, "x", []string{"y"})
	if !errors.Is(err, graph.ErrCorrupt) {
		t.Fatalf("set incoming err = %v, want ErrCorrupt", err)
	}
}

// Contract: many children attaching to one parent concurrently lose no edge.
func Test_Concurrent_Attach_To_Same_Parent_Loses_No_Edges(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	g, _ := newGraph(t)

	const children = 40

	var wg sync.WaitGroup

	for i := range children {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := g.SetIncoming(ctx, fmt.Sprintf("child-%02d", i), []string{"parent"}); err != nil {
				t.Errorf("set incoming: %v", err)
			}
		}()
	}

	wg.Wait()

	got := outgoing(ctx, t, g, "parent")
	if len(got) != children {
		t.Fatalf("parent has %d children, want %d: %v", len(got), children, got)
	}

	for _, child := range got {
		assertList(t, child+" incoming", []string{"parent"}, incoming(ctx, t, g, child))
	}
}

// Contract: after concurrent overlapping rewrites every edge is mirrored.
func Test_Concurrent_Rewrites_Keep_Directions_Mirrored(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	g, _ := newGraph(t)
	nodes := []string{"a", "b", "c", "d", "e"}

	var wg sync.WaitGroup

	for i := range 60 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			node := nodes[i%len(nodes)]
			targets := []string{nodes[(i+1)%len(nodes)], nodes[(i+2)%len(nodes)]}

			var err error
			if i%3 == 0 {
				err = g.SetIncoming(ctx, node, targets)
			} else {
				err = g.SetOutgoing(ctx, node, targets)
			}

			if err != nil {
				t.Errorf("set: %v", err)
			}
		}()
	}

	wg.Wait()

	for _, n := range nodes {
		for _, target := range outgoing(ctx, t, g, n) {
			if !slices.Contains(incoming(ctx, t, g, target), n) {
				t.Fatalf("%s -> %s missing from %s incoming", n, target, target)
			}
		}

		for _, source := range incoming(ctx, t, g, n) {
			if !slices.Contains(outgoing(ctx, t, g, source), n) {
				t.Fatalf("%s -> %s missing from %s outgoing", source, n, source)
			}
		}
	}
}

func Test_Graph_Propagates_Backing_Store_Errors(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	storage := kv.NewInjected(kv.NewMemory())
	g := graph.New(storage)

	storage.FailOn(kv.OpSet, func(key string) bool { return key == "peer/outgoing" }, nil)

	err := g.SetIncoming(ctx, "node", []string{"peer"})
	if !kv.IsInjected(err) {
		t.Fatalf("err = %v, want injected", err)
	}
}

func Test_Retry_After_Peer_Write_Failure_Repairs_Mirror(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	storage := kv.NewInjected(kv.NewMemory())
	g := graph.New(storage)

	storage.FailOnce(kv.OpSet, func(key string) bool { return key == "peer/outgoing" }, nil)

	err := g.SetIncoming(ctx, "node", []string{"peer"})
	if !kv.IsInjected(err) {
		t.Fatalf("err = %v, want injected", err)
	}

	// Contract: a failed call leaves the node's own list untouched.
	assertList(t, "node incoming after failure", nil, incoming(ctx, t, g, "node"))

	setIncoming(ctx, t, g, "node", "peer")

	assertList(t, "node incoming", []string{"peer"}, incoming(ctx, t, g, "node"))
	assertList(t, "peer outgoing", []string{"node"}, outgoing(ctx, t, g, "peer"))
}
