package store_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/gtd/internal/broadcast"
	"github.com/calvinalkan/gtd/internal/item"
	"github.com/calvinalkan/gtd/internal/kv"
	"github.com/calvinalkan/gtd/internal/store"
)

var t0 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

const waitTimeout = 2 * time.Second

type harness struct {
	t       *testing.T
	ctx     context.Context
	backing *kv.Injected
	store   *store.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	backing := kv.NewInjected(kv.NewMemory())
	s := store.New(backing, store.WithClock(item.ClockFunc(func() time.Time { return t0 })))
	t.Cleanup(s.Close)

	return &harness{t: t, ctx: t.Context(), backing: backing, store: s}
}

func (h *harness) savable(title string) item.Item {
	h.t.Helper()

	it, err := item.New(item.UUIDv7{}, item.ClockFunc(func() time.Time { return t0 }), title, item.Inbox)
	require.NoError(h.t, err)

	return it
}

func (h *harness) save(it item.Item) {
	h.t.Helper()
	require.NoError(h.t, h.store.Save(h.ctx, it))
}

func (h *harness) load(id string) item.Item {
	h.t.Helper()

	it, ok, err := h.store.Load(h.ctx, id)
	require.NoError(h.t, err)
	require.True(h.t, ok, "item %s not found", id)

	return it
}

func (h *harness) absent(id string) {
	h.t.Helper()

	_, ok, err := h.store.Load(h.ctx, id)
	require.NoError(h.t, err)
	require.False(h.t, ok, "item %s still present", id)
}

func recv[T any](t *testing.T, sub *broadcast.Subscription[T]) T {
	t.Helper()

	select {
	case v, ok := <-sub.C():
		require.True(t, ok, "subscription closed")

		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for value")
	}

	panic("unreachable")
}

func expectSilence[T any](t *testing.T, sub *broadcast.Subscription[T]) {
	t.Helper()

	select {
	case v, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected value %+v", v)
		}
	case <-time.After(30 * time.Millisecond):
	}
}

func ids(items []item.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}

	return out
}

func Test_Save_Then_Load_Returns_Item(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	it := h.savable("Savable")
	h.save(it)

	if diff := cmp.Diff(it, h.load(it.ID)); diff != "" {
		t.Fatalf("loaded item mismatch (-want +got):\n%s", diff)
	}
}

func Test_Save_With_Empty_Title_Deletes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	it := h.savable("Savable")
	h.save(it)

	it.Title = ""
	h.save(it)

	h.absent(it.ID)

	keys, err := h.backing.ListKeys(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, keys, "deleting the only item must leave nothing behind")
}

func Test_Load_Of_Unknown_Id_Is_Absent_Not_Error(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.absent("nope")
	h.absent("")
}

func Test_Save_Without_Id_Fails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	err := h.store.Save(h.ctx, item.Item{Title: "x", Kind: item.Inbox})
	require.ErrorIs(t, err, store.ErrNoID)
	assert.Equal(t, 0, h.store.Saving())
}

func Test_Load_Ignores_Relationships_Embedded_In_Body(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	it := h.savable("x")
	h.save(it)

	// A stale body claiming relationships the graphs do not have.
	require.NoError(t, h.backing.Set(h.ctx, store.ItemsNamespace+"/"+it.ID,
		fmt.Sprintf(`{"id":%q,"title":"x","kind":"inbox","createdAt":"2024-03-01T09:30:00Z","parent":"ghost","children":["ghost"]}`, it.ID)))

	got := h.load(it.ID)
	assert.Empty(t, got.Parent)
	assert.Empty(t, got.Children)
}

func Test_Parent_Child(t *testing.T) {
	t.Parallel()

	t.Run("updates parent when child gains parent id", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		parent := h.savable("parent")
		h.save(parent)

		child := h.savable("child")
		child.Parent = parent.ID
		h.save(child)

		assert.Equal(t, []string{child.ID}, h.load(parent.ID).Children)
		assert.Equal(t, parent.ID, h.load(child.ID).Parent)
	})

	t.Run("updates child when parent gains child id", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		child := h.savable("child")
		h.save(child)

		parent := h.savable("parent")
		parent.Children = append(parent.Children, child.ID)
		h.save(parent)

		assert.Equal(t, parent.ID, h.load(child.ID).Parent)
	})

	t.Run("updates parent when child loses parent id", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		parent := h.savable("parent")
		h.save(parent)

		child := h.savable("child")
		child.Parent = parent.ID
		h.save(child)

		child.Parent = ""
		h.save(child)

		assert.Empty(t, h.load(parent.ID).Children)
	})

	t.Run("updates parent when child is deleted", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		parent := h.savable("parent")
		h.save(parent)

		child := h.savable("child")
		child.Parent = parent.ID
		h.save(child)

		child.Title = ""
		h.save(child)

		assert.Empty(t, h.load(parent.ID).Children)
	})

	t.Run("updates children when parent is deleted", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		parent := h.savable("parent")
		h.save(parent)

		child := h.savable("child")
		child.Parent = parent.ID
		h.save(child)

		loaded := h.load(parent.ID)
		loaded.Title = ""
		h.save(loaded)

		assert.Empty(t, h.load(child.ID).Parent)
	})

	t.Run("updates old parent when parent changes", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		oldParent := h.savable("old")
		h.save(oldParent)

		child := h.savable("child")
		child.Parent = oldParent.ID
		h.save(child)

		newParent := h.savable("new")
		h.save(newParent)

		child.Parent = newParent.ID
		h.save(child)

		assert.Empty(t, h.load(oldParent.ID).Children)
		assert.Equal(t, []string{child.ID}, h.load(newParent.ID).Children)
	})

	t.Run("updates child when removed from parent", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		parent := h.savable("parent")
		h.save(parent)

		child := h.savable("child")
		child.Parent = parent.ID
		h.save(child)

		changed, err := h.store.Update(h.ctx, parent.ID, func(it *item.Item) { it.Children = nil })
		require.NoError(t, err)
		assert.True(t, changed)

		assert.Empty(t, h.load(child.ID).Parent)
	})

	t.Run("child appears exactly once after repeated saves", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		parent := h.savable("parent")
		h.save(parent)

		child := h.savable("child")
		child.Parent = parent.ID
		h.save(child)
		h.save(child)
		h.save(h.load(parent.ID))

		assert.Equal(t, []string{child.ID}, h.load(parent.ID).Children)
	})
}

func Test_Blockers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	blocker := h.savable("blocker")
	blocked := h.savable("blocked")
	h.save(blocker)
	h.save(blocked)

	changed, err := h.store.AddBlocker(h.ctx, blocked.ID, blocker.ID)
	require.NoError(t, err)
	require.True(t, changed)

	assert.Equal(t, []string{blocker.ID}, h.load(blocked.ID).Blockers)
	assert.Equal(t, []string{blocked.ID}, h.load(blocker.ID).Blocking)

	changed, err = h.store.AddBlocker(h.ctx, blocked.ID, blocker.ID)
	require.NoError(t, err)
	assert.False(t, changed, "adding an existing blocker is a no-op")

	// Deleting the blocker unblocks.
	require.NoError(t, h.store.Delete(h.ctx, blocker.ID))
	assert.Empty(t, h.load(blocked.ID).Blockers)

	_, err = h.store.AddBlocker(h.ctx, blocked.ID, blocker.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = h.store.AddBlocker(h.ctx, blocked.ID, blocked.ID)
	require.ErrorIs(t, err, store.ErrSelfReference)
}

func Test_RemoveBlocker(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a, b := h.savable("a"), h.savable("b")
	h.save(a)

	b.Blockers = []string{a.ID}
	h.save(b)

	changed, err := h.store.RemoveBlocker(h.ctx, b.ID, a.ID)
	require.NoError(t, err)
	require.True(t, changed)

	assert.Empty(t, h.load(a.ID).Blocking)
}

func Test_SetParent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	p, c := h.savable("p"), h.savable("c")
	h.save(p)
	h.save(c)

	_, err := h.store.SetParent(h.ctx, c.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, h.load(p.ID).Children)

	_, err = h.store.SetParent(h.ctx, c.ID, "")
	require.NoError(t, err)
	assert.Empty(t, h.load(p.ID).Children)

	_, err = h.store.SetParent(h.ctx, c.ID, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = h.store.SetParent(h.ctx, c.ID, c.ID)
	require.ErrorIs(t, err, store.ErrSelfReference)
}

func Test_Update(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	it := h.savable("x")
	h.save(it)

	sub := h.store.Watch(h.ctx, it.ID)
	defer sub.Close()

	recv(t, sub)

	changed, err := h.store.Update(h.ctx, it.ID, func(*item.Item) {})
	require.NoError(t, err)
	assert.False(t, changed)
	expectSilence(t, sub)

	changed, err = h.store.Update(h.ctx, it.ID, func(it *item.Item) { it.Title = "y" })
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "y", recv(t, sub).Item.Title)

	called := false
	changed, err = h.store.Update(h.ctx, "missing", func(*item.Item) { called = true })
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, called, "mutate must not run for an absent item")
}

func Test_Complete_And_Reopen_Maintain_Open_Items(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a, b := h.savable("a"), h.savable("b")
	h.save(a)
	h.save(b)

	open, err := h.store.Open(h.ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids(open))

	changed, err := h.store.Complete(h.ctx, a.ID)
	require.NoError(t, err)
	require.True(t, changed)
	require.NotNil(t, h.load(a.ID).CompletedAt)
	assert.True(t, h.load(a.ID).CompletedAt.Equal(t0))

	changed, err = h.store.Complete(h.ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, changed, "completing twice is a no-op")

	open, err = h.store.Open(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, ids(open))

	_, err = h.store.Reopen(h.ctx, a.ID)
	require.NoError(t, err)

	open, err = h.store.Open(h.ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids(open))

	all, err := h.store.All(h.ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func Test_Snooze_And_Ack(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	it := h.savable("x")
	h.save(it)

	until := t0.Add(48 * time.Hour)
	_, err := h.store.Snooze(h.ctx, it.ID, until)
	require.NoError(t, err)
	assert.True(t, h.load(it.ID).IsSnoozed(t0))

	_, err = h.store.Snooze(h.ctx, it.ID, time.Time{})
	require.NoError(t, err)
	assert.Nil(t, h.load(it.ID).SnoozedUntil)

	_, err = h.store.Ack(h.ctx, it.ID)
	require.NoError(t, err)
	require.NotNil(t, h.load(it.ID).AckedAt)
}

func Test_Delete_Removes_From_Open_Items_And_Graphs(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	parent := h.savable("parent")
	h.save(parent)

	mid := h.savable("mid")
	mid.Parent = parent.ID
	h.save(mid)

	leaf := h.savable("leaf")
	leaf.Parent = mid.ID
	h.save(leaf)

	require.NoError(t, h.store.Delete(h.ctx, mid.ID))

	h.absent(mid.ID)
	assert.Empty(t, h.load(parent.ID).Children)
	assert.Empty(t, h.load(leaf.ID).Parent)

	open, err := h.store.Open(h.ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{parent.ID, leaf.ID}, ids(open))

	keys, err := h.backing.ListKeys(h.ctx)
	require.NoError(t, err)

	for _, k := range keys {
		assert.NotContains(t, k, mid.ID)
	}
}

func Test_Load_Upgrades_Old_Format_Once(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	key := store.ItemsNamespace + "/old"
	require.NoError(t, h.backing.Set(h.ctx, key, `{"id":"old","title":"Legacy"}`))

	got := h.load("old")
	assert.Equal(t, item.Inbox, got.Kind)
	assert.True(t, got.CreatedAt.Equal(t0))

	raw, ok, err := h.backing.Get(h.ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"createdAt"`)

	// Re-saved through Save, so it is now indexed as open.
	open, err := h.store.Open(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids(open))

	h.backing.FailOn(kv.OpSet, nil, nil)
	defer h.backing.Reset()

	assert.Equal(t, "Legacy", h.load("old").Title, "second load must not write")
}

func Test_Backing_Failure_Propagates_And_Resets_Saving(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	parent := h.savable("parent")
	h.save(parent)

	h.backing.FailOnce(kv.OpSet, func(k string) bool {
		return strings.HasPrefix(k, store.ParentChildNamespace+"/")
	}, nil)

	child := h.savable("child")
	child.Parent = parent.ID

	err := h.store.Save(h.ctx, child)
	require.Error(t, err)
	assert.True(t, kv.IsInjected(err), "got %v", err)
	assert.Equal(t, 0, h.store.Saving())

	// Retrying reconciles.
	h.save(child)
	assert.Equal(t, []string{child.ID}, h.load(parent.ID).Children)

	h.backing.FailOnce(kv.OpRemove, nil, errors.New("disk gone"))
	err = h.store.Delete(h.ctx, child.ID)
	require.Error(t, err)
	assert.Equal(t, 0, h.store.Saving())
}

func Test_Concurrent_Children_Attach_To_Same_Parent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	parent := h.savable("parent")
	h.save(parent)

	const n = 25

	children := make([]item.Item, n)
	for i := range children {
		children[i] = h.savable(fmt.Sprintf("child %d", i))
		children[i].Parent = parent.ID
	}

	var wg sync.WaitGroup

	errs := make(chan error, n)

	for _, c := range children {
		wg.Go(func() {
			errs <- h.store.Save(h.ctx, c)
		})
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.ElementsMatch(t, ids(children), h.load(parent.ID).Children)
	assert.Equal(t, 0, h.store.Saving())
}

func Test_Concurrent_Updates_Of_One_Item_Keep_Every_Change(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	target := h.savable("target")
	h.save(target)

	const n = 10

	blockers := make([]string, n)
	for i := range blockers {
		b := h.savable(fmt.Sprintf("blocker %d", i))
		h.save(b)
		blockers[i] = b.ID
	}

	var wg sync.WaitGroup

	errs := make(chan error, 2*n)

	for _, b := range blockers {
		wg.Go(func() {
			_, err := h.store.AddBlocker(h.ctx, target.ID, b)
			errs <- err
		})
		wg.Go(func() {
			_, err := h.store.Ack(h.ctx, target.ID)
			errs <- err
		})
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	got := h.load(target.ID)
	assert.ElementsMatch(t, blockers, got.Blockers)
	assert.NotNil(t, got.AckedAt)

	for _, b := range blockers {
		assert.Equal(t, []string{target.ID}, h.load(b).Blocking)
	}

	assert.Equal(t, 0, h.store.Saving())
}

func Test_Save_Succeeds_When_Only_Open_Items_Snapshot_Fails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	sub := h.store.OpenItems(h.ctx)
	defer sub.Close()

	assert.Empty(t, recv(t, sub))

	h.backing.FailOn(kv.OpMultiGet, func(k string) bool {
		return strings.HasPrefix(k, store.OpenItemsNamespace+"/")
	}, nil)

	it := h.savable("written")
	require.NoError(t, h.store.Save(h.ctx, it))
	assert.Equal(t, "written", h.load(it.ID).Title)
	assert.Equal(t, 0, h.store.Saving())
	expectSilence(t, sub)

	// An empty index needs no slot reads, so the delete republishes.
	require.NoError(t, h.store.Delete(h.ctx, it.ID))
	h.absent(it.ID)
	assert.Empty(t, recv(t, sub))

	h.backing.Reset()

	again := h.savable("after recovery")
	h.save(again)
	assert.Equal(t, []string{again.ID}, ids(recv(t, sub)))
}
