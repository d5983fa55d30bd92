package migrate

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/calvinalkan/gtd/internal/item"
	"github.com/calvinalkan/gtd/internal/kv"
	"github.com/calvinalkan/gtd/internal/store"
)

// step upgrades the layout from version `from` to from+1.
type step struct {
	from int
	name string
	run  func(ctx context.Context, r *Runner) error
}

// steps is indexed by the version it upgrades from.
var steps = []step{
	{from: 0, name: "relationships into graph storage", run: resaveFromBodies},
	{from: 1, name: "open items index", run: resaveAll},
}

// resaveFromBodies re-saves every item with the relationships recorded in its
// body, merged with whatever the graphs already hold. Merging means a later
// item with a stale body cannot undo an edge an earlier one established, and
// a rerun adds nothing new.
func resaveFromBodies(ctx context.Context, r *Runner) error {
	s := r.newStore()
	defer s.Close()

	bodies, err := r.itemBodies(ctx)
	if err != nil {
		return err
	}

	for _, p := range bodies {
		fromBody, _, err := item.Parse([]byte(p.Value), r.clock.Now())
		if err != nil {
			return fmt.Errorf("%s: %w", p.Key, err)
		}

		id := strings.TrimPrefix(p.Key, store.ItemsNamespace+"/")
		fromBody.ID = id

		current, ok, err := s.Load(ctx, id)
		if err != nil {
			return err
		}

		if ok {
			fromBody = merge(fromBody, current)
		}

		err = s.Save(ctx, fromBody)
		if err != nil {
			return err
		}
	}

	return nil
}

// resaveAll loads and re-saves every item through the store, which populates
// everything a save maintains.
func resaveAll(ctx context.Context, r *Runner) error {
	s := r.newStore()
	defer s.Close()

	items, err := s.All(ctx)
	if err != nil {
		return err
	}

	for _, it := range items {
		err = s.Save(ctx, it)
		if err != nil {
			return err
		}
	}

	r.log.WithField("items", len(items)).Debug("re-saved items")

	return nil
}

func (r *Runner) newStore() *store.Store {
	return store.New(r.backing, store.WithLogger(r.log), store.WithClock(r.clock))
}

func (r *Runner) itemBodies(ctx context.Context) ([]kv.Pair, error) {
	items := kv.NewScoped(r.backing, store.ItemsNamespace)

	ids, err := items.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = store.ItemsNamespace + "/" + id
	}

	pairs, err := r.backing.MultiGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}

	return slices.DeleteFunc(pairs, func(p kv.Pair) bool { return !p.Found }), nil
}

// merge returns body with the relationships of stored added. The body's
// parent wins when both name one.
func merge(body, stored item.Item) item.Item {
	if body.Parent == "" {
		body.Parent = stored.Parent
	}

	body.Children = union(body.Children, stored.Children)
	body.Blockers = union(body.Blockers, stored.Blockers)
	body.Blocking = union(body.Blocking, stored.Blocking)

	return body
}

func union(a, b []string) []string {
	out := slices.Clone(a)

	for _, v := range b {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}

	return out
}
