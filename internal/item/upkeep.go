package item

import "slices"

// NextUpkeep picks the item most in need of attention from a list of open
// items: the first inbox item, otherwise the first project that has no open
// child moving it forward. ok is false when nothing needs attention.
func NextUpkeep(open []Item) (Item, bool) {
	for _, it := range open {
		if it.Kind == Inbox {
			return it, true
		}
	}

	byID := make(map[string]*Item, len(open))
	for i := range open {
		byID[open[i].ID] = &open[i]
	}

	for _, it := range open {
		if it.Kind == Project && !hasOpenProgress(it, byID) {
			return it, true
		}
	}

	return Item{}, false
}

// progressKinds are child kinds that count as a project moving forward.
var progressKinds = []Kind{NextAction, WaitingFor, Project}

func hasOpenProgress(project Item, open map[string]*Item) bool {
	for _, id := range project.Children {
		child, ok := open[id]
		if ok && slices.Contains(progressKinds, child.Kind) {
			return true
		}
	}

	return false
}
