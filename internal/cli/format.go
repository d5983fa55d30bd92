package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/calvinalkan/gtd/internal/item"
)

const timeLayout = time.RFC3339

// itemLine renders one item for listings.
func itemLine(it item.Item, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s  %-11s %s", it.ID, it.Kind, it.Title)

	if !it.IsOpen() {
		b.WriteString("  [done]")
	}

	if it.IsSnoozed(now) {
		fmt.Fprintf(&b, "  [snoozed until %s]", it.SnoozedUntil.Format(time.DateOnly))
	}

	if len(it.Blockers) > 0 {
		fmt.Fprintf(&b, "  [blocked by %d]", len(it.Blockers))
	}

	return b.String()
}

// printItem renders every field as key=value lines.
func printItem(o *IO, it item.Item) {
	o.Println("id=" + it.ID)
	o.Println("title=" + it.Title)
	o.Println("kind=" + string(it.Kind))
	o.Println("created=" + it.CreatedAt.Format(timeLayout))
	printTime(o, "completed", it.CompletedAt)
	printTime(o, "snoozed_until", it.SnoozedUntil)
	printTime(o, "acked", it.AckedAt)

	if it.Parent != "" {
		o.Println("parent=" + it.Parent)
	}

	printList(o, "children", it.Children)
	printList(o, "blockers", it.Blockers)
	printList(o, "blocking", it.Blocking)
}

func printTime(o *IO, key string, t *time.Time) {
	if t != nil {
		o.Println(key + "=" + t.Format(timeLayout))
	}
}

func printList(o *IO, key string, ids []string) {
	if len(ids) > 0 {
		o.Println(key + "=" + strings.Join(ids, ","))
	}
}
