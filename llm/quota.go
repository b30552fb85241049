package llm

import (
	"sort"

	log "github.com/sirupsen/logrus"
)

// enforceQuotas applies per-category limits after chunk results are
// combined. Each category keeps its best items up to quota; the
// overflow goes into a surplus pool which then tops up underfilled
// categories in order, relabeling items as it goes.
func enforceQuotas(combined map[string][]Item, categoryCounts map[string]int) map[string][]Item {
	var categories = make([]string, 0, len(categoryCounts))
	for name := range categoryCounts {
		categories = append(categories, name)
	}
	sort.Strings(categories)

	var out = make(map[string][]Item, len(categories))
	var surplus []Item

	for _, name := range categories {
		var items = append([]Item(nil), combined[name]...)
		sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })

		var quota = categoryCounts[name]
		if len(items) <= quota {
			out[name] = items
			continue
		}
		out[name] = items[:quota]
		surplus = append(surplus, items[quota:]...)
	}

	// Items the model filed under unknown categories join the surplus.
	for name, items := range combined {
		if _, known := categoryCounts[name]; !known {
			log.WithFields(log.Fields{"category": name, "items": len(items)}).Debug("unknown category, moving to surplus")
			surplus = append(surplus, items...)
		}
	}
	if len(surplus) == 0 {
		return out
	}
	sort.SliceStable(surplus, func(i, j int) bool { return surplus[i].Score > surplus[j].Score })

	// Fill remaining slots in the first underfilled category found,
	// walking categories in order for each surplus item.
	for _, item := range surplus {
		for _, name := range categories {
			if len(out[name]) < categoryCounts[name] {
				item.Category = name
				out[name] = append(out[name], item)
				break
			}
		}
	}
	return out
}
