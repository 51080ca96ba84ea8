package collection

import "sort"

// moveItem returns a copy of items with the element at from reinserted at to.
// Elements strictly between the two positions shift by one.
func moveItem(items []Item, from, to int) []Item {
	out := make([]Item, 0, len(items))
	moved := items[from]
	for i, it := range items {
		if i == from {
			continue
		}
		out = append(out, it)
	}
	out = append(out, Item{})
	copy(out[to+1:], out[to:])
	out[to] = moved
	return out
}

// renumber assigns SortOrder = index.
func renumber(items []Item) {
	for i := range items {
		items[i].SortOrder = i
	}
}

// normalize orders items by their SortOrder hint and makes the sequence
// contiguous. Ties keep their incoming order.
func normalize(items []Item) []Item {
	out := cloneItems(items)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SortOrder < out[j].SortOrder
	})
	renumber(out)
	return out
}

func itemIDs(items []Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

// restore rebuilds current in the order captured by snapshot. Committed
// values are taken from current; items added since the snapshot go last and
// items deleted since are dropped. With no interleaved mutation the result
// equals snapshot.
func restore(snapshot, current []Item) []Item {
	byID := make(map[string]Item, len(current))
	for _, it := range current {
		byID[it.ID] = it
	}
	out := make([]Item, 0, len(current))
	seen := make(map[string]bool, len(snapshot))
	for _, it := range snapshot {
		cur, ok := byID[it.ID]
		if !ok {
			continue
		}
		seen[it.ID] = true
		out = append(out, cur)
	}
	for _, it := range current {
		if !seen[it.ID] {
			out = append(out, it)
		}
	}
	renumber(out)
	return out
}

func indexOf(items []Item, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}
