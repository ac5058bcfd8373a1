package cart

// Normalize returns items with duplicate keys collapsed into one line whose
// quantity is the sum. Lines keep the position of their first occurrence and
// lines with a non-positive total are dropped. The input is not modified.
func Normalize(items []LineItem) []LineItem {
	if len(items) == 0 {
		return []LineItem{}
	}

	index := make(map[ItemKey]int, len(items))
	result := make([]LineItem, 0, len(items))
	for _, item := range items {
		if pos, ok := index[item.Key()]; ok {
			result[pos].Quantity += item.Quantity
			continue
		}
		index[item.Key()] = len(result)
		result = append(result, item)
	}

	out := result[:0]
	for _, item := range result {
		if item.Quantity > 0 {
			out = append(out, item)
		}
	}
	return out
}

// Merge unions a guest cart into an account cart. For a key present in both,
// the resulting quantity is the sum; otherwise it is the single source's
// quantity. Account lines come first, followed by guest-only lines.
func Merge(account, guest []LineItem) []LineItem {
	combined := make([]LineItem, 0, len(account)+len(guest))
	combined = append(combined, account...)
	combined = append(combined, guest...)
	return Normalize(combined)
}

// Subtract removes the quantities in sent from current. It is used after a
// successful merge to keep guest additions made while the merge was in flight.
func Subtract(current, sent []LineItem) []LineItem {
	remaining := make(map[ItemKey]int, len(sent))
	for _, item := range sent {
		remaining[item.Key()] += item.Quantity
	}

	result := make([]LineItem, 0, len(current))
	for _, item := range Normalize(current) {
		qty := item.Quantity - remaining[item.Key()]
		if qty > 0 {
			item.Quantity = qty
			result = append(result, item)
		}
	}
	return result
}

// Quantities returns the summed quantity per key
func Quantities(items []LineItem) map[ItemKey]int {
	out := make(map[ItemKey]int, len(items))
	for _, item := range items {
		out[item.Key()] += item.Quantity
	}
	return out
}

// Equal reports whether two carts hold the same quantity for every key,
// regardless of line order or duplicate lines
func Equal(a, b []LineItem) bool {
	qa, qb := Quantities(Normalize(a)), Quantities(Normalize(b))
	if len(qa) != len(qb) {
		return false
	}
	for k, v := range qa {
		if qb[k] != v {
			return false
		}
	}
	return true
}

// TotalQuantity returns the number of units across all lines
func TotalQuantity(items []LineItem) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

// Clone returns a copy that does not share the backing array
func Clone(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
