package query

import "strings"

// Ordering compares two rows like cmp.Compare: negative when a sorts first.
// Merge breaks ties by RowKey, so orderings need not be total.
type Ordering func(a, b *Row) int

// ByMetricDesc sorts rows by a metric, largest first. Rows without the
// metric sort last.
func ByMetricDesc(metric string) Ordering {
	return func(a, b *Row) int {
		av, aok := a.Metrics[metric]
		bv, bok := b.Metrics[metric]
		switch {
		case aok && !bok:
			return -1
		case !aok && bok:
			return 1
		case av > bv:
			return -1
		case av < bv:
			return 1
		}
		return 0
	}
}

// ByMetricAsc sorts rows by a metric, smallest first.
func ByMetricAsc(metric string) Ordering {
	desc := ByMetricDesc(metric)
	return func(a, b *Row) int {
		_, aok := a.Metrics[metric]
		_, bok := b.Metrics[metric]
		if aok != bok {
			return desc(a, b)
		}
		return -desc(a, b)
	}
}

// ByLabel sorts rows lexically by a label.
func ByLabel(label string) Ordering {
	return func(a, b *Row) int {
		return strings.Compare(a.Labels[label], b.Labels[label])
	}
}

// Then chains orderings; later ones break ties of earlier ones.
func Then(orders ...Ordering) Ordering {
	return func(a, b *Row) int {
		for _, o := range orders {
			if c := o(a, b); c != 0 {
				return c
			}
		}
		return 0
	}
}
