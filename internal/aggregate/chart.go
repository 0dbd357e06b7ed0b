package aggregate

// GapFill expands a slice-indexed series into total values in chronological
// order: index 0 is the oldest slice (age total-1) and the last index is
// age 0. Gaps carry the previous known value forward; gaps older than the
// oldest known slice hold that slice's value backward. A slice value of zero
// means no data and becomes nil, which is then carried like any other value.
//
// Series with fewer than two slices carry no trend information and yield nil.
func GapFill(s Series, total int) []*int64 {
	if len(s.Slices) < 2 || total <= 0 {
		return nil
	}

	known := make(map[int]int64, len(s.Slices))
	oldest := -1
	for _, sl := range s.Slices {
		if sl.Age >= total {
			continue
		}
		known[sl.Age] = sl.Value
		if sl.Age > oldest {
			oldest = sl.Age
		}
	}
	if oldest < 0 {
		return nil
	}

	out := make([]*int64, total)
	last := present(known[oldest])
	for i := range out {
		if v, ok := known[total-1-i]; ok {
			last = present(v)
		}
		if last != nil {
			v := *last
			out[i] = &v
		}
	}
	return out
}

func present(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
