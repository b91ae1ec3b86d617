package probe

// searchMax returns the largest size in [lo, hi] for which try succeeds,
// or lo-1 when none does. hi is tried directly first and the binary
// search only runs when that fails. try must be monotone: once a size
// fails every larger size fails too.
func searchMax(lo, hi int, try func(size int) bool) int {
	if try(hi) {
		return hi
	}

	bottom, top := lo, hi-1
	for bottom <= top {
		mid := bottom + (top-bottom)/2
		if try(mid) {
			bottom = mid + 1
		} else {
			top = mid - 1
		}
	}
	return bottom - 1
}
