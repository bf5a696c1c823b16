package graphios

// Chunks calls fn with consecutive sub-slices of items, each at most maxSize long, in order.
// Only the last chunk may be shorter than maxSize. Iteration stops at the first error returned by
// fn, which is returned. A maxSize of zero or less yields all items as a single chunk. fn is not
// called for an empty input.
func Chunks[T any](items []T, maxSize int, fn func(chunk []T) error) error {
	if maxSize <= 0 {
		maxSize = len(items)
	}
	for start := 0; start < len(items); start += maxSize {
		end := start + maxSize
		if end > len(items) {
			end = len(items)
		}
		if err := fn(items[start:end:end]); err != nil {
			return err
		}
	}
	return nil
}
