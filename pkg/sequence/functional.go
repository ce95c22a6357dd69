package sequence

// Chunk splits data into consecutive slices of at most size elements. The
// returned slices share the backing array of data. A non-positive size
// yields a single chunk.
func Chunk[T any](data []T, size int) [][]T {
	if len(data) == 0 {
		return nil
	}
	if size <= 0 || size >= len(data) {
		return [][]T{data}
	}
	out := make([][]T, 0, (len(data)+size-1)/size)
	for idx := 0; idx < len(data); idx += size {
		end := idx + size
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[idx:end:end])
	}
	return out
}

// Map applies fn to every element of data.
func Map[T any, R any](data []T, fn func(T) R) []R {
	out := make([]R, len(data))
	for i, v := range data {
		out[i] = fn(v)
	}
	return out
}
