package compute

// Granularity selects the partitioning policy. When Size > 0 rows are cut
// into fixed blocks of Size rows; otherwise they are split into Count
// near-equal chunks.
type Granularity struct {
	Count int
	Size  int
}

// Chunk is the half-open row range [Start, End). ID is the chunk's position
// in the plan.
type Chunk struct {
	ID    int
	Start int
	End   int
}

// Len returns the number of rows in the chunk.
func (c Chunk) Len() int {
	return c.End - c.Start
}

// Partition splits [0, rows) into ordered, disjoint, non-empty chunks that
// together cover every row. The count or size is clamped to rows, so fewer
// chunks than requested may come back.
func Partition(rows int, g Granularity) []Chunk {
	if rows <= 0 {
		return nil
	}
	if g.Size > 0 {
		return fixedBlocks(rows, g.Size)
	}
	return equalSplit(rows, g.Count)
}

func fixedBlocks(rows, size int) []Chunk {
	if size > rows {
		size = rows
	}
	chunks := make([]Chunk, 0, (rows+size-1)/size)
	for start := 0; start < rows; start += size {
		end := start + size
		if end > rows {
			end = rows
		}
		chunks = append(chunks, Chunk{ID: len(chunks), Start: start, End: end})
	}
	return chunks
}

// equalSplit gives the first rows%count chunks one extra row.
func equalSplit(rows, count int) []Chunk {
	if count < 1 {
		count = 1
	}
	if count > rows {
		count = rows
	}
	base := rows / count
	rem := rows % count

	chunks := make([]Chunk, count)
	start := 0
	for i := 0; i < count; i++ {
		n := base
		if i < rem {
			n++
		}
		chunks[i] = Chunk{ID: i, Start: start, End: start + n}
		start += n
	}
	return chunks
}

// Assign distributes chunks over at most workers contiguous, ordered groups
// whose sizes differ by at most one. It reuses the equal-split arithmetic on
// chunk indices.
func Assign(chunks []Chunk, workers int) [][]Chunk {
	spans := Partition(len(chunks), Granularity{Count: workers})
	groups := make([][]Chunk, len(spans))
	for i, s := range spans {
		groups[i] = chunks[s.Start:s.End]
	}
	return groups
}
