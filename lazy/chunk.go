/*
	This file holds chunk grid math: how an axis extent decomposes into
	fetchable blocks and how block coordinates become cache keys.
*/

package lazy

import (
	"strconv"
	"strings"
)

// GridShape calculates the number of blocks along each chunked axis.
// For each axis i, the block count is ceil(sizes[i] / blockLens[i]).
func GridShape(sizes, blockLens []int) []int {
	grid := make([]int, len(sizes))
	for i := range sizes {
		grid[i] = (sizes[i] + blockLens[i] - 1) / blockLens[i]
	}
	return grid
}

// ChunkKey generates the key for a block given its coordinates.
// Example: indices=[1, 4] -> "1.4".  A chunkless source yields "0".
func ChunkKey(indices []int) string {
	if len(indices) == 0 {
		return "0"
	}
	var sb strings.Builder
	for i, idx := range indices {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.Itoa(idx))
	}
	return sb.String()
}
