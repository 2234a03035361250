package postprocess

// filterSmallComponents labels m's 6-connected components and zeroes
// out any component smaller than minSize, returning the cleaned mask.
func filterSmallComponents(m *binaryMask, minSize int) *binaryMask {
	labels := make([]int, len(m.data))
	nextLabel := 1
	sizes := map[int]int{}

	var stack [][3]int
	for z := 0; z < m.shape[2]; z++ {
		for y := 0; y < m.shape[1]; y++ {
			for x := 0; x < m.shape[0]; x++ {
				idx := m.index(x, y, z)
				if !m.data[idx] || labels[idx] != 0 {
					continue
				}
				label := nextLabel
				nextLabel++
				labels[idx] = label
				stack = append(stack, [3]int{x, y, z})
				size := 0
				for len(stack) > 0 {
					p := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					size++
					for _, d := range sixNeighbors {
						nx, ny, nz := p[0]+d[0], p[1]+d[1], p[2]+d[2]
						if nx < 0 || ny < 0 || nz < 0 || nx >= m.shape[0] || ny >= m.shape[1] || nz >= m.shape[2] {
							continue
						}
						ni := m.index(nx, ny, nz)
						if m.data[ni] && labels[ni] == 0 {
							labels[ni] = label
							stack = append(stack, [3]int{nx, ny, nz})
						}
					}
				}
				sizes[label] = size
			}
		}
	}

	out := newBinaryMask(m.shape)
	for i, label := range labels {
		if label != 0 && sizes[label] >= minSize {
			out.data[i] = true
		}
	}
	return out
}
