package spreadsheet

// SystematicSample picks size indexes out of total with a fixed stride of
// floor(total/size). Index 0 is always included. When total fits in size every
// index is returned.
func SystematicSample(total, size int) []int {
	if total <= 0 {
		return nil
	}
	if size <= 0 || total <= size {
		idx := make([]int, total)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}

	stride := total / size
	idx := make([]int, size)
	for i := range idx {
		idx[i] = i * stride
	}
	return idx
}
