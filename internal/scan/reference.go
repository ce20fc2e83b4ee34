package scan

// Reference computes the inclusive scan of in on the host, wrapping modulo 2^32.
func Reference(in []uint32) []uint32 {
	out := make([]uint32, len(in))
	var acc uint32
	for i, v := range in {
		acc += v
		out[i] = acc
	}
	return out
}
