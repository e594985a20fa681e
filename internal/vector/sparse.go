package vector

import "strconv"

// FNV-1a constants, fixed by the sparse encoding format. Changing them
// would orphan every sparse vector already stored.
const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// TokenID hashes a textual token to its stable 32-bit sparse index.
func TokenID(token string) uint32 {
	h := uint32(fnvOffset32)
	for i := 0; i < len(token); i++ {
		h ^= uint32(token[i])
		h *= fnvPrime32
	}
	return h
}

// EncodeSparse converts a token-weight map to parallel index and value
// slices. Keys that are already decimal token IDs pass through; textual
// tokens are hashed. Colliding tokens keep the larger weight.
func EncodeSparse(weights map[string]float32) ([]uint32, []float32) {
	if len(weights) == 0 {
		return nil, nil
	}

	byIndex := make(map[uint32]float32, len(weights))
	for token, weight := range weights {
		var idx uint32
		if n, err := strconv.ParseUint(token, 10, 32); err == nil {
			idx = uint32(n)
		} else {
			idx = TokenID(token)
		}
		if existing, ok := byIndex[idx]; !ok || weight > existing {
			byIndex[idx] = weight
		}
	}

	indices := make([]uint32, 0, len(byIndex))
	values := make([]float32, 0, len(byIndex))
	for idx, weight := range byIndex {
		indices = append(indices, idx)
		values = append(values, weight)
	}
	return indices, values
}
