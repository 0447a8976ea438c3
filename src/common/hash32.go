package common

import "hash/fnv"

// Hash32 derives a compact 32-bit identifier from arbitrary bytes. It is used
// to turn public keys into peer IDs.
func Hash32(data []byte) uint32 {
	h := fnv.New32a()
	h.Write(data)
	return h.Sum32()
}
