package common

import "hash/fnv"

// PartitionForUser maps a user onto one of n scheduler partitions.  The
// mapping must be stable across processes and restarts: every instance
// hashing the same user with the same n lands on the same partition, which
// is what lets the per-partition lease serialise sweeps.
func PartitionForUser(userID UserID, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(n))
}
