// Package sharder assigns time series to shards and pre-renders the
// per-shard exposition bodies.
//
// Shard assignment is two-stage: xxh3-64 over the series key, then jump
// consistent hash (Lamping & Veach, 2014) over the shard count. Changing
// the shard count from N to N' moves only ~|N-N'|/max(N,N') of the keys.
package sharder

import (
	"sort"

	"github.com/zeebo/xxh3"
)

// Assign maps a series key to a shard in [0, numShards). numShards must
// be at least 1; config validation guarantees this.
func Assign(key []byte, numShards uint32) uint32 {
	return jumpHash(xxh3.Hash(key), numShards)
}

// jumpHash is the published jump consistent hash, matched bit-for-bit:
// linear congruential step, then j = (b+1) * (2^31 / ((key>>33)+1)).
func jumpHash(key uint64, numBuckets uint32) uint32 {
	var b, j int64 = -1, 0
	for j < int64(numBuckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / (float64(key>>33) + 1)))
	}
	return uint32(b)
}

// SeriesKey builds the hash key for one series: the family name, a NUL
// separator, then name=value pairs in ascending label-name order joined
// by commas. The NUL keeps a metric-name suffix from colliding with a
// leading label; the sort makes the key independent of source label
// order.
func SeriesKey(familyName string, labels map[string]string, sortedNames []string) []byte {
	n := len(familyName) + 1
	for _, name := range sortedNames {
		n += len(name) + 1 + len(labels[name]) + 1
	}
	key := make([]byte, 0, n)
	key = append(key, familyName...)
	key = append(key, 0)
	for i, name := range sortedNames {
		if i > 0 {
			key = append(key, ',')
		}
		key = append(key, name...)
		key = append(key, '=')
		key = append(key, labels[name]...)
	}
	return key
}

// sortedLabelNames returns the label names in ascending order.
func sortedLabelNames(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
