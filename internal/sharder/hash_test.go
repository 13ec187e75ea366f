package sharder

import (
	"fmt"
	"testing"

	"github.com/zeebo/xxh3"
)

func TestXXH3EmptyVector(t *testing.T) {
	got := xxh3.Hash(nil)
	if got != 0x2d06800538d394c2 {
		t.Errorf("xxh3(\"\") = %#x, want 0x2d06800538d394c2", got)
	}
}

func TestJumpHashVectors(t *testing.T) {
	tests := []struct {
		key  uint64
		n    uint32
		want uint32
	}{
		{0, 1, 0},
		{0, 10, 0},
		{^uint64(0), 10, 9},
	}
	for _, tt := range tests {
		if got := jumpHash(tt.key, tt.n); got != tt.want {
			t.Errorf("jumpHash(%d, %d) = %d, want %d", tt.key, tt.n, got, tt.want)
		}
	}
}

func TestAssignDeterministic(t *testing.T) {
	key := []byte("ceph_osd_op_latency\x00ceph_daemon=osd.1")
	want := Assign(key, 4)
	for i := 0; i < 100; i++ {
		if got := Assign(key, 4); got != want {
			t.Fatalf("Assign changed between calls: got %d, want %d", got, want)
		}
	}
}

func TestAssignInRange(t *testing.T) {
	for shards := uint32(1); shards <= 16; shards++ {
		for i := 0; i < 1000; i++ {
			key := []byte(fmt.Sprintf("metric_%d", i))
			if got := Assign(key, shards); got >= shards {
				t.Fatalf("Assign(%q, %d) = %d, out of range", key, shards, got)
			}
		}
	}
}

func TestMinimalMovementOnShardChange(t *testing.T) {
	const numKeys = 10000
	moved := 0
	for i := 0; i < numKeys; i++ {
		key := []byte(fmt.Sprintf("metric_%d", i))
		if Assign(key, 4) != Assign(key, 5) {
			moved++
		}
	}
	// Jump consistent hash moves ~1/5 of keys for 4 -> 5.
	ratio := float64(moved) / numKeys
	if ratio < 0.15 || ratio > 0.25 {
		t.Errorf("reassignment ratio = %.3f, want within [0.15, 0.25]", ratio)
	}
}

func TestReasonableBalance(t *testing.T) {
	const (
		numShards = 4
		numKeys   = 10000
	)
	counts := make([]int, numShards)
	for i := 0; i < numKeys; i++ {
		counts[Assign([]byte(fmt.Sprintf("metric_%d", i)), numShards)]++
	}
	expected := float64(numKeys) / numShards
	for i, count := range counts {
		ratio := float64(count) / expected
		if ratio < 0.7 || ratio > 1.3 {
			t.Errorf("shard %d has %d keys, expected ~%.0f (ratio %.2f)", i, count, expected, ratio)
		}
	}
}

func TestSeriesKeyIgnoresLabelInsertionOrder(t *testing.T) {
	a := map[string]string{"code": "200", "method": "GET"}
	b := map[string]string{"method": "GET", "code": "200"}

	keyA := SeriesKey("http_requests_total", a, sortedLabelNames(a))
	keyB := SeriesKey("http_requests_total", b, sortedLabelNames(b))
	if string(keyA) != string(keyB) {
		t.Errorf("series keys differ for identical label sets: %q vs %q", keyA, keyB)
	}

	want := "http_requests_total\x00code=200,method=GET"
	if string(keyA) != want {
		t.Errorf("series key = %q, want %q", keyA, want)
	}
}

func TestSeriesKeySeparatesNameFromLabels(t *testing.T) {
	// Without the NUL separator "metric" + "a=1" and "metrica" + "=1"
	// style collisions become possible.
	a := SeriesKey("metric", map[string]string{"a": "1"}, []string{"a"})
	b := SeriesKey("metrica", map[string]string{"": "1"}, []string{""})
	if string(a) == string(b) {
		t.Errorf("series keys collide: %q", a)
	}
}
