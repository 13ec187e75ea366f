package state

import (
	"sync"
	"testing"
	"time"
)

func snapshotAt(ts time.Time, ok bool) *Snapshot {
	return &Snapshot{
		Shards:     []Shard{{Text: []byte("m 1\n"), Series: 1, Families: 1}},
		Sources:    []SourceResult{{URL: "http://upstream/metrics", Success: ok}},
		LastScrape: ts,
		NumShards:  1,
	}
}

func TestLoadNilBeforeFirstPublish(t *testing.T) {
	p := NewPublisher()
	if got := p.Load(); got != nil {
		t.Errorf("Load() = %v, want nil before first publish", got)
	}
}

func TestPublishAndLoad(t *testing.T) {
	p := NewPublisher()
	s := snapshotAt(time.Now(), true)
	if !p.Publish(s) {
		t.Fatal("Publish refused a valid snapshot")
	}
	if got := p.Load(); got != s {
		t.Errorf("Load() = %p, want the published snapshot %p", got, s)
	}
}

func TestPublishRefusesEmptySnapshot(t *testing.T) {
	p := NewPublisher()
	good := snapshotAt(time.Now(), true)
	p.Publish(good)

	if p.Publish(nil) {
		t.Error("Publish(nil) = true, want false")
	}
	if p.Publish(&Snapshot{}) {
		t.Error("Publish of shard-less snapshot = true, want false")
	}
	if got := p.Load(); got != good {
		t.Errorf("stale snapshot was replaced: got %p, want %p", got, good)
	}
}

func TestPublishRefusesAllFailedSnapshot(t *testing.T) {
	p := NewPublisher()
	good := snapshotAt(time.Now(), true)
	p.Publish(good)

	bad := snapshotAt(time.Now(), false)
	if p.Publish(bad) {
		t.Error("Publish of all-failed snapshot = true, want false")
	}
	if got := p.Load(); got != good {
		t.Error("all-failed snapshot displaced the last good one")
	}
}

func TestReaderSeesMonotonicTimestamps(t *testing.T) {
	p := NewPublisher()
	base := time.Now()
	p.Publish(snapshotAt(base, true))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		last := time.Time{}
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := p.Load()
			if s.LastScrape.Before(last) {
				t.Errorf("snapshot timestamp went backwards: %v after %v", s.LastScrape, last)
				return
			}
			last = s.LastScrape
		}
	}()

	for i := 1; i <= 1000; i++ {
		p.Publish(snapshotAt(base.Add(time.Duration(i)*time.Millisecond), true))
	}
	close(stop)
	wg.Wait()
}

func TestOldSnapshotStaysValidForHolders(t *testing.T) {
	p := NewPublisher()
	first := snapshotAt(time.Now(), true)
	p.Publish(first)

	held := p.Load()
	p.Publish(snapshotAt(time.Now().Add(time.Second), true))

	if string(held.Shards[0].Text) != "m 1\n" {
		t.Errorf("held snapshot mutated after replacement: %q", held.Shards[0].Text)
	}
}
