package requestengine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDailyStats_LazyRequestorEntries(t *testing.T) {
	s := NewDailyStats(time.Now())

	s.RecordFailure()
	assert.Empty(t, s.Builds(), "failures must not create requestor entries")

	assert.Equal(t, 1, s.RecordSuccess("Mike", "k1"))
	assert.Equal(t, 2, s.RecordSuccess("Mike", "k1"))
	assert.Equal(t, 1, s.RecordSuccess("Mike", "k2"))
	assert.Equal(t, 1, s.RecordSuccess("Anna", "k1"))

	assert.Equal(t, map[string]map[string]int{
		"Mike": {"k1": 2, "k2": 1},
		"Anna": {"k1": 1},
	}, s.Builds())
}

func TestDailyStats_ResetReturnsClosedDay(t *testing.T) {
	day := time.Date(2026, 10, 13, 23, 59, 0, 0, time.UTC)
	s := NewDailyStats(day)
	s.RecordFailure()
	s.RecordFailure()
	s.RecordSuccess("Mike", "k")

	closed := s.Reset(day.Add(time.Minute))

	assert.Equal(t, Report{
		Day:               "2026-10-13",
		FailedBuilds:      2,
		BuildsByRequestor: map[string]map[string]int{"Mike": {"k": 1}},
	}, closed)

	next := s.Snapshot()
	assert.Equal(t, "2026-10-14", next.Day)
	assert.Equal(t, 0, next.FailedBuilds)
	assert.Empty(t, next.BuildsByRequestor)
}

func TestDailyStats_SnapshotIsIsolated(t *testing.T) {
	s := NewDailyStats(time.Now())
	s.RecordSuccess("Mike", "k")

	snap := s.Snapshot()
	snap.BuildsByRequestor["Mike"]["k"] = 10

	assert.Equal(t, 1, s.Builds()["Mike"]["k"])
}

func TestDailyStats_ConcurrentUpdates(t *testing.T) {
	s := NewDailyStats(time.Now())
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			s.RecordSuccess("Mike", "k")
		}()
		go func() {
			defer wg.Done()
			s.RecordFailure()
		}()
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, s.Failed())
	assert.Equal(t, 100, s.Builds()["Mike"]["k"])
}
