package requestengine

import (
	"sync"
	"time"
)

// DayFormat is the layout used for Report.Day.
const DayFormat = "2006-01-02"

// Report is an immutable copy of one day's statistics.
type Report struct {
	Day               string                    `json:"day"`
	FailedBuilds      int                       `json:"failed_builds"`
	BuildsByRequestor map[string]map[string]int `json:"builds_by_requestor"`
}

// DailyStats holds the counters for the current day. The zero value is not
// usable; call NewDailyStats.
type DailyStats struct {
	mu     sync.Mutex
	day    string
	failed int
	builds map[string]map[string]int
}

// NewDailyStats starts accounting for the day containing now.
func NewDailyStats(now time.Time) *DailyStats {
	return &DailyStats{
		day:    now.Format(DayFormat),
		builds: make(map[string]map[string]int),
	}
}

// RecordFailure increments the failed build counter and returns its new value.
func (s *DailyStats) RecordFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	return s.failed
}

// RecordSuccess increments the count for requestor and key, creating the
// requestor's entry on first use. It returns the new count.
func (s *DailyStats) RecordSuccess(requestor, key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.builds[requestor]
	if !ok {
		byKey = make(map[string]int)
		s.builds[requestor] = byKey
	}
	byKey[key]++
	return byKey[key]
}

// Failed returns the current failed build counter.
func (s *DailyStats) Failed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Builds returns a deep copy of the requestor -> key -> count mapping.
func (s *DailyStats) Builds() map[string]map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyBuilds(s.builds)
}

// Snapshot returns a copy of the current day.
func (s *DailyStats) Snapshot() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reportLocked()
}

// Reset closes the current day and starts a new one for the day containing
// next. The closed day is returned.
func (s *DailyStats) Reset(next time.Time) Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	closed := s.reportLocked()
	s.day = next.Format(DayFormat)
	s.failed = 0
	s.builds = make(map[string]map[string]int)
	return closed
}

func (s *DailyStats) reportLocked() Report {
	return Report{
		Day:               s.day,
		FailedBuilds:      s.failed,
		BuildsByRequestor: copyBuilds(s.builds),
	}
}

func copyBuilds(in map[string]map[string]int) map[string]map[string]int {
	out := make(map[string]map[string]int, len(in))
	for requestor, byKey := range in {
		inner := make(map[string]int, len(byKey))
		for k, v := range byKey {
			inner[k] = v
		}
		out[requestor] = inner
	}
	return out
}
