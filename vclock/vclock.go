// Package vclock implements the Virtual Clock and the scheduler that
// fires time-based scheduled responses and cron-expression triggers
// against it. It is a direct Go port of the original Rust core's
// time_travel module (VirtualClock / ResponseScheduler), restructured
// around sync.RWMutex per the pipeline's shared-resource policy for
// read-mostly, low-contention state.
package vclock

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock is a manipulable time source: disabled clocks fall through to
// wall time, enabled clocks hold an explicit virtual instant that can be
// advanced, scaled, or pinned.
type Clock struct {
	mu            sync.RWMutex
	enabled       bool
	current       time.Time
	scale         float64
	baselineReal  time.Time
}

// New returns a disabled Clock using wall time.
func New() *Clock {
	return &Clock{scale: 1.0}
}

// NewAt returns a Clock enabled and pinned to t.
func NewAt(t time.Time) *Clock {
	c := New()
	c.EnableAt(t)
	return c
}

// EnableAt enables time travel and sets the current virtual time to t.
func (c *Clock) EnableAt(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
	c.enabled = true
	c.baselineReal = time.Now()
	if c.scale == 0 {
		c.scale = 1.0
	}
}

// Disable returns the clock to wall-time mode.
func (c *Clock) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
	c.current = time.Time{}
	c.baselineReal = time.Time{}
}

// IsEnabled reports whether time travel is active.
func (c *Clock) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Now returns the current time: wall time when disabled, otherwise the
// virtual time. At a scale factor of 1 the virtual time stays fixed
// between Advance/SetTime calls; at any other factor it also moves by the
// real time elapsed since the last mutation, multiplied by the factor.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.enabled {
		return time.Now()
	}
	if c.scale == 1.0 || c.scale == 0 {
		return c.current
	}
	elapsed := time.Since(c.baselineReal)
	scaled := time.Duration(float64(elapsed) * c.scale)
	return c.current.Add(scaled)
}

// Advance moves the virtual time forward by d. No-op if disabled.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.current = c.current.Add(d)
	c.baselineReal = time.Now()
}

// SetTime pins the virtual time to t, enabling time travel if it was off.
func (c *Clock) SetTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		c.enabled = true
		if c.scale == 0 {
			c.scale = 1.0
		}
	}
	c.current = t
	c.baselineReal = time.Now()
}

// SetScale sets the time-dilation factor; factors <= 0 are rejected.
func (c *Clock) SetScale(factor float64) error {
	if factor <= 0 {
		return errors.New("vclock: scale factor must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.nowLocked()
	c.scale = factor
	c.baselineReal = time.Now()
	return nil
}

func (c *Clock) nowLocked() time.Time {
	if !c.enabled {
		return time.Now()
	}
	if c.scale == 1.0 || c.scale == 0 {
		return c.current
	}
	elapsed := time.Since(c.baselineReal)
	return c.current.Add(time.Duration(float64(elapsed) * c.scale))
}

// Scale returns the current scale factor.
func (c *Clock) Scale() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.scale == 0 {
		return 1.0
	}
	return c.scale
}

// Status is a snapshot of clock state for the control plane API.
type Status struct {
	Enabled     bool
	CurrentTime *time.Time
	ScaleFactor float64
	RealTime    time.Time
}

// Status returns a point-in-time snapshot.
func (c *Clock) Status() Status {
	s := Status{Enabled: c.IsEnabled(), ScaleFactor: c.Scale(), RealTime: time.Now()}
	if s.Enabled {
		t := c.Now()
		s.CurrentTime = &t
	}
	return s
}

// RepeatConfig configures a ScheduledResponse's repetition. MaxCount of 0
// means unbounded; a positive MaxCount decrements on each fire and the
// repeat stops being rescheduled once it reaches zero ("fires then
// decrements": the response that exhausts the count still fires).
type RepeatConfig struct {
	Interval time.Duration
	MaxCount int // 0 = infinite
}

// ScheduledResponse is a response queued to fire at TriggerTime.
type ScheduledResponse struct {
	ID          string
	TriggerTime time.Time
	Status      int
	Headers     map[string]string
	Body        any
	Name        string
	Repeat      *RepeatConfig
}

// Scheduler manages time-triggered responses against a Clock. All state
// lives behind a single mutex: contention is expected to be low (tick
// scans happen on a timer, not per-request) so a single lock keeps the
// ordering logic simple, per the pipeline's shared-resource policy.
type Scheduler struct {
	mu        sync.Mutex
	clock     *Clock
	entries   map[time.Time][]ScheduledResponse
	named     map[string]string // name -> id
}

// NewScheduler builds a Scheduler bound to clock.
func NewScheduler(clock *Clock) *Scheduler {
	return &Scheduler{clock: clock, entries: make(map[time.Time][]ScheduledResponse), named: make(map[string]string)}
}

// Schedule queues r, assigning it a UUID if ID is empty, and returns the
// final ID.
func (s *Scheduler) Schedule(r ScheduledResponse) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.entries[r.TriggerTime] = append(s.entries[r.TriggerTime], r)
	if r.Name != "" {
		s.named[r.Name] = r.ID
	}
	return r.ID
}

// Cancel removes the scheduled response with the given ID, returning
// whether anything was removed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t, list := range s.entries {
		for i, r := range list {
			if r.ID == id {
				s.entries[t] = append(list[:i], list[i+1:]...)
				if len(s.entries[t]) == 0 {
					delete(s.entries, t)
				}
				return true
			}
		}
	}
	return false
}

// ClearAll removes every scheduled response.
func (s *Scheduler) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[time.Time][]ScheduledResponse)
	s.named = make(map[string]string)
}

// Tick returns every ScheduledResponse whose TriggerTime is now or
// earlier, removing them from the queue. Repeating responses with a
// MaxCount > 1 are rescheduled at TriggerTime+Interval with MaxCount
// decremented by one; a response whose MaxCount has reached 1 fires this
// last time and is not rescheduled.
func (s *Scheduler) Tick() []ScheduledResponse {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var dueTimes []time.Time
	for t := range s.entries {
		if !t.After(now) {
			dueTimes = append(dueTimes, t)
		}
	}
	sort.Slice(dueTimes, func(i, j int) bool { return dueTimes[i].Before(dueTimes[j]) })

	var due []ScheduledResponse
	for _, t := range dueTimes {
		list := s.entries[t]
		delete(s.entries, t)
		for _, r := range list {
			due = append(due, r)
			if r.Repeat == nil {
				continue
			}
			shouldRepeat := r.Repeat.MaxCount == 0 || r.Repeat.MaxCount > 1
			if !shouldRepeat {
				continue
			}
			next := r
			nextRepeat := *r.Repeat
			if nextRepeat.MaxCount > 0 {
				nextRepeat.MaxCount--
			}
			next.Repeat = &nextRepeat
			next.TriggerTime = t.Add(r.Repeat.Interval)
			s.entries[next.TriggerTime] = append(s.entries[next.TriggerTime], next)
		}
	}
	return due
}

// Pending returns a snapshot of all currently scheduled responses, sorted
// by trigger time, for inspection by the control plane.
func (s *Scheduler) Pending() []ScheduledResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	var times []time.Time
	for t := range s.entries {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	var out []ScheduledResponse
	for _, t := range times {
		out = append(out, s.entries[t]...)
	}
	return out
}

// ByName resolves a scheduled response's ID from its optional name.
func (s *Scheduler) ByName(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.named[name]
	return id, ok
}
