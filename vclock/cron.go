package vclock

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// CronTrigger binds a cron expression to a scheduled response template:
// each time the expression's next-fire instant is reached, a fresh
// ScheduledResponse is queued on the Scheduler. This replaces the
// automation platform's hand-rolled parseNextCronExecution (which never
// actually wired the robfig/cron dependency its go.mod declared) with
// the real parser, configured for standard five-field expressions (no
// seconds field).
type CronTrigger struct {
	ID       string
	Name     string
	Expr     string
	schedule cron.Schedule
	Status   int
	Headers  map[string]string
	Body     any
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NewCronTrigger parses expr (standard five-field cron syntax) and
// returns a CronTrigger, or an error if the expression is invalid.
func NewCronTrigger(id, name, expr string, status int, headers map[string]string, body any) (*CronTrigger, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return &CronTrigger{ID: id, Name: name, Expr: expr, schedule: sched, Status: status, Headers: headers, Body: body}, nil
}

// Next returns the next fire instant strictly after from.
func (t *CronTrigger) Next(from time.Time) time.Time {
	return t.schedule.Next(from)
}

// CronRegistry tracks active CronTriggers and their next-fire instant,
// queuing a ScheduledResponse onto a Scheduler each time a trigger comes
// due. It is driven by the same tick cadence as the Scheduler itself.
type CronRegistry struct {
	mu       sync.Mutex
	clock    *Clock
	sched    *Scheduler
	triggers map[string]*CronTrigger
	next     map[string]time.Time
}

// NewCronRegistry builds a registry bound to clock/sched.
func NewCronRegistry(clock *Clock, sched *Scheduler) *CronRegistry {
	return &CronRegistry{clock: clock, sched: sched, triggers: make(map[string]*CronTrigger), next: make(map[string]time.Time)}
}

// Register adds or replaces a CronTrigger and computes its first
// next-fire instant from the clock's current time.
func (r *CronRegistry) Register(t *CronTrigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers[t.ID] = t
	r.next[t.ID] = t.Next(r.clock.Now())
}

// Unregister removes a CronTrigger by ID.
func (r *CronRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.triggers, id)
	delete(r.next, id)
}

// Tick checks every registered trigger against the clock's current time,
// queues a ScheduledResponse for each due trigger onto the bound
// Scheduler, and advances that trigger's next-fire instant.
func (r *CronRegistry) Tick() int {
	now := r.clock.Now()

	r.mu.Lock()
	var due []*CronTrigger
	for id, t := range r.triggers {
		if nf, ok := r.next[id]; ok && !nf.After(now) {
			due = append(due, t)
			r.next[id] = t.Next(now)
		}
	}
	r.mu.Unlock()

	for _, t := range due {
		r.sched.Schedule(ScheduledResponse{
			TriggerTime: now,
			Status:      t.Status,
			Headers:     t.Headers,
			Body:        t.Body,
			Name:        t.Name,
		})
	}
	return len(due)
}
