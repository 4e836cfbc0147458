package tools

import (
	"time"

	"github.com/samber/lo"

	"github.com/ezquant/azrl/azrl/tools/log"
)

// Progress is what a scheduled task sees of a running loop.
type Progress struct {
	Timestep int
	Episode  int
	Now      time.Time
}

type Task struct {
	Name      string
	Condition func(p Progress) bool
	Action    func(p Progress) error
	Repeat    bool
}

type Scheduler struct {
	tasks []Task
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// When runs action once, the first time condition holds.
func (s *Scheduler) When(name string, condition func(p Progress) bool, action func(p Progress) error) {
	s.tasks = append(s.tasks, Task{Name: name, Condition: condition, Action: action})
}

// Every runs action each time condition holds.
func (s *Scheduler) Every(name string, condition func(p Progress) bool, action func(p Progress) error) {
	s.tasks = append(s.tasks, Task{Name: name, Condition: condition, Action: action, Repeat: true})
}

// Update runs the tasks whose condition holds. A failed task stays scheduled.
func (s *Scheduler) Update(p Progress) {
	s.tasks = lo.Filter[Task](s.tasks, func(task Task, _ int) bool {
		if !task.Condition(p) {
			return true
		}
		if err := task.Action(p); err != nil {
			log.WithError(err).WithField("task", task.Name).Error("scheduled task failed")
			return true
		}
		return task.Repeat
	})
}

func (s *Scheduler) Len() int {
	return len(s.tasks)
}

// EveryTimesteps holds on each positive multiple of n.
func EveryTimesteps(n int) func(p Progress) bool {
	return func(p Progress) bool {
		return n > 0 && p.Timestep > 0 && p.Timestep%n == 0
	}
}

// EveryInterval holds when d has passed since it last held, or since the
// first call.
func EveryInterval(d time.Duration) func(p Progress) bool {
	var last time.Time
	return func(p Progress) bool {
		if d <= 0 {
			return false
		}
		if last.IsZero() {
			last = p.Now
			return false
		}
		if p.Now.Sub(last) < d {
			return false
		}
		last = p.Now
		return true
	}
}
