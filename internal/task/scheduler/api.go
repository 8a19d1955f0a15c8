package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"farmcrew/internal/task/engine"
	"farmcrew/pkg/logx"
)

// AddSchedule parses schedule (cron, @descriptor, Go duration or HH:MM) and registers job.
// Triggers are skipped while a previous run of the same schedule is queued or running.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	opt := engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning}
	switch ps.Kind {
	case SpecCron:
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("schedule %q: %w", name, err)
		}
		return s.add(scheduleDef{name: name, spec: ps.Cron, timeout: timeout, job: job, opt: opt})
	case SpecInterval:
		return s.add(scheduleDef{name: name, spec: "@every " + ps.Every.String(), timeout: timeout, job: job, opt: opt})
	default:
		return errors.New("unsupported schedule kind")
	}
}

// AddInterval registers job every d. With spread, the first firing is delayed by a random
// fraction of d (capped) so many intervals registered together do not fire in lockstep.
func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, spread bool, job func(ctx context.Context) error) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	return s.add(scheduleDef{
		name:    name,
		spec:    "@every " + every.String(),
		timeout: timeout,
		job:     job,
		opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		spread:  spread,
	})
}

// add upserts by name so hot reloads never duplicate a schedule.
func (s *Service) add(d scheduleDef) error {
	if strings.TrimSpace(d.name) == "" {
		return errors.New("name required")
	}
	if d.job == nil {
		return errors.New("job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(d.name)
	s.defs = append(s.defs, d)
	if s.c != nil {
		s.registerLocked(&s.defs[len(s.defs)-1])
	}
	return nil
}

func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	for i := range s.defs {
		if s.defs[i].name != name {
			continue
		}
		if s.c != nil && s.defs[i].entryID != 0 {
			s.c.Remove(s.defs[i].entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

func (s *Service) registerLocked(d *scheduleDef) {
	name, timeout, job, opt := d.name, d.timeout, d.job, d.opt
	trigger := cron.FuncJob(func() {
		s.trigger(name, timeout, opt, job)
	})

	var (
		id  cron.EntryID
		err error
	)
	if every, ok := strings.CutPrefix(d.spec, "@every "); ok && d.spread {
		dur, perr := time.ParseDuration(every)
		if perr != nil {
			err = perr
		} else {
			sched, jitter := intervalWithSpread(dur, time.Now().In(s.loc), name)
			id = s.c.Schedule(sched, trigger)
			s.log.Debug("startup spread applied", logx.String("name", name), logx.Duration("spread", jitter))
		}
	} else {
		id, err = s.c.AddJob(d.spec, trigger)
	}
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", d.spec), logx.Err(err))
		return
	}
	d.entryID = id
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", d.spec))
}

// Trigger submits a schedule's job immediately, outside its cadence.
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	var def *scheduleDef
	for i := range s.defs {
		if s.defs[i].name == name {
			d := s.defs[i]
			def = &d
			break
		}
	}
	s.mu.Unlock()
	if def == nil {
		return fmt.Errorf("schedule %q not found", name)
	}
	return s.submit(def.name, def.timeout, def.opt, def.job)
}

func (s *Service) trigger(name string, timeout time.Duration, opt engine.TaskOptions, job func(ctx context.Context) error) {
	s.reportEnqueueError(name, s.submit(name, timeout, opt, job))
}

func (s *Service) submit(name string, timeout time.Duration, opt engine.TaskOptions, job func(ctx context.Context) error) error {
	if s.engine == nil {
		return engine.ErrStopped
	}
	return s.engine.Enqueue(engine.Task{Name: name, Key: "schedule:" + name, Timeout: timeout, Run: job, Opt: opt})
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Timezone: strings.TrimSpace(s.cfg.Timezone)}
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })
	return snap
}
