package generator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"farmcrew/internal/clock"
	"farmcrew/internal/eventbus"
	"farmcrew/internal/farm"
	"farmcrew/internal/manager"
	rtsup "farmcrew/internal/runtime/supervisor"
	"farmcrew/internal/skills"
	"farmcrew/internal/workorder"
	"farmcrew/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled         = errors.New("generator disabled")
	ErrRateLimited      = errors.New("reactive order rate limited")
	ErrNotHarvestable   = errors.New("plot not harvestable")
	ErrStateUnavailable = errors.New("farm state unavailable")
)

// Service runs scans and reactive harvest orders. It is safe for concurrent use;
// scans are serialized.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	sup     *rtsup.Supervisor

	scanMu sync.Mutex

	state  farm.State
	orders Orders
	bus    eventbus.Bus
	clock  clock.Clock
	log    logx.Logger

	scans           uint64
	reactiveCreated uint64
	reactiveDropped uint64
	last            *ScanReport
}

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func New(cfg Config, state farm.State, orders Orders, bus eventbus.Bus, log logx.Logger, opts ...Option) *Service {
	s := &Service{
		state:  state,
		orders: orders,
		bus:    bus,
		log:    log.OrNop().With(logx.String("comp", "generator")),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	s.clock = clock.OrReal(s.clock)
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	burst := max(1, int(cfg.ReactiveRatePerSec))
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.ReactiveRatePerSec), burst)
		return
	}
	s.limiter.SetLimit(rate.Limit(cfg.ReactiveRatePerSec))
	s.limiter.SetBurst(burst)
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start subscribes to day ticks and crop-readiness notifications. Periodic scans are
// driven by the task scheduler calling Scan.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || s.bus == nil {
		return
	}
	events, unsub := s.bus.Subscribe(64)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.GoRestart("generator.listen", func(ctx context.Context) error {
		return s.listen(ctx, events)
	})
	s.sup.Go0("generator.unsubscribe", func(ctx context.Context) {
		<-ctx.Done()
		unsub()
	})
	s.log.Info("generator started", logx.Bool("enabled", s.cfg.Enabled), logx.Int("min_plots", s.cfg.MinPlotsForOrder))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil {
		s.log.Warn("generator stop", logx.Err(err))
	}
}

func (s *Service) listen(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			switch sig := e.Signal.(type) {
			case eventbus.DayPassed:
				if _, err := s.Scan(ctx, "day_passed"); err != nil && !errors.Is(err, ErrDisabled) {
					s.log.Warn("day scan failed", logx.Int("day", sig.Day), logx.Err(err))
				}
			case eventbus.CropReady:
				if _, err := s.Reactive(ctx, sig.Plot); err != nil {
					s.log.Debug("reactive harvest skipped", logx.String("plot", sig.Plot.String()), logx.Err(err))
				}
			}
		}
	}
}

// Scan runs one full classification pass and creates an order per qualifying batch.
// A missing farm state skips the cycle without touching the manager.
func (s *Service) Scan(ctx context.Context, trigger string) (ScanReport, error) {
	cfg := s.config()
	if !cfg.Enabled {
		return ScanReport{}, ErrDisabled
	}
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	start := s.clock.Now()
	rep := ScanReport{Trigger: trigger, At: start}
	err := s.scan(ctx, cfg, &rep)
	rep.Took = s.clock.Now().Sub(start)
	if err != nil {
		rep.Err = err.Error()
	}

	s.mu.Lock()
	s.scans++
	r := rep
	s.last = &r
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("scan skipped", logx.String("trigger", trigger), logx.Err(err))
		return rep, err
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.ScanCompleted{
			Trigger:    trigger,
			Created:    rep.Created,
			Rejected:   rep.Rejected,
			Unassigned: rep.Unassigned,
			Took:       rep.Took,
		})
	}
	if rep.Created > 0 || rep.Rejected > 0 {
		s.log.Info("scan completed",
			logx.String("trigger", trigger),
			logx.Int("batches", rep.Batches),
			logx.Int("created", rep.Created),
			logx.Int("rejected", rep.Rejected),
			logx.Int("unassigned", rep.Unassigned),
		)
	}
	return rep, nil
}

func (s *Service) scan(ctx context.Context, cfg Config, rep *ScanReport) error {
	if s.state == nil || s.orders == nil {
		return ErrStateUnavailable
	}
	tiles, err := s.state.Tiles()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}
	batches := Batches(Classify(tiles, s.orders.ClaimedPlots()), cfg.MinPlotsForOrder)
	rep.Batches = len(batches)

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		kind := b.Condition.TaskKind()
		rule := RuleFor(b.Condition)
		_, err := s.orders.Create(ctx, manager.Request{
			Kind:          kind,
			Plots:         b.Plots,
			Priority:      rule.Priority,
			Deadline:      Deadline(b.Condition, len(b.Plots)),
			PreferredRole: skills.RoleFor(kind),
			Source:        workorder.SourceScan,
			AutoAssign:    cfg.AutoAssign,
		})
		if err != nil {
			if errors.Is(err, manager.ErrStopped) || ctx.Err() != nil {
				return err
			}
			rep.Rejected++
			s.log.Debug("batch not created", logx.String("condition", string(b.Condition)), logx.Int("plots", len(b.Plots)), logx.Err(err))
			continue
		}
		rep.Created++
	}

	if cfg.AutoAssign {
		n, err := s.orders.AssignPending(ctx)
		if err != nil {
			return err
		}
		rep.Assigned = n
	}
	for _, o := range s.orders.Active() {
		if len(o.AssignedWorkers) == 0 {
			rep.Unassigned++
		}
	}
	return nil
}

// Reactive creates a one-plot, high-priority harvest order for a plot that just became
// ready, without waiting for the next scan.
func (s *Service) Reactive(ctx context.Context, p workorder.Plot) (workorder.WorkOrder, error) {
	cfg := s.config()
	if !cfg.Enabled || !cfg.ReactiveHarvest {
		return workorder.WorkOrder{}, ErrDisabled
	}
	if s.state == nil || s.orders == nil {
		return workorder.WorkOrder{}, ErrStateUnavailable
	}
	tile, ok, err := s.state.Tile(p)
	if err != nil {
		return workorder.WorkOrder{}, fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}
	if !ok || tile.Occupied || !farm.ReadyForHarvest.Matches(tile) {
		return workorder.WorkOrder{}, ErrNotHarvestable
	}
	if !s.allow() {
		return workorder.WorkOrder{}, ErrRateLimited
	}

	o, err := s.orders.Create(ctx, manager.Request{
		Kind:          workorder.Harvesting,
		Plots:         []workorder.Plot{p},
		Priority:      workorder.High,
		Deadline:      cfg.ReactiveDeadline,
		PreferredRole: skills.RoleFor(workorder.Harvesting),
		Source:        workorder.SourceReactive,
		AutoAssign:    cfg.AutoAssign,
	})
	if err != nil {
		return workorder.WorkOrder{}, err
	}
	s.mu.Lock()
	s.reactiveCreated++
	s.mu.Unlock()
	s.log.Info("reactive harvest order", logx.String("order_id", o.ID), logx.String("plot", p.String()))
	return o, nil
}

func (s *Service) allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limiter.AllowN(s.clock.Now(), 1) {
		return true
	}
	s.reactiveDropped++
	return false
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Enabled:         s.cfg.Enabled,
		Scans:           s.scans,
		ReactiveCreated: s.reactiveCreated,
		ReactiveDropped: s.reactiveDropped,
	}
	if s.last != nil {
		r := *s.last
		snap.Last = &r
	}
	return snap
}
