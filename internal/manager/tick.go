package manager

import (
	"context"
	"sort"

	"farmcrew/internal/eventbus"
	"farmcrew/internal/workorder"
	"farmcrew/pkg/logx"
)

// TickReport summarizes one day tick.
type TickReport struct {
	Verified  int `json:"verified"`
	Escalated int `json:"escalated"`
	Purged    int `json:"purged"`
}

// DayTick runs the daily maintenance pass: verify assigned orders against live state,
// escalate overdue orders, then purge expired history.
func (m *Manager) DayTick(ctx context.Context) (TickReport, error) {
	var rep TickReport
	err := m.do(ctx, func() error {
		rep.Verified = m.verifyAssigned()
		rep.Escalated = m.escalateOverdue()
		rep.Purged = m.purgeHistory()
		return nil
	})
	if err == nil && (rep.Verified+rep.Escalated+rep.Purged) > 0 {
		m.log.Info("day tick", logx.Int("verified", rep.Verified), logx.Int("escalated", rep.Escalated), logx.Int("purged", rep.Purged))
	}
	return rep, err
}

// EscalateOverdue raises every overdue, non-critical active order to Critical.
// Running it again without time passing changes nothing.
func (m *Manager) EscalateOverdue(ctx context.Context) (int, error) {
	n := 0
	err := m.do(ctx, func() error {
		n = m.escalateOverdue()
		return nil
	})
	return n, err
}

// PurgeHistory drops closed orders older than the configured retention.
func (m *Manager) PurgeHistory(ctx context.Context) (int, error) {
	n := 0
	err := m.do(ctx, func() error {
		n = m.purgeHistory()
		return nil
	})
	return n, err
}

func (m *Manager) escalateOverdue() int {
	now := m.now()
	n := 0
	for _, o := range m.reg.activeOrders() {
		if !o.Overdue(now) || o.Priority == workorder.Critical {
			continue
		}
		from := o.Priority
		o.Priority = workorder.Critical
		o.Escalated = true
		m.reg.metrics.Escalations++
		n++
		m.emit(eventbus.OrderEscalated{OrderID: o.ID, Kind: o.Kind, From: from, To: workorder.Critical})
		m.log.Warn("order overdue, escalated", logx.String("order_id", o.ID), logx.String("from", from.String()), logx.Time("deadline", o.Deadline))
	}
	return n
}

func (m *Manager) purgeHistory() int {
	n := m.reg.purge(m.now(), m.Config().Retention)
	m.reg.metrics.Purged += uint64(n)
	return n
}

// verifyAssigned completes every worked order whose plots are all done, whether or not its
// workers' finish signals arrived. Unassigned orders wait for a worker.
// An unavailable farm leaves everything for the next tick.
func (m *Manager) verifyAssigned() int {
	n := 0
	for _, o := range m.reg.activeOrders() {
		if len(o.AssignedWorkers) == 0 && !o.AwaitingVerification {
			continue
		}
		pending, err := m.pendingPlots(o)
		if err != nil {
			m.log.Warn("verification skipped", logx.String("order_id", o.ID), logx.Err(err))
			return n
		}
		if len(pending) == 0 {
			m.complete(o)
			n++
			continue
		}
		raise(o, float64(len(o.Plots)-len(pending))/float64(len(o.Plots)))
	}
	return n
}

// sortByUrgency orders by priority (most urgent first). Equal priorities keep their
// incoming order, which is creation order.
func sortByUrgency(orders []*workorder.WorkOrder) {
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].Priority < orders[j].Priority })
}
