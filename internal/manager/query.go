package manager

import "farmcrew/internal/workorder"

// Get returns an active or historical order by id.
func (m *Manager) Get(id string) (workorder.WorkOrder, bool) { return m.Snapshot().Get(id) }

// Active lists active orders in creation order.
func (m *Manager) Active() []workorder.WorkOrder {
	return append([]workorder.WorkOrder(nil), m.Snapshot().Active...)
}

// History lists retained closed orders in close order.
func (m *Manager) History() []workorder.WorkOrder {
	return append([]workorder.WorkOrder(nil), m.Snapshot().History...)
}

func (m *Manager) WorkerOrders(workerID string) []workorder.WorkOrder {
	return m.Snapshot().WorkerOrders(workerID)
}

func (m *Manager) PlotOwner(p workorder.Plot) (string, bool) { return m.Snapshot().PlotOwner(p) }

func (m *Manager) ClaimedPlots() map[workorder.Plot]string { return m.Snapshot().ClaimedPlots() }

func (m *Manager) Metrics() Metrics { return m.Snapshot().Metrics }
