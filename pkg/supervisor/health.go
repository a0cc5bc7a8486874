package supervisor

import (
	"time"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
)

// ChildInfo describes one declared child
type ChildInfo struct {
	ID         string            `json:"id"`
	Role       string            `json:"role"`
	Lifetime   string            `json:"lifetime"`
	Shutdown   string            `json:"shutdown"`
	Running    bool              `json:"running"`
	Stopping   bool              `json:"stopping,omitempty"`
	PID        procmgr.ProcessID `json:"pid,omitempty"`
	InstanceID string            `json:"instance_id,omitempty"`
	StartedAt  time.Time         `json:"started_at,omitempty"`
	Restarts   int               `json:"restarts"`
}

// ChildCounts summarizes the declared children
type ChildCounts struct {
	Specs       int `json:"specs"`
	Active      int `json:"active"`
	Workers     int `json:"workers"`
	Supervisors int `json:"supervisors"`
}

// HealthCheck represents the health status of the supervisor
type HealthCheck struct {
	Name             string      `json:"name"`
	State            State       `json:"-"`
	StateName        string      `json:"state"`
	Strategy         string      `json:"strategy"`
	Intensity        int         `json:"intensity"`
	Period           string      `json:"period"`
	RestartsInWindow int         `json:"restarts_in_window"`
	Counts           ChildCounts `json:"counts"`
	Children         []ChildInfo `json:"children"`
	Timestamp        time.Time   `json:"timestamp"`
}

// Healthy reports whether the supervisor is Running
func (h HealthCheck) Healthy() bool {
	return h.State == StateRunning
}

// Health returns the latest snapshot published by the control loop
func (s *Supervisor) Health() HealthCheck {
	h := *s.snapshot.Load()
	h.State = s.State()
	h.StateName = h.State.String()
	h.Children = append([]ChildInfo(nil), h.Children...)
	return h
}

// WhichChildren lists every declared child in declaration order
func (s *Supervisor) WhichChildren() []ChildInfo {
	return s.Health().Children
}

// CountChildren counts declared children by role and activity
func (s *Supervisor) CountChildren() ChildCounts {
	return s.snapshot.Load().Counts
}

// publishSnapshot rebuilds the health snapshot. Control goroutine only.
func (s *Supervisor) publishSnapshot() {
	now := s.now()
	h := &HealthCheck{
		Name:             s.name,
		Strategy:         s.flags.Strategy().String(),
		Intensity:        s.flags.Intensity(),
		Period:           s.flags.Period().String(),
		RestartsInWindow: s.window.size(now),
		Children:         make([]ChildInfo, len(s.specs)),
		Timestamp:        now,
	}

	for i, spec := range s.specs {
		info := ChildInfo{
			ID:       spec.ID(),
			Role:     spec.Role().String(),
			Lifetime: spec.Lifetime().String(),
			Shutdown: spec.Shutdown().String(),
			Restarts: s.restarts[spec.ID()],
		}
		if rec, ok := s.table.forIndex(i); ok {
			info.Running = true
			info.Stopping = rec.stopping
			info.PID = rec.PID
			info.InstanceID = rec.InstanceID
			info.StartedAt = rec.StartedAt
			h.Counts.Active++
		}
		if spec.Role() == RoleSupervisor {
			h.Counts.Supervisors++
		} else {
			h.Counts.Workers++
		}
		h.Children[i] = info
	}
	h.Counts.Specs = len(s.specs)

	s.snapshot.Store(h)
	s.metrics.ChildrenRunning(s.table.len())
	s.metrics.RestartWindowSize(h.RestartsInWindow)
}
