package supervisor

import (
	"sort"
	"time"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
)

// ChildRecord tracks one running child process
type ChildRecord struct {
	SpecIndex  int
	ChildID    string
	InstanceID string
	PID        procmgr.ProcessID
	StartedAt  time.Time

	// stopping is set once the supervisor sent a termination signal
	stopping    bool
	stopStarted time.Time
	stopWaiters []chan<- response
}

// recordTable maps live process ids to their records. A record is removed as
// soon as its exit is processed, before anything else can be spawned.
type recordTable struct {
	byPID map[procmgr.ProcessID]*ChildRecord
}

func newRecordTable() *recordTable {
	return &recordTable{byPID: make(map[procmgr.ProcessID]*ChildRecord)}
}

func (t *recordTable) insert(r *ChildRecord) {
	t.byPID[r.PID] = r
}

func (t *recordTable) get(pid procmgr.ProcessID) (*ChildRecord, bool) {
	r, ok := t.byPID[pid]
	return r, ok
}

func (t *recordTable) remove(pid procmgr.ProcessID) {
	delete(t.byPID, pid)
}

func (t *recordTable) len() int {
	return len(t.byPID)
}

// ordered returns all records in declaration order
func (t *recordTable) ordered() []*ChildRecord {
	out := make([]*ChildRecord, 0, len(t.byPID))
	for _, r := range t.byPID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SpecIndex != out[j].SpecIndex {
			return out[i].SpecIndex < out[j].SpecIndex
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// after returns running records declared after index, in declaration order
func (t *recordTable) after(index int) []*ChildRecord {
	var out []*ChildRecord
	for _, r := range t.ordered() {
		if r.SpecIndex > index {
			out = append(out, r)
		}
	}
	return out
}

// forIndex returns the record running spec index, if any
func (t *recordTable) forIndex(index int) (*ChildRecord, bool) {
	for _, r := range t.byPID {
		if r.SpecIndex == index {
			return r, true
		}
	}
	return nil, false
}

// removeIndex shifts spec indices down after the spec at index is deleted
func (t *recordTable) removeIndex(index int) {
	for _, r := range t.byPID {
		if r.SpecIndex > index {
			r.SpecIndex--
		}
	}
}
