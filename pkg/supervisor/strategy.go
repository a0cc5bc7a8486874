package supervisor

import "github.com/jrepp/prism-supervisor/pkg/procmgr"

// plan is the outcome of one restart decision. ToStop records are terminated
// under their shutdown policy before ToRestart spec indices are launched in
// order.
type plan struct {
	ToStop    []*ChildRecord
	ToRestart []int
}

func (p plan) empty() bool {
	return len(p.ToStop) == 0 && len(p.ToRestart) == 0
}

// planRestart decides what to stop and relaunch after exited ended with class.
// The exited record must already be removed from table.
//
// Temporary siblings swept up by OneForAll or RestForOne are stopped but never
// relaunched, so a Temporary child runs at most once and repeating a group
// restart yields the same set of running children.
func planRestart(strategy Strategy, exited *ChildRecord, class procmgr.ExitClass, specs []ChildSpec, table *recordTable) plan {
	if exited.SpecIndex < 0 || exited.SpecIndex >= len(specs) {
		return plan{}
	}
	if !specs[exited.SpecIndex].Lifetime().RestartRequired(class) {
		return plan{}
	}

	switch strategy {
	case OneForAll:
		p := plan{ToStop: table.ordered()}
		for i, spec := range specs {
			if i == exited.SpecIndex || spec.Lifetime() != Temporary {
				p.ToRestart = append(p.ToRestart, i)
			}
		}
		return p

	case RestForOne:
		p := plan{ToStop: table.after(exited.SpecIndex)}
		p.ToRestart = append(p.ToRestart, exited.SpecIndex)
		for i := exited.SpecIndex + 1; i < len(specs); i++ {
			if specs[i].Lifetime() != Temporary {
				p.ToRestart = append(p.ToRestart, i)
			}
		}
		return p

	default:
		// OneForOne and SimpleOneForOne
		return plan{ToRestart: []int{exited.SpecIndex}}
	}
}
