package supervisor

import (
	"context"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
)

type requestKind int

const (
	reqAddChild requestKind = iota
	reqDeleteChild
	reqTerminateChild
	reqRestartChild
)

// request is a caller operation executed by the control loop
type request struct {
	kind  requestKind
	id    string
	spec  ChildSpec
	reply chan response
}

type response struct {
	pid procmgr.ProcessID
	err error
}

// AddChild appends spec to a simple_one_for_one pool and launches it.
//
// Run returns as soon as no child is running, so an idle pool cannot be
// refilled: a pool started empty, or whose children have all finished, has
// already terminated and AddChild fails with NOT_RUNNING.
func (s *Supervisor) AddChild(ctx context.Context, spec ChildSpec) (procmgr.ProcessID, error) {
	resp := s.call(ctx, &request{kind: reqAddChild, id: spec.ID(), spec: spec})
	return resp.pid, resp.err
}

// DeleteChild removes a stopped child spec from a simple_one_for_one pool
func (s *Supervisor) DeleteChild(ctx context.Context, id string) error {
	return s.call(ctx, &request{kind: reqDeleteChild, id: id}).err
}

// TerminateChild stops a running child under its shutdown policy and waits
// for it to exit. The spec is kept and the exit does not trigger a restart.
func (s *Supervisor) TerminateChild(ctx context.Context, id string) error {
	return s.call(ctx, &request{kind: reqTerminateChild, id: id}).err
}

// RestartChild launches a declared child that is not running. It is not
// counted against the restart intensity.
func (s *Supervisor) RestartChild(ctx context.Context, id string) (procmgr.ProcessID, error) {
	resp := s.call(ctx, &request{kind: reqRestartChild, id: id})
	return resp.pid, resp.err
}

// call queues req for the control loop and waits for its reply
func (s *Supervisor) call(ctx context.Context, req *request) response {
	if state := s.State(); state != StateRunning {
		return response{err: ErrNotRunning(state)}
	}
	req.reply = make(chan response, 1)

	select {
	case s.requests <- req:
	case <-s.done:
		return response{err: ErrNotRunning(s.State())}
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}
	s.launcher.Wake()

	select {
	case resp := <-req.reply:
		return resp
	case <-s.done:
		select {
		case resp := <-req.reply:
			return resp
		default:
			return response{err: ErrNotRunning(s.State())}
		}
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}
}

// serveRequests drains the request queue. Control goroutine only.
func (s *Supervisor) serveRequests(ctx context.Context) {
	for {
		select {
		case req := <-s.requests:
			resp, done := s.serve(ctx, req)
			if done {
				s.publishSnapshot()
				req.reply <- resp
			}
		default:
			return
		}
	}
}

// rejectRequests answers every queued request with NOT_RUNNING
func (s *Supervisor) rejectRequests() {
	for {
		select {
		case req := <-s.requests:
			req.reply <- response{err: ErrNotRunning(s.State())}
		default:
			return
		}
	}
}

// serve executes req. It reports false when the reply is deferred until a
// child has been stopped.
func (s *Supervisor) serve(ctx context.Context, req *request) (response, bool) {
	switch req.kind {
	case reqAddChild:
		pid, err := s.addChild(ctx, req.spec)
		return response{pid: pid, err: err}, true

	case reqDeleteChild:
		return response{err: s.deleteChild(req.id)}, true

	case reqTerminateChild:
		index, ok := s.indexOf(req.id)
		if !ok {
			return response{err: ErrChildNotFound(req.id)}, true
		}
		rec, running := s.table.forIndex(index)
		if !running {
			return response{}, true
		}
		rec.stopWaiters = append(rec.stopWaiters, req.reply)
		s.log.Info("terminating child on request", "child_id", req.id, "pid", rec.PID)
		s.beginStop(rec)
		return response{}, false

	case reqRestartChild:
		index, ok := s.indexOf(req.id)
		if !ok {
			return response{err: ErrChildNotFound(req.id)}, true
		}
		if rec, running := s.table.forIndex(index); running {
			return response{pid: rec.PID, err: NewError(ErrorCodeChildRunning,
				"child is already running").WithContext("child_id", req.id)}, true
		}
		pid, err := s.launch(ctx, index)
		return response{pid: pid, err: err}, true
	}
	return response{err: NewError(ErrorCodeUnsupportedOperation, "unknown request")}, true
}

func (s *Supervisor) addChild(ctx context.Context, spec ChildSpec) (procmgr.ProcessID, error) {
	if s.flags.Strategy() != SimpleOneForOne {
		return 0, NewError(ErrorCodeUnsupportedOperation,
			"children can only be added to a simple_one_for_one supervisor").
			WithContext("strategy", s.flags.Strategy().String())
	}
	if err := spec.validate(); err != nil {
		return 0, err
	}
	if existing, dup := s.indexOf(spec.ID()); dup {
		return 0, ErrDuplicateChildID(spec.ID(), existing, len(s.specs))
	}
	if len(s.specs) > 0 {
		if err := SameShape(s.specs[0], spec); err != nil {
			return 0, err
		}
	}

	s.specs = append(s.specs, spec)
	pid, err := s.launch(ctx, len(s.specs)-1)
	if err != nil {
		s.specs = s.specs[:len(s.specs)-1]
		return 0, err
	}
	s.log.Info("child added", "child_id", spec.ID(), "pid", pid)
	return pid, nil
}

func (s *Supervisor) deleteChild(id string) error {
	if s.flags.Strategy() != SimpleOneForOne {
		return NewError(ErrorCodeUnsupportedOperation,
			"children can only be deleted from a simple_one_for_one supervisor").
			WithContext("strategy", s.flags.Strategy().String())
	}
	index, ok := s.indexOf(id)
	if !ok {
		return ErrChildNotFound(id)
	}
	if _, running := s.table.forIndex(index); running {
		return NewError(ErrorCodeChildRunning, "cannot delete a running child").
			WithContext("child_id", id).
			WithSuggestion("Call TerminateChild first")
	}

	s.specs = append(s.specs[:index], s.specs[index+1:]...)
	s.table.removeIndex(index)
	delete(s.restarts, id)
	s.log.Info("child deleted", "child_id", id)
	return nil
}

func (s *Supervisor) indexOf(id string) (int, bool) {
	for i, spec := range s.specs {
		if spec.ID() == id {
			return i, true
		}
	}
	return -1, false
}
