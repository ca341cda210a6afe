package runtime

import "github.com/ethereum/go-ethereum/common"

// Notify implements the Notify-style wake primitive of spec §4.I/§5: it
// shortens the (sender, chain) gather loop's next sleep to zero. Single-
// shot and non-blocking — a pending wake that hasn't been consumed yet
// is not queued twice.
func (r *Runtime) Notify(sender common.Address, chain int64) {
	r.mu.Lock()
	t, ok := r.tasks[taskKey{Sender: sender, Chain: chain}]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// AbortTasks cancels every running pipeline task without waiting for
// them to finish (spec §4.I). In-flight DB writes complete or roll back
// atomically in the store itself; AbortTasks only signals tasks to stop
// — call JoinTasks afterwards to wait out their actual exit.
func (r *Runtime) AbortTasks() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		t.cancel()
	}
}

// JoinTasks blocks until every task cancelled by a prior AbortTasks has
// fully stopped, then forgets them. Calling it without a prior
// AbortTasks blocks forever, since nothing would signal the tasks to
// stop.
func (r *Runtime) JoinTasks() {
	r.mu.Lock()
	dones := make([]chan struct{}, 0, len(r.tasks))
	for key, t := range r.tasks {
		dones = append(dones, t.done)
		delete(r.tasks, key)
	}
	r.mu.Unlock()
	for _, d := range dones {
		<-d
	}
}
