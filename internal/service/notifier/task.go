package notifier

import (
	"context"

	"trainingportal/internal/service/delivery"
)

// Task is a broadcast running in the background.
type Task struct {
	ID string

	done   chan struct{}
	report *delivery.Report
	err    error
}

func newTask(id string) *Task {
	return &Task{ID: id, done: make(chan struct{})}
}

func (t *Task) finish(report *delivery.Report, err error) {
	t.report = report
	t.err = err
	close(t.done)
}

// Done is closed when the delivery has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the delivery finishes or ctx ends. A ctx error does not
// stop the delivery.
func (t *Task) Wait(ctx context.Context) (*delivery.Report, error) {
	select {
	case <-t.done:
		return t.report, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
