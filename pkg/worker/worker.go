package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/hbomb79/Archivist/pkg/logger"
)

var workerLogger = logger.Get("Worker")

type WorkerStatus int32

// WorkerTask is the body of a worker. Execute is expected to loop until
// the context provided is cancelled, returning nil on a clean exit.
type WorkerTask interface {
	Execute(ctx context.Context, w Worker) error
}

// WorkerTaskFunc adapts a plain function to the WorkerTask interface.
type WorkerTaskFunc func(ctx context.Context, w Worker) error

func (f WorkerTaskFunc) Execute(ctx context.Context, w Worker) error { return f(ctx, w) }

const (
	Sleeping WorkerStatus = iota
	Working
	Finished
)

func (s WorkerStatus) String() string {
	switch s {
	case Sleeping:
		return "SLEEPING"
	case Working:
		return "WORKING"
	case Finished:
		return "FINISHED"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", int32(s))
	}
}

type Worker interface {
	Start(ctx context.Context) error
	Status() WorkerStatus
	SetStatus(WorkerStatus)
	Label() string
}

type taskWorker struct {
	label         string
	task          WorkerTask
	currentStatus atomic.Int32
}

func NewWorker(label string, task WorkerTask) *taskWorker {
	return &taskWorker{label: label, task: task}
}

// Start runs the workers task on the calling goroutine, blocking
// until the task returns. Panics raised by the task are recovered
// and returned as an error.
func (worker *taskWorker) Start(ctx context.Context) (err error) {
	workerLogger.Emit(logger.NEW, "Starting worker %v\n", worker.label)
	worker.SetStatus(Working)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %v panicked: %v", worker.label, r)
		}
		if err != nil {
			workerLogger.Emit(logger.ERROR, "Worker %v has reported an error(%T): %v\n", worker.label, err, err.Error())
		}

		worker.SetStatus(Finished)
		workerLogger.Emit(logger.STOP, "Worker %v has stopped\n", worker.label)
	}()

	return worker.task.Execute(ctx, worker)
}

// Status returns the current status of this worker
func (worker *taskWorker) Status() WorkerStatus {
	return WorkerStatus(worker.currentStatus.Load())
}

// SetStatus is used by the task to indicate whether it is
// currently idle (e.g. waiting on a long poll) or working.
func (worker *taskWorker) SetStatus(status WorkerStatus) {
	worker.currentStatus.Store(int32(status))
}

// Label returns the label for this worker
func (worker *taskWorker) Label() string {
	return worker.label
}
