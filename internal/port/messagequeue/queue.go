// Package messagequeue defines the queue port that carries execution
// requests, task announcements and cancellations between processes.
package messagequeue

import "context"

// Handler processes one delivery. A returned error asks the queue to redeliver;
// ctx carries the publisher's request id.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue publishes and consumes task messages. Payloads are validated against
// the subject's schema on both sides.
type Queue interface {
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe starts delivering subject to handler until the returned stop
	// function is called.
	Subscribe(ctx context.Context, subject string, handler Handler) (stop func(), err error)

	// Drain lets in-flight deliveries finish, then closes the connection.
	Drain() error
	Close() error
	IsConnected() bool
}

// Subjects used by the task runner.
const (
	SubjectTaskExecute = "tasks.execute" // explicit execution request
	SubjectTaskCreated = "tasks.created" // a task was created; run it if it has an assignee
	SubjectTaskCancel  = "tasks.cancel"  // cancel a running execution
)
