package device

import (
	"errors"
)

// Event is the completion handle of an enqueued command. It is passed in the
// wait-list of later commands to order them after this one.
type Event struct {
	label string
	done  chan struct{}
	err   error
}

func newEvent(label string) *Event {
	return &Event{label: label, done: make(chan struct{})}
}

// CompletedEvent returns an event that is already done with err.
func CompletedEvent(err error) *Event {
	e := newEvent("completed")
	e.complete(err)
	return e
}

func (e *Event) complete(err error) {
	e.err = err
	close(e.done)
}

// Label names the command the event belongs to.
func (e *Event) Label() string {
	return e.label
}

// Done is closed once the command has finished, successfully or not.
func (e *Event) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the command finishes and returns its error.
func (e *Event) Wait() error {
	<-e.done
	return e.err
}

// Err returns the command's error without blocking; nil while still running.
func (e *Event) Err() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

// WaitAll waits for every event and joins their errors. Nil events are skipped.
func WaitAll(events ...*Event) error {
	var errs []error
	for _, e := range events {
		if e == nil {
			continue
		}
		if err := e.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
