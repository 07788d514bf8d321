package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by store lookups that match no row.
var ErrNotFound = errors.New("not found")

// UnknownTopicError means no decoder is registered for the topic.
type UnknownTopicError struct {
	Topic string
}

func (e *UnknownTopicError) Error() string {
	return fmt.Sprintf("no decoder registered for topic %q", e.Topic)
}

// DecodeError means the payload could not be decoded into the topic's variant.
type DecodeError struct {
	Topic string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload from %q: %v", e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// NotFoundError names the entity a message referenced but the store lacks.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StoreWriteError wraps a failed time-series or relational write. It is the
// only class that holds back the offset commit.
type StoreWriteError struct {
	Store string
	Op    string
	Err   error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Store, e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// BrokerTransientError wraps connection or partition errors from the broker.
type BrokerTransientError struct {
	Op  string
	Err error
}

func (e *BrokerTransientError) Error() string {
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *BrokerTransientError) Unwrap() error { return e.Err }

// Retryable reports whether re-running the handler for the same record could
// succeed. Unknown topics, bad payloads and references to missing entities
// are dropped; store failures and anything unclassified are retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		unknown *UnknownTopicError
		decode  *DecodeError
	)
	switch {
	case errors.As(err, &unknown), errors.As(err, &decode), errors.Is(err, ErrNotFound):
		return false
	}
	return true
}
