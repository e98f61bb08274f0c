package worker

import "errors"

// errRecordMissing marks a delivery whose analysis record does not exist.
// Requeueing cannot help: the record will not appear, so the message is
// dropped without crashing the worker.
var errRecordMissing = errors.New("no analysis record for queue message")

// retryableError wraps transient infrastructure failures (store session
// acquisition, claim updates) that warrant a broker-level requeue. Failed
// analysis attempts are NOT requeued this way; they ride fresh retry
// messages published after the backoff delay.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return "retryable: " + e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func newRetryable(err error) error {
	return &retryableError{err: err}
}

// shouldRequeue decides the NACK requeue flag for a failed delivery.
func shouldRequeue(err error) bool {
	var retryable *retryableError
	return errors.As(err, &retryable)
}
