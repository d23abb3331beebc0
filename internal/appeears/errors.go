package appeears

import "fmt"

// AuthError means the credential exchange was rejected. It aborts the run.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected with status %d", e.Status)
}

// SubmissionError means the service refused the task request. It aborts the
// run; nothing has been downloaded yet.
type SubmissionError struct {
	Status int
	Body   string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("task submission rejected with status %d: %s", e.Status, e.Body)
}

// TaskFailureError means the task reached a terminal non-success state or
// the wait budget ran out before it completed.
type TaskFailureError struct {
	TaskID string
	Status string
}

func (e *TaskFailureError) Error() string {
	return fmt.Sprintf("task %s did not complete: status %q", e.TaskID, e.Status)
}
