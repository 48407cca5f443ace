package retry

import (
	"errors"
	"net/http"
	"time"

	"github.com/tanq16/velodown/internal/utils"
)

type Action int

const (
	FailPermanently Action = iota
	RetryAfter
)

func (a Action) String() string {
	if a == RetryAfter {
		return "retry"
	}
	return "fail"
}

type Decision struct {
	Action Action
	Delay  time.Duration
	Reason string
}

// Classify decides what follows a failed attempt. attemptsSoFar is the number
// of retries already consumed by the task and attemptDuration is how long the
// failed attempt ran. The first matching rule wins.
func Classify(err error, attemptsSoFar int, attemptDuration time.Duration, s utils.Settings) Decision {
	switch {
	case !s.AutoResumeDownloads:
		return fail("auto-resume disabled")
	case attemptsSoFar >= s.MaxResumeAttempts:
		return fail("resume attempts exhausted")
	case attemptsSoFar > 0 && attemptDuration < s.MinFailDuration:
		return fail("retry failed too quickly")
	case permanent(err):
		return fail("error is not retryable")
	}
	return Decision{Action: RetryAfter, Delay: s.ResumeDelay, Reason: "transient error"}
}

func fail(reason string) Decision {
	return Decision{Action: FailPermanently, Reason: reason}
}

func permanent(err error) bool {
	var authErr *utils.AuthorizationError
	if errors.As(err, &authErr) {
		return true
	}
	var sizeErr *utils.SizeMismatchError
	if errors.As(err, &sizeErr) {
		return true
	}
	var serverErr *utils.ServerError
	if errors.As(err, &serverErr) {
		return serverErr.Status == http.StatusForbidden || serverErr.Status == http.StatusNotFound
	}
	return false
}
