package analysis

import "errors"

// ErrQuotaExceeded indicates the AI provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// ErrInvalidTransition is returned when an event does not fit a task's state.
var ErrInvalidTransition = errors.New("invalid task transition")

// ErrUnsupportedLanguage is returned for report languages other than en/pt.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ErrUnknownTask is returned by Reduce when no task has the event's CheckID.
var ErrUnknownTask = errors.New("unknown task")
