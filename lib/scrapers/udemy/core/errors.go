package core

import (
	"errors"
	"fmt"
)

// ErrRobotDetected means the platform served an anti-bot challenge.
// It is fatal to the whole run.
var ErrRobotDetected = errors.New("anti-bot challenge detected")

// FetchError reports a non-success status during a paged or detail fetch.
type FetchError struct {
	Url        string
	StatusCode int
	Body       string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.Url, e.StatusCode)
}

// CourseNotFoundError means no course id could be extracted from a raw
// link, neither by pattern match nor by rendering the page.
type CourseNotFoundError struct {
	Link string
}

func (e *CourseNotFoundError) Error() string {
	return fmt.Sprintf("no course id could be resolved from %q", e.Link)
}

// AmbiguousAssessmentError means a driver-based solve captured more than
// one answer-submission request where exactly one was expected.
type AmbiguousAssessmentError struct {
	QuizId  int64
	Matches []string
}

func (e *AmbiguousAssessmentError) Error() string {
	return fmt.Sprintf(
		"quiz %d: expected exactly one captured answer submission, got %d",
		e.QuizId, len(e.Matches),
	)
}
