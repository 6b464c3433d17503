package engine

import (
	"errors"
	"fmt"

	"readyline/internal/repo"
)

// NotFoundError reports a missing questionnaire, interview, response,
// company role or other referenced record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e NotFoundError) Unwrap() error { return repo.ErrNotFound }

// ValidationError is a rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// InvalidConfigurationError means part answers cannot be scored because the
// question's part scoring is missing or does not know the part.
type InvalidConfigurationError struct {
	QuestionID string
	PartID     string
	Reason     string
}

func (e InvalidConfigurationError) Error() string {
	if e.PartID != "" {
		return fmt.Sprintf("question %s part %s: %s", e.QuestionID, e.PartID, e.Reason)
	}
	return fmt.Sprintf("question %s: %s", e.QuestionID, e.Reason)
}

// CreationError is returned when interview creation failed part way. Rows
// written before the failure have already been removed.
type CreationError struct {
	InterviewID string
	Step        string
	Err         error
}

func (e CreationError) Error() string {
	return fmt.Sprintf("create interview %s failed at %s: %v", e.InterviewID, e.Step, e.Err)
}

func (e CreationError) Unwrap() error { return e.Err }

// notFound converts a repo miss into a NotFoundError and passes other
// errors through.
func notFound(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return NotFoundError{Kind: kind, ID: id}
	}
	return err
}
