package domain

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrVideoNotFound     = errors.New("video not found")
	ErrValidation        = errors.New("invalid request")
	ErrInvalidTransition = errors.New("invalid job transition")

	ErrGeneration = errors.New("script generation failed")
	ErrProvider   = errors.New("image collection failed")
	ErrSynthesis  = errors.New("speech synthesis failed")
	ErrEncoding   = errors.New("video encoding failed")
)

// ValidationError rejects a request before any job exists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type NotFoundError struct {
	ID JobID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrJobNotFound
}

// PipelineError is a collaborator failure tagged with the stage it occurred in.
// It matches the stage's sentinel (ErrGeneration, ErrProvider, ErrSynthesis,
// ErrEncoding) under errors.Is.
type PipelineError struct {
	Stage   Stage
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) Is(target error) bool {
	kind := stageSentinel(e.Stage)
	return kind != nil && target == kind
}

func stageSentinel(stage Stage) error {
	switch stage {
	case StageScript:
		return ErrGeneration
	case StageImages:
		return ErrProvider
	case StageAudio:
		return ErrSynthesis
	case StageVideo:
		return ErrEncoding
	}
	return nil
}

func NewGenerationError(message string, err error) error {
	return &PipelineError{Stage: StageScript, Message: message, Err: err}
}

func NewProviderError(message string, err error) error {
	return &PipelineError{Stage: StageImages, Message: message, Err: err}
}

func NewSynthesisError(message string, err error) error {
	return &PipelineError{Stage: StageAudio, Message: message, Err: err}
}

func NewEncodingError(message string, err error) error {
	return &PipelineError{Stage: StageVideo, Message: message, Err: err}
}

// AsPipelineError tags err with stage unless it already carries a stage.
func AsPipelineError(stage Stage, err error) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	message := "stage failed"
	if kind := stageSentinel(stage); kind != nil {
		message = kind.Error()
	}
	return &PipelineError{Stage: stage, Message: message, Err: err}
}
