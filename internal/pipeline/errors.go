package pipeline

import (
	"context"
	"errors"
)

// Kind classifies why a run stopped.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindInvalidInput    Kind = "invalid_input"
	KindUpstreamFailure Kind = "upstream_failure"
	KindStorageFailure  Kind = "storage_failure"
	KindCanceled        Kind = "canceled"
)

const (
	MsgConversationNotFound = "Conversation not found"
	MsgNoImages             = "No images in conversation"
)

// Error is the tagged failure every run ends with when it does not complete.
// Message is what stream consumers and job pollers see, followed by the cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind carried by err, or KindUpstreamFailure for untagged errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindUpstreamFailure
}

func notFound(msg string) error     { return &Error{Kind: KindNotFound, Message: msg} }
func invalidInput(msg string) error { return &Error{Kind: KindInvalidInput, Message: msg} }

func upstream(msg string, err error) error {
	return &Error{Kind: KindUpstreamFailure, Message: msg, Err: err}
}

func storageFailure(msg string, err error) error {
	return &Error{Kind: KindStorageFailure, Message: msg, Err: err}
}

func checkCanceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindCanceled, Message: "run canceled", Err: err}
	}
	return nil
}

// stageErr tags err as storage or upstream unless the caller's context ended,
// in which case the run was abandoned rather than failed.
func stageErr(ctx context.Context, kindFn func(string, error) error, msg string, err error) error {
	if ctx.Err() != nil {
		return &Error{Kind: KindCanceled, Message: "run canceled", Err: ctx.Err()}
	}
	return kindFn(msg, err)
}
