package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")
	ErrBatchInProgress  = errors.New("batch in progress")

	ErrOCRTransport = errors.New("ocr transport error")
	ErrOCRBackend   = errors.New("ocr backend error")
	ErrOCRProtocol  = errors.New("ocr protocol error")
	ErrExtraction   = errors.New("extraction error")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// OCRError is the single failure returned by one recognition call.
// Message is what ends up on the document; Err keeps the underlying cause.
type OCRError struct {
	Kind    error
	Message string
	Err     error
}

func NewTransportError(message string, cause error) *OCRError {
	return &OCRError{Kind: ErrOCRTransport, Message: message, Err: cause}
}

func NewBackendError(message string) *OCRError {
	return &OCRError{Kind: ErrOCRBackend, Message: message}
}

func NewProtocolError(message string, cause error) *OCRError {
	return &OCRError{Kind: ErrOCRProtocol, Message: message, Err: cause}
}

func (e *OCRError) Error() string {
	if e == nil {
		return "ocr error"
	}
	return e.Message
}

func (e *OCRError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
