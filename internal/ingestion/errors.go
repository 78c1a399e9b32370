package ingestion

import (
	"errors"
	"net/http"
)

// Class is the category of a rejected upload.
type Class string

const (
	ClassFormat   Class = "format"
	ClassSize     Class = "size"
	ClassEncoding Class = "encoding"
	ClassHeader   Class = "header"
)

// HTTPStatus maps a rejection class to the status the transport returns.
func (c Class) HTTPStatus() int {
	if c == ClassSize {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

var (
	ErrFormat    = errors.New("format error")
	ErrSizeLimit = errors.New("size limit error")
	ErrEncoding  = errors.New("encoding error")
	ErrHeader    = errors.New("header error")
	// ErrStorage marks infrastructure failures while persisting an accepted upload.
	ErrStorage = errors.New("storage fault")
)

var classErrors = map[Class]error{
	ClassFormat:   ErrFormat,
	ClassSize:     ErrSizeLimit,
	ClassEncoding: ErrEncoding,
	ClassHeader:   ErrHeader,
}

// RejectionError is returned when an upload fails a validation gate. Reason
// is safe to show to the uploader.
type RejectionError struct {
	Class  Class
	Reason string
}

func (e *RejectionError) Error() string {
	return e.Reason
}

// Is lets errors.Is match a rejection against its class sentinel.
func (e *RejectionError) Is(target error) bool {
	return classErrors[e.Class] == target
}

func reject(class Class, reason string) *RejectionError {
	return &RejectionError{Class: class, Reason: reason}
}
