package ingestion

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/your-org/datasetingest/pkg/storage/versioned"
)

const (
	reasonWrongType     = "Only .csv files are allowed"
	reasonNoDataset     = "Filename must contain a dataset name"
	reasonNotUTF8       = "File must be UTF-8 encoded"
	reasonNoHeader      = "CSV file must have a header row"
	reasonInvalidHeader = "CSV file must have a valid header row"
)

var reasonNameTooLong = fmt.Sprintf("Filename must not exceed %d characters", versioned.MaxNameBytes)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Validated is an upload that passed every gate.
type Validated struct {
	Dataset string
	Data    []byte
}

type gate func(v *Validator, req UploadRequest, out *Validated) *RejectionError

// gates run in this order and stop at the first failure.
var gates = []gate{
	(*Validator).checkExtension,
	(*Validator).checkSize,
	(*Validator).checkEncoding,
	(*Validator).checkHeader,
}

// Validator decides whether an upload may be stored. It has no side effects.
type Validator struct {
	maxSizeBytes int64
	sizeReason   string
}

// NewValidator returns a Validator rejecting uploads above maxSizeBytes.
func NewValidator(maxSizeBytes int64) *Validator {
	return &Validator{
		maxSizeBytes: maxSizeBytes,
		sizeReason:   fmt.Sprintf("File size exceeds maximum allowed size of %s", humanize.IBytes(uint64(maxSizeBytes))),
	}
}

// MaxSizeBytes is the size gate limit.
func (v *Validator) MaxSizeBytes() int64 {
	return v.maxSizeBytes
}

// Validate runs the gates against req. The error is always a *RejectionError.
func (v *Validator) Validate(req UploadRequest) (*Validated, error) {
	out := &Validated{Data: req.Data}
	for _, g := range gates {
		if rej := g(v, req, out); rej != nil {
			return nil, rej
		}
	}
	return out, nil
}

// SizeRejection is the rejection the size gate produces. The transport uses
// it when a body is cut off before it reaches the validator.
func (v *Validator) SizeRejection() *RejectionError {
	return reject(ClassSize, v.sizeReason)
}

func (v *Validator) checkExtension(req UploadRequest, out *Validated) *RejectionError {
	if !strings.HasSuffix(strings.ToLower(req.Filename), versioned.Extension) {
		return reject(ClassFormat, reasonWrongType)
	}
	dataset, err := versioned.DatasetName(req.Filename)
	switch {
	case errors.Is(err, versioned.ErrNameTooLong):
		return reject(ClassFormat, reasonNameTooLong)
	case errors.Is(err, versioned.ErrInvalidDataset):
		return reject(ClassFormat, reasonNoDataset)
	}
	out.Dataset = dataset
	return nil
}

func (v *Validator) checkSize(req UploadRequest, _ *Validated) *RejectionError {
	if int64(len(req.Data)) > v.maxSizeBytes || req.ContentLengthHint > v.maxSizeBytes {
		return v.SizeRejection()
	}
	return nil
}

func (v *Validator) checkEncoding(req UploadRequest, _ *Validated) *RejectionError {
	if !utf8.Valid(req.Data) {
		return reject(ClassEncoding, reasonNotUTF8)
	}
	return nil
}

func (v *Validator) checkHeader(req UploadRequest, _ *Validated) *RejectionError {
	line, _, _ := bytes.Cut(bytes.TrimPrefix(req.Data, utf8BOM), []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(bytes.TrimSpace(line)) == 0 {
		return reject(ClassHeader, reasonNoHeader)
	}

	r := csv.NewReader(bytes.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	fields, err := r.Read()
	if err != nil {
		return reject(ClassHeader, reasonInvalidHeader)
	}
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return nil
		}
	}
	return reject(ClassHeader, reasonInvalidHeader)
}
