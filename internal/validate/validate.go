// Package validate checks extracted entities before they're persisted,
// using struct tags the way the corpus validates its own auth and
// notification request bodies. API request payloads are not validated
// here.
package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/relaydocs/ingestor/internal/ocr"
)

// ExtractedRecord is the struct-tagged shape entities are mapped into
// before validation. OCR providers return loose key/value fields; this is
// the minimal structural contract the runner requires before persisting.
type ExtractedRecord struct {
	DocumentType string            `validate:"required"`
	Fields       map[string]string `validate:"required,min=1"`
}

// Error wraps validator.ValidationErrors with a short, user-facing message
// suitable for embedding in a lifecycle event.
type Error struct {
	Message string
	cause   error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.cause }

// Validator deduplicates and validates entities extracted by an
// ocr.Provider before they're handed to the file metadata store.
type Validator struct {
	v *validator.Validate
}

// New constructs a Validator.
func New() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks ent against the structural contract and returns a
// deduplicated field map. Duplicate keys differing only by surrounding
// whitespace collapse to the first occurrence.
func (val *Validator) Validate(ent ocr.Entities) (ExtractedRecord, error) {
	docType := ent.Fields["Document Type"]
	if docType == "" {
		docType = "unknown"
	}

	deduped := make(map[string]string, len(ent.Fields))
	for k, v := range ent.Fields {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		if _, exists := deduped[key]; exists {
			continue
		}
		deduped[key] = strings.TrimSpace(v)
	}

	rec := ExtractedRecord{DocumentType: docType, Fields: deduped}
	if err := val.v.Struct(rec); err != nil {
		return ExtractedRecord{}, &Error{
			Message: fmt.Sprintf("validation failed: %s", summarize(err)),
			cause:   err,
		}
	}
	return rec, nil
}

func summarize(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
