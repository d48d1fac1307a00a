// Package faults defines the structured error taxonomy shared by all
// workspaced components.
//
// Errors cross component boundaries as *Fault values carrying a category,
// a stable code, and the correlation id of the operation that produced
// them. Sentinel errors inside a package stay plain errors.New values;
// they are wrapped into a Fault at the operation boundary.
package faults

import (
	"errors"
	"fmt"
)

// Category groups error codes by handling policy.
type Category string

const (
	// CategoryValidation: surfaced to the caller, never recovered locally,
	// fatal to the operation that triggered them.
	CategoryValidation Category = "validation"

	// CategoryExternal: an out-of-process dependency failed. Retried with
	// bounded backoff in the adapters; search degrades when retries are
	// exhausted.
	CategoryExternal Category = "external"

	// CategoryIndexing: per-chunk / per-file failures. Recorded per project,
	// never propagated to the query path.
	CategoryIndexing Category = "indexing"

	// CategoryRequest: malformed caller input, returned immediately.
	CategoryRequest Category = "request"

	// CategoryResource: cancellation and deadlines, propagated intact.
	CategoryResource Category = "resource"

	// CategoryInternal: bugs. Isolated so one project's failure does not
	// fail the rest of a request.
	CategoryInternal Category = "internal"
)

// Code identifies one failure mode within a category.
type Code string

// Validation codes.
const (
	CodeInvalidWorkspaceVersion      Code = "invalid_workspace_version"
	CodeInvalidSchemaVersion         Code = "invalid_schema_version"
	CodeDuplicateProjectID           Code = "duplicate_project_id"
	CodeInvalidProjectID             Code = "invalid_project_id"
	CodeEmptyPath                    Code = "empty_path"
	CodePathNotFound                 Code = "path_not_found"
	CodeUnknownDependency            Code = "unknown_dependency"
	CodeSelfDependency               Code = "self_dependency"
	CodeCyclicDependency             Code = "cyclic_dependency"
	CodeUnknownRelationshipEndpoint  Code = "unknown_relationship_endpoint"
	CodeSelfRelationship             Code = "self_relationship"
	CodeUnknownRelationshipKind      Code = "unknown_relationship_kind"
	CodeInvalidWorkspaceValue        Code = "invalid_workspace_value"
	CodeDimensionMismatch            Code = "dimension_mismatch"
)

// External codes.
const (
	CodeVectorStoreUnavailable Code = "vector_store_unavailable"
	CodeEmbeddingUnavailable   Code = "embedding_unavailable"
	CodeCacheUnavailable       Code = "cache_unavailable"
	CodeSearchDegraded         Code = "search_degraded"
)

// Indexing codes.
const (
	CodeChunkEmbedFailed Code = "chunk_embed_failed"
	CodeUpsertFailed     Code = "upsert_failed"
	CodeFileUnreadable   Code = "file_unreadable"
	CodeFileTooLarge     Code = "file_too_large"
)

// Request codes.
const (
	CodeInvalidScope     Code = "invalid_scope"
	CodeMissingProjectID Code = "missing_project_id"
	CodeUnknownProject   Code = "unknown_project"
	CodeInvalidFilter    Code = "invalid_filter"
	CodeQueryTooLong     Code = "query_too_long"
	CodeQueryEmpty       Code = "query_empty"
	CodeInvalidLimit     Code = "invalid_limit"
)

// Resource codes.
const (
	CodeCancelled        Code = "cancelled"
	CodeDeadlineExceeded Code = "deadline_exceeded"
)

// Internal codes.
const (
	CodeBug Code = "bug"
)

// Fault is a structured error value.
type Fault struct {
	Category      Category
	Code          Code
	Message       string
	CorrelationID string
	Retryable     bool

	cause error
}

// New creates a Fault with no underlying cause.
func New(category Category, code Code, format string, args ...any) *Fault {
	return &Fault{
		Category:  category,
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: category == CategoryExternal,
	}
}

// Wrap creates a Fault around an underlying cause. A nil cause returns nil.
func Wrap(cause error, category Category, code Code, format string, args ...any) *Fault {
	if cause == nil {
		return nil
	}
	return &Fault{
		Category:  category,
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: category == CategoryExternal,
		cause:     cause,
	}
}

// Validation is shorthand for New(CategoryValidation, ...).
func Validation(code Code, format string, args ...any) *Fault {
	return New(CategoryValidation, code, format, args...)
}

// Request is shorthand for New(CategoryRequest, ...).
func Request(code Code, format string, args ...any) *Fault {
	return New(CategoryRequest, code, format, args...)
}

// Error implements error.
func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s/%s: %s: %v", f.Category, f.Code, f.Message, f.cause)
	}
	return fmt.Sprintf("%s/%s: %s", f.Category, f.Code, f.Message)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (f *Fault) Unwrap() error {
	return f.cause
}

// Is matches another Fault by code, so sentinel-style comparisons work:
//
//	errors.Is(err, &faults.Fault{Code: faults.CodeQueryEmpty})
func (f *Fault) Is(target error) bool {
	var t *Fault
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == "" || t.Code == f.Code
}

// WithCorrelation returns a copy tagged with the correlation id.
func (f *Fault) WithCorrelation(id string) *Fault {
	cp := *f
	cp.CorrelationID = id
	return &cp
}

// WithRetryable overrides the default retryability for the category.
func (f *Fault) WithRetryable(retryable bool) *Fault {
	cp := *f
	cp.Retryable = retryable
	return &cp
}

// CategoryOf returns the category of err, or CategoryInternal for
// unclassified errors. Context errors classify as CategoryResource.
func CategoryOf(err error) Category {
	var f *Fault
	if errors.As(err, &f) {
		return f.Category
	}
	if code, ok := resourceCode(err); ok {
		_ = code
		return CategoryResource
	}
	return CategoryInternal
}

// CodeOf returns the code of err, or CodeBug for unclassified errors.
func CodeOf(err error) Code {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	if code, ok := resourceCode(err); ok {
		return code
	}
	return CodeBug
}

// IsRetryable reports whether the error is worth retrying with backoff.
func IsRetryable(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Retryable
	}
	return IsTransient(err)
}

// ExitCode maps an error to the batch-operation exit status:
// 0 success, 2 validation or request error, 1 anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CategoryOf(err) {
	case CategoryValidation, CategoryRequest:
		return 2
	default:
		return 1
	}
}
