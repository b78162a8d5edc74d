// Package fn holds the generic Result and Stage types the engine pipelines
// are composed from.
package fn

// Result[T] is a value or an error.
type Result[T any] struct {
	val T
	err error
}

// Ok creates a successful Result.
func Ok[T any](v T) Result[T] { return Result[T]{val: v} }

// Err creates a failed Result. A nil err is still a failure so that stages
// cannot accidentally report success without a value.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = errNilErr
	}
	return Result[T]{err: err}
}

// IsOk reports success.
func (r Result[T]) IsOk() bool { return r.err == nil }

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// Error returns the failure, or nil.
func (r Result[T]) Error() error { return r.err }
