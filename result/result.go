package result

// Of carries either a value or an error across a channel, for flows that
// resolve asynchronously but exactly once.
type Of[T any] struct {
	v   *T
	err error
}

func Ok[T any](v *T) Of[T] {
	return Of[T]{v: v, err: nil}
}

func Err[T any](err error) Of[T] {
	return Of[T]{v: nil, err: err}
}

func (r Of[T]) Err() error {
	return r.err
}

// Unwrap returns the value of a successful result. Callers must check Err
// first; unwrapping a failed result panics.
func (r Of[T]) Unwrap() *T {
	if nil != r.err {
		panic("cannot unwrap a failed result: " + r.err.Error())
	}

	return r.v
}
