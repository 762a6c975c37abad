package must

// Be panics when an invariant the program relies on does not hold. Use it
// only for conditions that indicate a programming error, never for input
// validation.
func Be(cond bool, invariant string) {
	if !cond {
		panic("broken invariant: " + invariant)
	}
}

// NilErr panics on an error from an operation that cannot fail at runtime,
// such as marshaling a statically known value.
func NilErr(err error) {
	if nil != err {
		panic("unexpected error: " + err.Error())
	}
}
