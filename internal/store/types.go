package store

// Run is one batch decompilation.
type Run struct {
	// ID is a UUIDv7 assigned by the driver.
	ID string

	// Options are the options the run was started with, as plain JSON
	// values (string, bool, int64).
	Options map[string]any

	Methods  int
	Failures int
	Cached   int
	Finished bool
}

// Result is one cached method rendering.
type Result struct {
	MethodHash string
	OptionsKey string
	Method     string
	Body       string

	// ErrorCode and ErrorMessage are empty when the method decoded.
	ErrorCode    string
	ErrorMessage string

	// RunID is the run that first produced this result.
	RunID string
}

// Failed reports whether the cached rendering is a failure placeholder.
func (r Result) Failed() bool { return r.ErrorCode != "" }

// RunMethod is one method decompiled by a run, in run order.
type RunMethod struct {
	Seq       int64
	FromCache bool
	Result    Result
}
