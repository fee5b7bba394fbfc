package harness

import "strings"

// MethodOutput is the rendering of one method in a scenario run.
type MethodOutput struct {
	// Method is the "Type::Name" of the method.
	Method string `json:"method"`

	// Text is the method rendered with its signature.
	Text string `json:"text"`

	// ErrorCode is the decoding error code, empty when the method decoded.
	ErrorCode string `json:"error_code,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions hold.
	Pass bool `json:"pass"`

	// Methods holds the renderings in run order.
	Methods []MethodOutput `json:"methods"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Methods: []MethodOutput{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Method returns the output for a "Type::Name" method.
func (r *Result) Method(name string) (MethodOutput, bool) {
	for _, m := range r.Methods {
		if m.Method == name {
			return m, true
		}
	}
	return MethodOutput{}, false
}

// Render concatenates every method, each preceded by a "// Type::Name"
// header line. This is the golden file content.
func (r *Result) Render() string {
	var sb strings.Builder
	for i, m := range r.Methods {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("// ")
		sb.WriteString(m.Method)
		sb.WriteByte('\n')
		sb.WriteString(m.Text)
	}
	return sb.String()
}
