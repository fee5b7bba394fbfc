package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the method rendering to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Method   string
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Text     string // The method's rendering, if any
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s %s\n", e.Type, e.Method)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if e.Text != "" {
		fmt.Fprintf(&buf, "\nRendering:\n")
		for line := range strings.Lines(e.Text) {
			buf.WriteString("  | ")
			buf.WriteString(line)
		}
	}

	return buf.String()
}

func assertContains(m MethodOutput, a Assertion) error {
	if strings.Contains(m.Text, a.Text) {
		return nil
	}
	return &AssertionError{Type: a.Type, Method: a.Method,
		Expected: fmt.Sprintf("rendering contains %q", a.Text),
		Actual:   "not found",
		Text:     m.Text,
	}
}

func assertNotContains(m MethodOutput, a Assertion) error {
	if !strings.Contains(m.Text, a.Text) {
		return nil
	}
	return &AssertionError{Type: a.Type, Method: a.Method,
		Expected: fmt.Sprintf("rendering does not contain %q", a.Text),
		Actual:   "found",
		Text:     m.Text,
	}
}

func assertCount(m MethodOutput, a Assertion) error {
	n := strings.Count(m.Text, a.Text)
	if n == a.Count {
		return nil
	}
	return &AssertionError{Type: a.Type, Method: a.Method,
		Expected: fmt.Sprintf("%q occurs %d times", a.Text, a.Count),
		Actual:   fmt.Sprintf("%d times", n),
		Text:     m.Text,
	}
}

func assertDecodes(m MethodOutput, a Assertion) error {
	if m.ErrorCode == "" {
		return nil
	}
	return &AssertionError{Type: a.Type, Method: a.Method,
		Expected: "method decodes",
		Actual:   "failed with " + m.ErrorCode,
		Text:     m.Text,
	}
}

func assertFails(m MethodOutput, a Assertion) error {
	if m.ErrorCode == a.Code {
		return nil
	}
	actual := "decoded"
	if m.ErrorCode != "" {
		actual = "failed with " + m.ErrorCode
	}
	return &AssertionError{Type: a.Type, Method: a.Method,
		Expected: "failure " + a.Code,
		Actual:   actual,
		Text:     m.Text,
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		m, ok := result.Method(assertion.Method)
		if !ok {
			errors = append(errors, fmt.Sprintf("assertion[%d]: method %s was not decompiled", i, assertion.Method))
			continue
		}

		var err error
		switch assertion.Type {
		case AssertContains:
			err = assertContains(m, assertion)
		case AssertNotContains:
			err = assertNotContains(m, assertion)
		case AssertCount:
			err = assertCount(m, assertion)
		case AssertDecodes:
			err = assertDecodes(m, assertion)
		case AssertFails:
			err = assertFails(m, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
