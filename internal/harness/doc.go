// Package harness runs decompilation scenarios.
//
// A scenario compiles a CUE assembly fixture, decompiles some or all of its
// methods through the driver and checks the rendered output.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: counting_iterator
//	description: "What this scenario validates"
//	assembly: ../fixtures/iterator.cue
//	methods: [T::Count]            # optional; default every method with a body
//	options:
//	  until: find-loops            # optional pipeline step
//	  no_yield: false
//	golden: true                   # compare the rendering with testdata/golden
//	assertions:
//	  - type: contains
//	    method: T::Count
//	    text: "yield return i;"
//	  - type: fails
//	    method: T::Broken
//	    code: STACK_UNDERFLOW
//
// # Assertion Types
//
//   - contains: the method's rendered body contains text
//   - not_contains: the method's rendered body does not contain text
//   - count: text occurs exactly count times in the method's body
//   - decodes: the method decoded without error
//   - fails: the method failed with the given decoding error code
//
// # Deterministic Testing
//
// Every run uses a fixed run id (the scenario name) and no cache, so the same
// scenario always renders byte-identical output for golden comparison.
package harness
