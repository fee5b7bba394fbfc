package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStepRoundTrip(t *testing.T) {
	for _, s := range Steps() {
		got, err := ParseStep(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestParseStepUnknown(t *testing.T) {
	_, err := ParseStep("unroll-loops")
	assert.ErrorContains(t, err, "unknown pipeline step")
}

func TestStepsInOrder(t *testing.T) {
	steps := Steps()
	require.Len(t, steps, int(stepEnd)-1)
	assert.Equal(t, StepRemoveRedundantCode, steps[0])
	assert.Equal(t, StepTypeInference2, steps[len(steps)-1])
	assert.Equal(t, "step(99)", Step(99).String())
}

func TestOptionsRuns(t *testing.T) {
	assert.True(t, Options{}.runs(StepTypeInference2))
	o := Options{Until: StepFindLoops}
	assert.True(t, o.runs(StepFindLoops))
	assert.False(t, o.runs(StepFindConditions))
}
