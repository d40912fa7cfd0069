package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortStepsIsStable(t *testing.T) {
	steps := []Step{
		{ID: "c", Order: 7},
		{ID: "a", Order: 1},
		{ID: "b1", Order: 3},
		{ID: "b2", Order: 3},
	}
	SortSteps(steps)

	var ids []string
	for _, s := range steps {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, ids)
}

func TestScriptSortedDoesNotMutate(t *testing.T) {
	sc := Script{Steps: []Step{{ID: "x", Order: 2}, {ID: "y", Order: 1}}}
	sorted := sc.Sorted()

	assert.Equal(t, "y", sorted[0].ID)
	assert.Equal(t, "x", sc.Steps[0].ID)
}

func TestStepValidate(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr bool
	}{
		{"goto", Step{Action: ActionGoto, Target: "https://x"}, false},
		{"goto without url", Step{Action: ActionGoto}, true},
		{"click", Step{Action: ActionClick, Target: "#b"}, false},
		{"click without target", Step{Action: ActionClick}, true},
		{"wait without target", Step{Action: ActionWait, Value: "200"}, false},
		{"screenshot", Step{Action: ActionScreenshot}, false},
		{"unknown", Step{Action: "drag", Target: "#a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScriptValidate(t *testing.T) {
	sc := Script{
		Name:   "login",
		Status: StatusActive,
		Steps: []Step{
			{Action: ActionGoto, Target: "https://x/login", Order: 1},
			{Action: ActionClick, Target: "#submit", Order: 2},
		},
	}
	require.NoError(t, sc.Validate())

	sc.Steps[1].Order = 1
	assert.ErrorContains(t, sc.Validate(), "duplicate order")

	sc.Steps[1].Order = 2
	sc.Status = "deleted"
	assert.Error(t, sc.Validate())

	assert.Error(t, Script{}.Validate())
}

func TestActionHelpers(t *testing.T) {
	assert.True(t, ActionHover.Valid())
	assert.False(t, Action("scroll").Valid())
	assert.True(t, ActionSelect.NeedsElement())
	assert.False(t, ActionWait.NeedsElement())
	assert.False(t, ActionGoto.NeedsElement())
}
