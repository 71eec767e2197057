package group

import (
	"testing"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var testCases = []struct {
		description string
		id          uint32
		proportion  int
		expectErr   bool
	}{
		{description: "valid", id: 3, proportion: 40},
		{description: "reserved id", id: None, proportion: 10, expectErr: true},
		{description: "proportion above range", id: 1, proportion: 101, expectErr: true},
		{description: "negative proportion", id: 1, proportion: -1, expectErr: true},
	}

	for _, testCase := range testCases {
		g, err := New(testCase.id, testCase.proportion, time.Now())
		if testCase.expectErr {
			assert.ErrorIs(t, err, errs.ErrInvalidArgument, testCase.description)
			continue
		}
		require.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.proportion, g.Proportion(), testCase.description)
		assert.NotNil(t, g.Meter(), testCase.description)
	}
}

func TestGroup_SetProportion(t *testing.T) {
	g, err := New(7, 0, time.Now())
	require.NoError(t, err)
	require.NoError(t, g.SetProportion(100))
	assert.Equal(t, 100, g.Proportion())
	assert.Error(t, g.SetProportion(200))
	assert.Equal(t, 100, g.Proportion())

	var nilGroup *Group
	assert.Nil(t, nilGroup.Meter())
}
