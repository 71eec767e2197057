package task

import (
	"testing"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/service/session"
	"github.com/stretchr/testify/assert"
)

func TestTask_Slices(t *testing.T) {
	assert.Equal(t, 1, (&Task{}).Slices())
	assert.Equal(t, 4, (&Task{SliceTotal: 4}).Slices())

	var testCases = []struct {
		description string
		payload     int
		sliceSize   int
		expect      int
	}{
		{description: "unsliced backend", payload: 100, sliceSize: 0, expect: 1},
		{description: "exact multiple", payload: 64, sliceSize: 16, expect: 4},
		{description: "remainder", payload: 65, sliceSize: 16, expect: 5},
		{description: "empty payload", payload: 0, sliceSize: 16, expect: 1},
	}
	for _, testCase := range testCases {
		assert.Equal(t, testCase.expect, SliceCount(testCase.payload, testCase.sliceSize), testCase.description)
	}
}

func TestTask_Level(t *testing.T) {
	assert.Equal(t, 2, (&Task{Priority: 2}).Level(4))
	assert.Equal(t, 3, (&Task{Priority: 9}).Level(4))
}

func TestTask_Result(t *testing.T) {
	owner := session.New("s1", session.DefaultConfig(), time.Now(), nil)
	task := &Task{ID: "t1", Owner: owner, HardwareID: 0x105, Priority: 1, GroupID: 2, Payload: []byte{1}}
	assert.True(t, task.OwnerAlive())
	assert.Equal(t, "s1", task.SessionID())

	ok := task.Result(0, 0, nil)
	assert.NoError(t, ok.Err)
	assert.EqualValues(t, 0x105, ok.HardwareID)

	failed := task.Result(1, 7, nil)
	assert.ErrorIs(t, failed.Err, errs.ErrHardware)
	assert.EqualValues(t, 7, failed.HWError)
	assert.Equal(t, 1, failed.Core)

	task.Clear()
	assert.Nil(t, task.Payload)

	owner.Close()
	assert.False(t, task.OwnerAlive())
	assert.False(t, (&Task{}).OwnerAlive())
}
