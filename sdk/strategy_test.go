// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sdk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScaleDirection_String(t *testing.T) {
	testCases := []struct {
		inputDirection       ScaleDirection
		expectedOutputString string
	}{
		{inputDirection: ScaleDirectionNone, expectedOutputString: "none"},
		{inputDirection: ScaleDirectionDown, expectedOutputString: "down"},
		{inputDirection: ScaleDirectionUp, expectedOutputString: "up"},
	}

	for _, tc := range testCases {
		t.Run(tc.expectedOutputString, func(t *testing.T) {
			actualOutput := tc.inputDirection.String()
			assert.Equal(t, tc.expectedOutputString, actualOutput, tc.expectedOutputString)
		})
	}
}

func TestDirectionFor(t *testing.T) {
	assert.Equal(t, ScaleDirectionUp, DirectionFor(1, 3))
	assert.Equal(t, ScaleDirectionDown, DirectionFor(3, 1))
	assert.Equal(t, ScaleDirectionNone, DirectionFor(2, 2))
}

func TestScalingDecision_CapCount(t *testing.T) {
	testCases := []struct {
		inputDecision          *ScalingDecision
		inputMin               int64
		inputMax               int64
		expectedOutputDecision *ScalingDecision
		name                   string
	}{
		{
			inputDecision:          &ScalingDecision{Count: 5, Reason: "scale"},
			inputMin:               1,
			inputMax:               10,
			expectedOutputDecision: &ScalingDecision{Count: 5, Reason: "scale"},
			name:                   "count within limits",
		},
		{
			inputDecision: &ScalingDecision{Count: 15, Reason: "scale"},
			inputMin:      1,
			inputMax:      10,
			expectedOutputDecision: &ScalingDecision{
				Count:         10,
				Reason:        "capped count from 15 to 10 to stay within limits",
				Capped:        true,
				OriginalCount: 15,
				ReasonHistory: []string{"scale"},
			},
			name: "count above maximum",
		},
		{
			inputDecision: &ScalingDecision{Count: 0},
			inputMin:      2,
			inputMax:      10,
			expectedOutputDecision: &ScalingDecision{
				Count:         2,
				Reason:        "capped count from 0 to 2 to stay within limits",
				Capped:        true,
				OriginalCount: 0,
			},
			name: "count below minimum without reason",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.inputDecision.CapCount(tc.inputMin, tc.inputMax)
			assert.Equal(t, tc.expectedOutputDecision, tc.inputDecision)
		})
	}
}
