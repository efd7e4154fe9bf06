package joints

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorClamp(t *testing.T) {
	tests := []struct {
		name     string
		in       Vector
		expected Vector
	}{
		{
			name:     "home is untouched",
			in:       Home,
			expected: Home,
		},
		{
			name:     "every axis above its limit",
			in:       Vector{183, 170, 200, 181, 999, 90},
			expected: Vector{180, 165, 180, 180, 180, 73},
		},
		{
			name:     "every axis below its limit",
			in:       Vector{-12, 0, -1, -90, -5, -1},
			expected: Vector{0, 15, 0, 0, 0, 0},
		},
		{
			name:     "boundaries are inclusive",
			in:       Vector{0, 15, 180, 0, 180, 73},
			expected: Vector{0, 15, 180, 0, 180, 73},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Clamp()
			assert.Equal(t, tt.expected, got)
			assert.True(t, got.Valid())
		})
	}
}

func TestVectorClampDoesNotMutate(t *testing.T) {
	v := Vector{200, 0, 0, 0, 0, 0}
	_ = v.Clamp()
	assert.Equal(t, 200, v[Base])
}

func TestVectorValid(t *testing.T) {
	assert.True(t, Home.Valid())
	assert.False(t, Home.With(Shoulder, 14).Valid())
	assert.False(t, Home.With(Gripper, 74).Valid())
}

func TestClampSpeed(t *testing.T) {
	assert.Equal(t, 1, ClampSpeed(0))
	assert.Equal(t, 1, ClampSpeed(-40))
	assert.Equal(t, 100, ClampSpeed(100))
	assert.Equal(t, 255, ClampSpeed(256))
}

func TestCommandEncode(t *testing.T) {
	cmd := Command{Angles: Home, Speed: 100}
	assert.Equal(t, "P0,90,90,90,90,72,100\n", cmd.Encode())
}

func TestAxisName(t *testing.T) {
	assert.Equal(t, "base", AxisName(Base))
	assert.Equal(t, "wrist_rotation", AxisName(WristRotation))
	assert.Equal(t, "axis_9", AxisName(9))
}

func TestDegreesRadians(t *testing.T) {
	assert.InDelta(t, math.Pi/2, DegreesToRadians(90), 1e-12)
	assert.InDelta(t, 45.0, RadiansToDegrees(math.Pi/4), 1e-12)
}
