package pdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLength(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"", 0, false},
		{"1in", 1, false},
		{"2.54cm", 1, false},
		{"25.4mm", 1, false},
		{"96px", 1, false},
		{"72pt", 1, false},
		{"48", 0.5, false},
		{" 1IN ", 1, false},
		{"-1cm", 0, true},
		{"abc", 0, true},
		{"cm", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLength(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestOptionsResolve_Defaults(t *testing.T) {
	l, err := Options{}.resolve()
	require.NoError(t, err)
	assert.Equal(t, 8.27, l.paperWidth)
	assert.Equal(t, 11.7, l.paperHeight)
	assert.InDelta(t, 1/2.54, l.marginTop, 1e-9)
	assert.InDelta(t, 1/2.54, l.marginLeft, 1e-9)
	assert.True(t, l.printBackground)
	assert.False(t, l.landscape)
	assert.Equal(t, 1.0, l.scale)
}

func TestOptionsResolve_Overrides(t *testing.T) {
	off := false
	l, err := Options{
		Format:          "Letter",
		PrintBackground: &off,
		Margin:          &Margin{Top: "1in"},
		Landscape:       true,
		Scale:           0.5,
	}.resolve()
	require.NoError(t, err)
	assert.Equal(t, 8.5, l.paperWidth)
	assert.Equal(t, 1.0, l.marginTop)
	assert.Zero(t, l.marginBottom, "unset sides of an explicit margin are zero")
	assert.False(t, l.printBackground)
	assert.True(t, l.landscape)
	assert.Equal(t, 0.5, l.scale)
}

func TestOptionsResolve_Errors(t *testing.T) {
	_, err := Options{Format: "B7"}.resolve()
	assert.ErrorContains(t, err, "unknown paper format")

	_, err = Options{Margin: &Margin{Top: "wide"}}.resolve()
	assert.Error(t, err)

	_, err = Options{Scale: 5}.resolve()
	assert.Error(t, err)
}
