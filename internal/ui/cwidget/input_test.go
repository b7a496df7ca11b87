package cwidget

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePositiveInt(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", 30, false},
		{"60", 60, false},
		{"0", 30, true},
		{"-5", 30, true},
		{"abc", 30, true},
	}
	for _, tt := range tests {
		got, err := parsePositiveInt(tt.in, 30)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.wantErr, err != nil, tt.in)
	}
}

func TestParseNonNegativeFloat(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"", 4, false},
		{"2.5", 2.5, false},
		{"0", 0, false},
		{"-1", 4, true},
		{"px", 4, true},
	}
	for _, tt := range tests {
		got, err := parseNonNegativeFloat(tt.in, 4)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.wantErr, err != nil, tt.in)
	}
}
