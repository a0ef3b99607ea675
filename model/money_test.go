package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "whole", input: "1000", want: 100000},
		{name: "two places", input: "25.00", want: 2500},
		{name: "half rounds up", input: "0.005", want: 1},
		{name: "below half rounds down", input: "0.0049", want: 0},
		{name: "negative half rounds up", input: "-0.005", want: 0},
		{name: "float drift free", input: "0.29", want: 29},
		{name: "padded", input: " 99.99 ", want: 9999},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "abc", wantErr: true},
		{name: "overflow", input: "1e30", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1000.00", FormatAmount(100000))
	assert.Equal(t, "0.01", FormatAmount(1))
	assert.Equal(t, "-25.50", FormatAmount(-2550))
}

func TestRates(t *testing.T) {
	rate, err := ParseRate("1.23455")
	assert.NoError(t, err)
	assert.Equal(t, int64(12346), rate)
	assert.Equal(t, "1.2346", FormatRate(rate))

	converted, err := ConvertAmount(10000, rate)
	assert.NoError(t, err)
	assert.Equal(t, int64(12346), converted)

	converted, err = ConvertAmount(1, 5000)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), converted, "0.5 minor units rounds half-up")
}
