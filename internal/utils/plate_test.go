package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePlate(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"22BH6517A", "22BH6517A"},
		{"22 bh-6517.a", "22BH6517A"},
		{"  mh 12 ab 1234  ", "MH12AB1234"},
		{"!!--..", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizePlate(tc.in), "input %q", tc.in)
	}
}
