package taxid

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidNIP(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"5213017228", true},
		{"5213017229", false},
		{"521-301-72-28", true},
		{"PL 521 301 72 28", true},
		{"7740001454", true},
		{"1234563218", true},
		{"1234563219", false},
		{"", false},
		{"521301722", false},
		{"52130172281", false},
		{"abcdefghij", false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidNIP(tc.in))
		})
	}
}

func TestValidNIPMatchesWeightedSum(t *testing.T) {
	weights := []int{6, 5, 7, 2, 3, 4, 5, 6, 7}
	for prefix := 100000000; prefix < 100000000+2000; prefix++ {
		p := fmt.Sprintf("%09d", prefix)
		sum := 0
		for i, w := range weights {
			sum += int(p[i]-'0') * w
		}
		for last := 0; last <= 9; last++ {
			id := fmt.Sprintf("%s%d", p, last)
			assert.Equal(t, sum%11 == last, ValidNIP(id), id)
		}
	}
}

func TestCheckDigit(t *testing.T) {
	assert.Equal(t, 8, CheckDigit("521301722"))
	assert.Equal(t, -1, CheckDigit("12345"))

	for prefix := 200000000; prefix < 200000500; prefix++ {
		p := fmt.Sprintf("%09d", prefix)
		d := CheckDigit(p)
		if d < 0 {
			continue
		}
		assert.True(t, ValidNIP(fmt.Sprintf("%s%d", p, d)))
	}
}
