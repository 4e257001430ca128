package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAmountForms(t *testing.T) {
	for _, raw := range []string{"¥1,540", "1,540円", "￥1540", "1540", "1,540"} {
		value, ok := NormalizeAmount(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, 1540, value, raw)
	}
}

func TestNormalizeAmountIdempotent(t *testing.T) {
	value, ok := NormalizeAmount("¥1,540円")
	assert.True(t, ok)

	again, ok := NormalizeAmount("1540")
	assert.True(t, ok)
	assert.Equal(t, value, again)
}

func TestNormalizeAmountRejectsNonNumeric(t *testing.T) {
	_, ok := NormalizeAmount("1,54O")
	assert.False(t, ok)

	_, ok = NormalizeAmount("")
	assert.False(t, ok)
}

func TestFindAmounts(t *testing.T) {
	matches := FindAmounts(NormalizeText("領収金額 ¥1,540"))
	assert.Len(t, matches, 1)
	assert.Equal(t, 1540, matches[0].Value)
	assert.True(t, matches[0].HasCurrency)

	matches = FindAmounts(NormalizeText("総点数 513点"))
	assert.Len(t, matches, 1)
	assert.Equal(t, 513, matches[0].Value)
	assert.False(t, matches[0].HasCurrency)
}

func TestNormalizeTextFoldsFullWidth(t *testing.T) {
	assert.Equal(t, "¥1,540", NormalizeText("￥１，５４０"))
	assert.Equal(t, "領収日 2026/02/22", NormalizeText("領収日　２０２６／０２／２２"))
}
