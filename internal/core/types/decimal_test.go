package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMulUnits_Exact(t *testing.T) {
	// 0.1 * 3 is the classic float trap
	got := MulUnits(MustMoney("0.10"), 3)
	assert.True(t, got.Equal(MustMoney("0.30")), "got %s", got)
}

func TestDivUnits(t *testing.T) {
	assert.True(t, DivUnits(MustMoney("120"), 20).Equal(MustMoney("6")))
	assert.True(t, DivUnits(MustMoney("20"), 3).Equal(MustMoney("6.6667")))
	assert.True(t, DivUnits(MustMoney("20"), 0).IsZero())
}

func TestRounding(t *testing.T) {
	assert.True(t, RoundMoney(MustMoney("1.005")).Equal(MustMoney("1.01")))
	assert.True(t, RoundUnitCost(MustMoney("6.66666")).Equal(MustMoney("6.6667")))
	assert.True(t, HasMoneyPrecision(MustMoney("5.25")))
	assert.False(t, HasMoneyPrecision(MustMoney("5.255")))
}
