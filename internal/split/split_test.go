package split

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerPersonFull(t *testing.T) {
	got, err := PerPersonFull(1200, 12)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got)

	_, err = PerPersonFull(1200, 0)
	assert.ErrorIs(t, err, ErrInvalidGroupSize)
	_, err = PerPersonFull(1200, -3)
	assert.ErrorIs(t, err, ErrInvalidGroupSize)
	_, err = PerPersonFull(math.Inf(1), 3)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPerPersonInstallmentAddsInterest(t *testing.T) {
	full, err := PerPersonFull(1200, 12)
	require.NoError(t, err)

	plan, err := PerPersonInstallment(1200, 0.0599, 12, 12)
	require.NoError(t, err)
	assert.Greater(t, plan.PerPeriodPerPerson, full/12)
	assert.Greater(t, plan.PerPersonTotal, full)
	assert.InDelta(t, 1200*math.Pow(1+0.0599/12, 12), plan.TotalWithInterest, 1e-9)
	assert.InDelta(t, plan.PerPersonTotal/12, plan.PerPeriodPerPerson, 1e-12)
}

func TestPerPersonInstallmentZeroRate(t *testing.T) {
	plan, err := PerPersonInstallment(600, 0, 6, 10)
	require.NoError(t, err)
	assert.InDelta(t, 60, plan.PerPersonTotal, 1e-12)
	assert.InDelta(t, 10, plan.PerPeriodPerPerson, 1e-12)
}

func TestPerPersonInstallmentGuards(t *testing.T) {
	_, err := PerPersonInstallment(1200, 0.05, 0, 12)
	assert.ErrorIs(t, err, ErrInvalidPeriods)
	_, err = PerPersonInstallment(1200, 0.05, 12, 0)
	assert.ErrorIs(t, err, ErrInvalidGroupSize)
	_, err = PerPersonInstallment(1200, -0.05, 12, 12)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestComputeFull(t *testing.T) {
	budget, err := Compute(BudgetInput{
		GroupSize:   12,
		HouseTotal:  6000,
		RentalTotal: 1200,
		ExtraCost:   240,
		Method:      PayFull,
	})
	require.NoError(t, err)
	assert.Equal(t, 500.0, budget.HousePerPerson)
	assert.Equal(t, 100.0, budget.RentalPerPerson)
	assert.Equal(t, 20.0, budget.ExtraPerPerson)
	assert.Equal(t, 620.0, budget.TotalPerPerson)
	assert.Empty(t, budget.Schedule)
}

func TestComputeInstallments(t *testing.T) {
	budget, err := Compute(BudgetInput{
		GroupSize:  10,
		HouseTotal: 6000,
		Months:     6,
		AnnualRate: 0.07,
	})
	require.NoError(t, err)
	require.Len(t, budget.Schedule, 6)
	assert.Equal(t, "Month 1", budget.Schedule[0].Label)
	assert.Equal(t, RoundToCents(budget.MonthlyHousePerPerson), budget.Schedule[5].PerPerson)
	assert.InDelta(t, budget.MonthlyHousePerPerson, budget.TotalPerPerson, 1e-12)
	assert.Greater(t, budget.MonthlyHousePerPerson, 100.0)
}

func TestComputeRejectsBadInput(t *testing.T) {
	_, err := Compute(BudgetInput{GroupSize: 0, Method: PayFull})
	assert.ErrorIs(t, err, ErrInvalidGroupSize)

	_, err = Compute(BudgetInput{GroupSize: 4, Months: 0})
	assert.ErrorIs(t, err, ErrInvalidPeriods)

	_, err = Compute(BudgetInput{GroupSize: 4, Method: "barter"})
	assert.Error(t, err)
}

func TestRoundToCents(t *testing.T) {
	assert.Equal(t, 8.85, RoundToCents(8.846))
	assert.Equal(t, 0.01, RoundToCents(0.005))
}
