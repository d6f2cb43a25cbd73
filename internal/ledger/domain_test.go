package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeNetIdentity(t *testing.T) {
	calc, _ := Compute(Inputs{
		GrossEarnings: dec("1000"),
		OtherIncome:   dec("50"),
		FuelExpenses:  dec("200"),
		Instances: []ExpenseInstance{
			{ID: 1, Amount: dec("100"), Priority: PriorityDefault},
		},
	})

	require.True(t, calc.NetPayment.Equal(dec("750")))
	require.True(t, calc.TotalDeductions.Equal(dec("100")))
	require.False(t, calc.HasNegativeBalance)

	identity := calc.GrossEarnings.Add(calc.OtherIncome).Sub(calc.FuelExpenses).Sub(calc.TotalDeductions)
	require.True(t, calc.NetPayment.Equal(identity))
}

func TestComputeEmptyInputs(t *testing.T) {
	calc, instances := Compute(Inputs{
		GrossEarnings: decimal.Zero,
		OtherIncome:   decimal.Zero,
		FuelExpenses:  decimal.Zero,
	})
	require.True(t, calc.NetPayment.IsZero())
	require.False(t, calc.HasNegativeBalance)
	require.Empty(t, instances)
}

func TestComputeCriticalAppliesUnconditionally(t *testing.T) {
	calc, instances := Compute(Inputs{
		GrossEarnings: dec("100"),
		Instances: []ExpenseInstance{
			{ID: 1, Amount: dec("400"), Priority: PriorityCritical, IsCritical: true},
		},
	})

	require.Equal(t, InstanceApplied, instances[0].Status)
	require.True(t, calc.NetPayment.Equal(dec("-300")))
	require.True(t, calc.HasNegativeBalance)
}

func TestComputeDefersWhenNetWouldGoNegative(t *testing.T) {
	calc, instances := Compute(Inputs{
		GrossEarnings: dec("500"),
		Instances: []ExpenseInstance{
			{ID: 1, Amount: dec("300"), Priority: 3},
			{ID: 2, Amount: dec("300"), Priority: 5},
			{ID: 3, Amount: dec("150"), Priority: 7},
		},
	})

	// 300 applies (net 200), 300 defers, 150 applies (net 50).
	require.Equal(t, InstanceApplied, instances[0].Status)
	require.Equal(t, InstanceDeferred, instances[1].Status)
	require.Equal(t, InstanceApplied, instances[2].Status)
	require.True(t, calc.TotalDeductions.Equal(dec("450")))
	require.True(t, calc.NetPayment.Equal(dec("50")))
}

func TestComputeOrdersByPriorityThenID(t *testing.T) {
	_, instances := Compute(Inputs{
		GrossEarnings: dec("100"),
		Instances: []ExpenseInstance{
			{ID: 9, Amount: dec("60"), Priority: 5},
			{ID: 2, Amount: dec("60"), Priority: 5},
			{ID: 5, Amount: dec("60"), Priority: 2},
		},
	})

	// Priority 2 wins, then the lower id at priority 5; the budget is spent
	// before id 9's turn.
	byID := map[int64]InstanceStatus{}
	for _, in := range instances {
		byID[in.ID] = in.Status
	}
	require.Equal(t, InstanceApplied, byID[5])
	require.Equal(t, InstanceDeferred, byID[2])
	require.Equal(t, InstanceDeferred, byID[9])
}

func TestComputeCriticalConsumesBudgetFirst(t *testing.T) {
	calc, instances := Compute(Inputs{
		GrossEarnings: dec("500"),
		Instances: []ExpenseInstance{
			{ID: 1, Amount: dec("200"), Priority: 2},
			{ID: 2, Amount: dec("400"), Priority: PriorityCritical, IsCritical: true},
		},
	})

	byID := map[int64]InstanceStatus{}
	for _, in := range instances {
		byID[in.ID] = in.Status
	}
	// The critical 400 leaves only 100; the non-critical 200 defers.
	require.Equal(t, InstanceApplied, byID[2])
	require.Equal(t, InstanceDeferred, byID[1])
	require.True(t, calc.NetPayment.Equal(dec("100")))
}

func TestComputeExactZeroNetApplies(t *testing.T) {
	calc, instances := Compute(Inputs{
		GrossEarnings: dec("100"),
		Instances: []ExpenseInstance{
			{ID: 1, Amount: dec("100"), Priority: 5},
		},
	})
	require.Equal(t, InstanceApplied, instances[0].Status)
	require.True(t, calc.NetPayment.IsZero())
	require.False(t, calc.HasNegativeBalance)
}

func TestComputeDoesNotMutateInput(t *testing.T) {
	in := []ExpenseInstance{
		{ID: 2, Amount: dec("10"), Priority: 5, Status: InstancePlanned},
		{ID: 1, Amount: dec("10"), Priority: 1, Status: InstancePlanned},
	}
	Compute(Inputs{GrossEarnings: dec("100"), Instances: in})

	require.Equal(t, int64(2), in[0].ID)
	require.Equal(t, InstancePlanned, in[0].Status)
}

func TestParseElementKind(t *testing.T) {
	for _, kind := range []string{"load", "fuel_expense", "expense_instance", "other_income"} {
		_, err := ParseElementKind(kind)
		require.NoError(t, err)
	}
	_, err := ParseElementKind("bonus")
	require.Error(t, err)
}
