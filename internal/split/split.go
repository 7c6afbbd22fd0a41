// Package split distributes shared costs across the group.
package split

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidGroupSize = errors.New("group size must be positive")
	ErrInvalidPeriods   = errors.New("number of periods must be positive")
	ErrInvalidAmount    = errors.New("amounts must be finite and non-negative")
)

// PerPersonFull is total divided evenly across groupSize people.
func PerPersonFull(total float64, groupSize int) (float64, error) {
	if groupSize <= 0 {
		return 0, ErrInvalidGroupSize
	}
	if !validAmount(total) {
		return 0, ErrInvalidAmount
	}
	return total / float64(groupSize), nil
}

// Installment is a per-person view of paying total over several monthly
// periods with compound interest.
type Installment struct {
	Periods            int     `json:"periods"`
	TotalWithInterest  float64 `json:"totalWithInterest"`
	PerPersonTotal     float64 `json:"perPersonTotal"`
	PerPeriodPerPerson float64 `json:"perPeriodPerPerson"`
}

// PerPersonInstallment grows total by (1 + annualRate/12)^numPeriods and
// splits it by period and person.
func PerPersonInstallment(total, annualRate float64, numPeriods, groupSize int) (Installment, error) {
	if groupSize <= 0 {
		return Installment{}, ErrInvalidGroupSize
	}
	if numPeriods <= 0 {
		return Installment{}, ErrInvalidPeriods
	}
	if !validAmount(total) || !validAmount(annualRate) {
		return Installment{}, ErrInvalidAmount
	}

	grown := total * math.Pow(1+annualRate/12, float64(numPeriods))
	perPerson := grown / float64(groupSize)
	return Installment{
		Periods:            numPeriods,
		TotalWithInterest:  grown,
		PerPersonTotal:     perPerson,
		PerPeriodPerPerson: perPerson / float64(numPeriods),
	}, nil
}

// RoundToCents rounds half away from zero to two decimals.
func RoundToCents(amount float64) float64 {
	return math.Round(amount*100) / 100
}

func validAmount(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// PayMethod selects how the house cost is paid.
type PayMethod string

const (
	PayFull         PayMethod = "full"
	PayInstallments PayMethod = "installments"
)

// BudgetInput mirrors the fields of the budget planner.
type BudgetInput struct {
	GroupSize   int       `json:"groupSize"`
	HouseTotal  float64   `json:"houseTotal"`
	RentalTotal float64   `json:"rentalTotal"`
	ExtraCost   float64   `json:"extraCost"`
	Method      PayMethod `json:"payMethod"`
	Months      int       `json:"months"`
	AnnualRate  float64   `json:"annualRate"`
}

// MonthlyPayment is one row of the installment schedule.
type MonthlyPayment struct {
	Label     string  `json:"label"`
	PerPerson float64 `json:"perPerson"`
}

// Budget is the per-person breakdown of a BudgetInput.
type Budget struct {
	Input                 BudgetInput      `json:"input"`
	HousePerPerson        float64          `json:"housePerPerson"`
	MonthlyHousePerPerson float64          `json:"monthlyHousePerPerson"`
	RentalPerPerson       float64          `json:"rentalPerPerson"`
	ExtraPerPerson        float64          `json:"extraPerPerson"`
	TotalPerPerson        float64          `json:"totalPerPerson"`
	Schedule              []MonthlyPayment `json:"schedule"`
}

// Compute produces the budget breakdown. With installments the total per
// person covers one month of house cost plus the one-off rental and extras.
func Compute(in BudgetInput) (Budget, error) {
	if in.Method == "" {
		in.Method = PayInstallments
	}

	rental, err := PerPersonFull(in.RentalTotal, in.GroupSize)
	if err != nil {
		return Budget{}, fmt.Errorf("rental: %w", err)
	}
	extra, err := PerPersonFull(in.ExtraCost, in.GroupSize)
	if err != nil {
		return Budget{}, fmt.Errorf("extra: %w", err)
	}

	out := Budget{
		Input:           in,
		RentalPerPerson: rental,
		ExtraPerPerson:  extra,
		Schedule:        []MonthlyPayment{},
	}

	switch in.Method {
	case PayFull:
		house, err := PerPersonFull(in.HouseTotal, in.GroupSize)
		if err != nil {
			return Budget{}, fmt.Errorf("house: %w", err)
		}
		out.HousePerPerson = house
		out.TotalPerPerson = house + rental + extra
	case PayInstallments:
		plan, err := PerPersonInstallment(in.HouseTotal, in.AnnualRate, in.Months, in.GroupSize)
		if err != nil {
			return Budget{}, fmt.Errorf("house: %w", err)
		}
		out.HousePerPerson = plan.PerPersonTotal
		out.MonthlyHousePerPerson = plan.PerPeriodPerPerson
		out.TotalPerPerson = plan.PerPeriodPerPerson + rental + extra
		for i := 0; i < plan.Periods; i++ {
			out.Schedule = append(out.Schedule, MonthlyPayment{
				Label:     fmt.Sprintf("Month %d", i+1),
				PerPerson: RoundToCents(plan.PerPeriodPerPerson),
			})
		}
	default:
		return Budget{}, fmt.Errorf("unknown pay method %q", in.Method)
	}
	return out, nil
}
