package domain

import (
	"math"
	"strconv"
	"strings"
)

const (
	MonthSuccess    = "success_month"
	MonthCompliance = "compliance_month"
)

// Indicatable is the month a task reports against. It is either a SuccessMonth or a
// ComplianceMonth; both carry their parent indicator.
type Indicatable interface {
	MonthKind() string
	Month() IndicatorMonth
	Indicator() Indicator
	Target() *string
	Achieved(value string) bool
	isIndicatable()
}

type SuccessMonth struct {
	IndicatorMonth
	Parent Indicator
}

func (m SuccessMonth) MonthKind() string          { return MonthSuccess }
func (m SuccessMonth) Month() IndicatorMonth      { return m.IndicatorMonth }
func (m SuccessMonth) Indicator() Indicator       { return m.Parent }
func (m SuccessMonth) Target() *string            { return m.TargetValue }
func (m SuccessMonth) Achieved(value string) bool { return IsAchieved(m.Parent.ResponseFormat, m.Parent.AcceptanceValue, value) }
func (SuccessMonth) isIndicatable()               {}

type ComplianceMonth struct {
	IndicatorMonth
	Parent Indicator
}

func (m ComplianceMonth) MonthKind() string     { return MonthCompliance }
func (m ComplianceMonth) Month() IndicatorMonth { return m.IndicatorMonth }
func (m ComplianceMonth) Indicator() Indicator  { return m.Parent }

// Target is nil for "other" compliance indicators, which only open a collection window.
func (m ComplianceMonth) Target() *string {
	if m.Parent.ComplianceType == ComplianceOther {
		return nil
	}
	return m.TargetValue
}

func (m ComplianceMonth) Achieved(value string) bool {
	return IsAchieved(m.Parent.ResponseFormat, m.Parent.AcceptanceValue, value)
}
func (ComplianceMonth) isIndicatable() {}

// NewIndicatable builds the variant matching the indicator kind.
func NewIndicatable(month IndicatorMonth, ind Indicator) Indicatable {
	if ind.Kind == IndicatorCompliance {
		return ComplianceMonth{IndicatorMonth: month, Parent: ind}
	}
	return SuccessMonth{IndicatorMonth: month, Parent: ind}
}

// MonthKindFor maps an indicator kind to the month kind stored on tasks.
func MonthKindFor(indicatorKind string) string {
	if indicatorKind == IndicatorCompliance {
		return MonthCompliance
	}
	return MonthSuccess
}

// IsAchieved decides whether a submitted value meets the acceptance value.
//
// Booleans keep the stored string convention: the submitted value becomes "1" or "0"
// and is compared verbatim with the acceptance value.
func IsAchieved(format string, acceptance *string, value string) bool {
	if acceptance == nil {
		return true
	}
	switch format {
	case FormatBoolean:
		return normalizeBool(value) == *acceptance
	case FormatNumeric, FormatPercentage, FormatMonetary:
		got, ok := parseNumber(value)
		if !ok {
			return false
		}
		want, ok := parseNumber(*acceptance)
		if !ok {
			return false
		}
		return got >= want
	default:
		return value == *acceptance
	}
}

func normalizeBool(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return "1"
	default:
		return "0"
	}
}

func parseNumber(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	v = strings.TrimSuffix(v, "%")
	v = strings.ReplaceAll(v, ",", "")
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
