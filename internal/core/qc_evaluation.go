package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// evaluateResults grades each submitted value against its test definition.
// The inspection passes only when every submitted result passes. Malformed
// input is an error rather than a failed result.
func evaluateResults(inspectionID int, tests map[int]TestDefinition, inputs []ResultInput) ([]InspectionResult, bool, error) {
	if len(inputs) == 0 {
		return nil, false, &InvalidInspectionError{InspectionID: inspectionID, Reason: "no results submitted"}
	}

	seen := make(map[int]bool, len(inputs))
	results := make([]InspectionResult, 0, len(inputs))
	passed := true
	for _, in := range inputs {
		def, ok := tests[in.TestID]
		if !ok {
			return nil, false, &InvalidInspectionError{InspectionID: inspectionID,
				Reason: fmt.Sprintf("test %d is not part of this inspection", in.TestID)}
		}
		if seen[in.TestID] {
			return nil, false, &InvalidInspectionError{InspectionID: inspectionID,
				Reason: fmt.Sprintf("test %d submitted more than once", in.TestID)}
		}
		seen[in.TestID] = true

		value := strings.TrimSpace(in.Value)
		ok, err := evaluateResult(def, value)
		if err != nil {
			return nil, false, &InvalidInspectionError{InspectionID: inspectionID, Reason: err.Error()}
		}
		results = append(results, InspectionResult{
			InspectionID: inspectionID,
			TestID:       def.ID,
			ResultValue:  value,
			Passed:       ok,
		})
		passed = passed && ok
	}
	return results, passed, nil
}

func evaluateResult(def TestDefinition, value string) (bool, error) {
	switch def.TestType {
	case TestPassFail:
		return strings.ToUpper(value) == "PASS", nil
	case TestNumeric:
		v, err := decimal.NewFromString(value)
		if err != nil {
			return false, fmt.Errorf("test %d (%s) expects a numeric value, got %q", def.ID, def.Name, value)
		}
		if def.MinValue != nil && v.LessThan(*def.MinValue) {
			return false, nil
		}
		if def.MaxValue != nil && v.GreaterThan(*def.MaxValue) {
			return false, nil
		}
		return true, nil
	default:
		return false, fmt.Errorf("test %d has unknown type %q", def.ID, def.TestType)
	}
}
