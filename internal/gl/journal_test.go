package gl

import (
	"errors"
	"testing"
)

func TestEntryValidate(t *testing.T) {
	tests := []struct {
		name    string
		lines   []Line
		wantErr bool
	}{
		{"balanced COGS entry", cogsLines("5000", "1400", 1600), false},
		{"single line", []Line{{AccountCode: "5000", Debit: 10}}, true},
		{"unbalanced", []Line{{AccountCode: "5000", Debit: 10}, {AccountCode: "1400", Credit: 9}}, true},
		{"both sides on one line", []Line{{AccountCode: "5000", Debit: 10, Credit: 10}, {AccountCode: "1400", Credit: 0, Debit: 0}}, true},
		{"negative amount", []Line{{AccountCode: "5000", Debit: -5}, {AccountCode: "1400", Credit: -5}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := entry{lines: tt.lines}.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEntryValidate_UnbalancedSentinel(t *testing.T) {
	err := entry{lines: []Line{{AccountCode: "5000", Debit: 10}, {AccountCode: "1400", Credit: 9}}}.validate()
	if !errors.Is(err, ErrUnbalanced) {
		t.Errorf("expected ErrUnbalanced, got %v", err)
	}
}

func TestCOGSLines(t *testing.T) {
	lines := cogsLines("5000", "1400", 555)
	if lines[0].AccountCode != "5000" || lines[0].Debit != 555 || lines[0].Credit != 0 {
		t.Errorf("expected COGS debit of 555, got %+v", lines[0])
	}
	if lines[1].AccountCode != "1400" || lines[1].Credit != 555 || lines[1].Debit != 0 {
		t.Errorf("expected inventory credit of 555, got %+v", lines[1])
	}
}

func TestAccountBalanceMajor(t *testing.T) {
	b := AccountBalance{Balance: 123456}
	if got := b.Major().StringFixed(2); got != "1234.56" {
		t.Errorf("expected 1234.56, got %s", got)
	}
}
