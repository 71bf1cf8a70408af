package audit

import "testing"

func TestCostChecker_ExceedsThreshold(t *testing.T) {
	cc := NewCostChecker(nil)

	tests := []struct {
		name       string
		cumulative float64
		threshold  float64
		want       bool
	}{
		{"cost exceeds threshold", 15.0, 10.0, true},
		{"cost equals threshold", 10.0, 10.0, false},
		{"cost below threshold", 5.0, 10.0, false},
		{"zero cost", 0.0, 10.0, false},
		{"very small excess", 10.001, 10.0, true},
		{"large cost", 1000.0, 100.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cc.Check(tt.cumulative, tt.threshold)
			if got != tt.want {
				t.Errorf("Check(%f, %f) = %v, want %v", tt.cumulative, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestCostChecker_ZeroThreshold(t *testing.T) {
	cc := NewCostChecker(nil)
	if cc.Check(100.0, 0) {
		t.Error("Check with threshold=0 should return false (disabled)")
	}
}

func TestCostChecker_NegativeThreshold(t *testing.T) {
	cc := NewCostChecker(nil)
	if cc.Check(100.0, -5.0) {
		t.Error("Check with negative threshold should return false")
	}
}

func TestCostChecker_ZeroCost(t *testing.T) {
	cc := NewCostChecker(nil)
	if cc.Check(0, 10.0) {
		t.Error("Check with zero cost should return false")
	}
}
