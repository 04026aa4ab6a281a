package render

import "testing"

func TestFrequencyLabels(t *testing.T) {
	got := frequencyLabels(2437)
	want := [3]string{"2417 MHz", "2437 MHz", "2457 MHz"}

	if got != want {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
