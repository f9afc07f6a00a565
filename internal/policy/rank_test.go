package policy

import "testing"

func TestMeetsMinimum(t *testing.T) {
	tests := []struct {
		name                       string
		userTier, userDivision     string
		minTier, minDivision       string
		want                       bool
	}{
		{"same tier higher division", "GOLD", "I", "GOLD", "III", true},
		{"same tier lower division", "GOLD", "IV", "GOLD", "I", false},
		{"higher tier beats any division", "PLATINUM", "IV", "GOLD", "I", true},
		{"lower tier fails regardless of division", "SILVER", "I", "GOLD", "IV", false},
		{"exact match passes", "DIAMOND", "II", "DIAMOND", "II", true},
		{"divisionless tiers ignore division", "MASTER", "IV", "MASTER", "I", true},
		{"grandmaster beats master", "GRANDMASTER", "IV", "MASTER", "I", true},
		{"unknown user tier fails open", "UNRANKED", "I", "GOLD", "I", true},
		{"unknown min tier fails open", "GOLD", "I", "NOTATIER", "I", true},
		{"case insensitive", "gold", "i", "gold", "iii", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MeetsMinimum(tt.userTier, tt.userDivision, tt.minTier, tt.minDivision)
			if got != tt.want {
				t.Errorf("MeetsMinimum(%q,%q,%q,%q) = %v, want %v",
					tt.userTier, tt.userDivision, tt.minTier, tt.minDivision, got, tt.want)
			}
		})
	}
}

func TestIsDivisionless(t *testing.T) {
	tests := []struct {
		tier string
		want bool
	}{
		{"MASTER", true},
		{"GRANDMASTER", true},
		{"CHALLENGER", true},
		{"challenger", true},
		{"DIAMOND", false},
		{"IRON", false},
		{"NOTATIER", false},
	}
	for _, tt := range tests {
		if got := IsDivisionless(tt.tier); got != tt.want {
			t.Errorf("IsDivisionless(%q) = %v, want %v", tt.tier, got, tt.want)
		}
	}
}

func TestKnownTierAndDivision(t *testing.T) {
	if !KnownTier("gold") {
		t.Error("expected gold to be a known tier")
	}
	if KnownTier("nonsense") {
		t.Error("expected nonsense to be an unknown tier")
	}
	if !KnownDivision("iii") {
		t.Error("expected iii to be a known division")
	}
	if KnownDivision("V") {
		t.Error("expected V to be an unknown division")
	}
}
