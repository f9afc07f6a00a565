package policy

import "strings"

// tierWeights gives each tier a total-order weight, step 100, IRON lowest.
var tierWeights = map[string]int{
	"IRON":        0,
	"BRONZE":      100,
	"SILVER":      200,
	"GOLD":        300,
	"PLATINUM":    400,
	"EMERALD":     500,
	"DIAMOND":     600,
	"MASTER":      700,
	"GRANDMASTER": 800,
	"CHALLENGER":  900,
}

// divisionWeights gives each division a weight within a tier. Division is
// ignored (treated as 0) for MASTER and above.
var divisionWeights = map[string]int{
	"IV":  0,
	"III": 25,
	"II":  50,
	"I":   75,
}

// divisionless tiers: division never contributes to rank value.
var divisionlessTiers = map[string]struct{}{
	"MASTER":      {},
	"GRANDMASTER": {},
	"CHALLENGER":  {},
}

// rankValue computes a total-order value for (tier, division). ok is false
// if tier is not recognized.
func rankValue(tier, division string) (value int, ok bool) {
	tier = strings.ToUpper(tier)
	weight, known := tierWeights[tier]
	if !known {
		return 0, false
	}
	if _, divisionless := divisionlessTiers[tier]; divisionless {
		return weight, true
	}
	return weight + divisionWeights[strings.ToUpper(division)], true
}

// MeetsMinimum reports whether (userTier, userDivision) is at least as high
// as (minTier, minDivision). If either tier is unrecognized, it returns
// true (fail-open): a malformed rank record must never cause a timeout.
func MeetsMinimum(userTier, userDivision, minTier, minDivision string) bool {
	userValue, userOK := rankValue(userTier, userDivision)
	minValue, minOK := rankValue(minTier, minDivision)
	if !userOK || !minOK {
		return true
	}
	return userValue >= minValue
}

// IsDivisionless reports whether tier is MASTER or above, where division
// is forced to "I" rather than user-chosen.
func IsDivisionless(tier string) bool {
	_, ok := divisionlessTiers[strings.ToUpper(tier)]
	return ok
}

// KnownTier reports whether tier is a recognized rank name.
func KnownTier(tier string) bool {
	_, ok := tierWeights[strings.ToUpper(tier)]
	return ok
}

// KnownDivision reports whether division is one of the four roman-numeral
// divisions.
func KnownDivision(division string) bool {
	_, ok := divisionWeights[strings.ToUpper(division)]
	return ok
}
