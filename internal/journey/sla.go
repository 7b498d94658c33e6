package journey

import (
	"strings"
	"time"
)

// Base SLA hours per priority. Estimated completion is base * regional
// multiplier from the derived region.
//
//	URGENT    24h
//	EXPRESS   72h
//	STANDARD 168h
const (
	slaUrgentHours   = 24
	slaExpressHours  = 72
	slaStandardHours = 168
)

// Regional multipliers applied to the base SLA.
var regionMultiplier = map[string]float64{
	"metro":    1.0,
	"regional": 1.5,
	"remote":   2.0,
}

// metro centers recognized in free-form addresses. Anything mentioning one of
// these is metro; anything flagged rural/island/outback is remote; the rest is
// regional.
var metroMarkers = []string{
	"sydney", "melbourne", "brisbane", "perth", "adelaide", "canberra",
}

var remoteMarkers = []string{"rural", "remote", "island", "outback"}

// DeriveRegion classifies a free-form address into metro/regional/remote.
func DeriveRegion(address string) string {
	a := strings.ToLower(address)
	for _, m := range metroMarkers {
		if strings.Contains(a, m) {
			return "metro"
		}
	}
	for _, m := range remoteMarkers {
		if strings.Contains(a, m) {
			return "remote"
		}
	}
	return "regional"
}

// EstimateSLA returns the expected creation-to-delivery duration for a
// priority within a region.
func EstimateSLA(p Priority, region string) time.Duration {
	var base float64
	switch p {
	case PriorityUrgent:
		base = slaUrgentHours
	case PriorityExpress:
		base = slaExpressHours
	default:
		base = slaStandardHours
	}
	mult, ok := regionMultiplier[region]
	if !ok {
		mult = regionMultiplier["regional"]
	}
	return time.Duration(base * mult * float64(time.Hour))
}
