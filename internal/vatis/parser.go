package vatis

import (
	"regexp"
	"strings"
)

var (
	markerPattern = regexp.MustCompile(`(?i)IDS:`)
	tokenPattern  = regexp.MustCompile(`^([A-Z])([0-9]{1,2}[LRC]?)$`)
)

// approachTypes maps arrival type letters to their display prefix
var approachTypes = map[string]string{
	"V": "VIS",
	"A": "RNAV",
	"I": "ILS",
	"O": "VOR",
}

// departureType marks a departure runway token
const departureType = "D"

// Runways is the runway configuration carried by an IDS-compatible profile
type Runways struct {
	Dep string
	Arr string
}

// ParseProfile extracts the runway configuration from a vATIS config
// profile such as "KPHX West IDS:D25R.I26.V25L". The second result is false
// when the profile has no IDS: marker.
//
// Tokens that do not match a known type letter followed by a runway
// designator are skipped.
func ParseProfile(profile string) (Runways, bool) {
	rwys, _, ok := parse(profile)
	return rwys, ok
}

func parse(profile string) (Runways, int, bool) {
	loc := markerPattern.FindStringIndex(profile)
	if loc == nil {
		return Runways{}, 0, false
	}

	var dep, arr []string
	skipped := 0

	for _, token := range strings.Split(profile[loc[1]:], ".") {
		m := tokenPattern.FindStringSubmatch(strings.TrimSpace(token))
		if m == nil {
			skipped++
			continue
		}

		typ, runway := m[1], m[2]
		if typ == departureType {
			dep = append(dep, runway)
			continue
		}

		prefix, ok := approachTypes[typ]
		if !ok {
			skipped++
			continue
		}
		arr = append(arr, prefix+" "+runway)
	}

	return Runways{
		Dep: strings.Join(dep, ", "),
		Arr: strings.Join(arr, ", "),
	}, skipped, true
}
