package entities

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	InfoSeed                  = "Seed"
	InfoVariationSeed         = "Variation seed"
	InfoVariationSeedStrength = "Variation seed strength"
)

var infoParamRegex = regexp.MustCompile(`\s*(\w[\w \-/]+):\s*("(?:\\.|[^\\"])+"|[^,]*)(?:,|$)`)

// ParseInfoParams reads the "Key: value, Key: value" parameter line of a
// WebUI infotext. The parameters are always on the last line; the prompt and
// negative prompt precede it.
func ParseInfoParams(info string) map[string]string {
	params := make(map[string]string)

	info = strings.TrimSpace(info)
	if info == "" {
		return params
	}

	lines := strings.Split(info, "\n")
	last := lines[len(lines)-1]

	for _, match := range infoParamRegex.FindAllStringSubmatch(last, -1) {
		key := strings.TrimSpace(match[1])
		value := strings.TrimSpace(match[2])

		if strings.HasPrefix(value, `"`) {
			if unquoted, err := strconv.Unquote(value); err == nil {
				value = unquoted
			}
		}

		params[key] = value
	}

	return params
}

// SeedParams is the seed triple recovered from an infotext.
type SeedParams struct {
	Seed            int64
	Subseed         int64
	SubseedStrength float64
}

// ParseSeedParams recovers the seed, variation seed and variation strength.
// Missing or malformed values fall back to random seeds and zero strength.
func ParseSeedParams(info string) SeedParams {
	params := ParseInfoParams(info)

	result := SeedParams{
		Seed:    RandomSeed,
		Subseed: RandomSeed,
	}

	if seed, err := strconv.ParseInt(params[InfoSeed], 10, 64); err == nil {
		result.Seed = seed
	}

	if subseed, err := strconv.ParseInt(params[InfoVariationSeed], 10, 64); err == nil {
		result.Subseed = subseed
	}

	if strength, err := strconv.ParseFloat(params[InfoVariationSeedStrength], 64); err == nil {
		result.SubseedStrength = strength
	}

	return result
}
