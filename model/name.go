package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/unicode/norm"
)

// honorifics maps known title prefixes (lowercased, trailing dot stripped)
// to an optional gender hint.
var honorifics = map[string]*Gender{
	"mr":        genderPtr(GenderMale),
	"mrs":       genderPtr(GenderFemale),
	"ms":        genderPtr(GenderFemale),
	"miss":      genderPtr(GenderFemale),
	"m":         genderPtr(GenderMale),
	"mme":       genderPtr(GenderFemale),
	"mlle":      genderPtr(GenderFemale),
	"herr":      genderPtr(GenderMale),
	"frau":      genderPtr(GenderFemale),
	"dr":        nil,
	"prof":      nil,
	"professor": nil,
	"doctor":    nil,
	"docteur":   nil,
	"maitre":    nil,
	"me":        nil,
}

func genderPtr(g Gender) *Gender {
	return &g
}

// NormalizeName folds a surface form for matching: NFC normalization,
// diacritic removal, case folding and whitespace collapsing. Hyphens are
// kept so compound name units stay atomic.
func NormalizeName(text string) string {
	decomposed := norm.NFD.String(text)
	stripped := runes.Remove(runes.In(unicode.Mn)).String(decomposed)
	folded := strings.ToLower(norm.NFC.String(stripped))
	return strings.Join(strings.Fields(folded), " ")
}

// StripHonorific removes a single leading title from a normalized name and
// returns the remainder plus the gender hint the title carries, if any.
func StripHonorific(normalized string) (string, *Gender) {
	fields := strings.Fields(normalized)
	if len(fields) < 2 {
		return normalized, nil
	}
	first := strings.TrimSuffix(fields[0], ".")
	gender, known := honorifics[first]
	if !known {
		return normalized, nil
	}
	return strings.Join(fields[1:], " "), gender
}

// NameParts is the compositional decomposition of a PERSON full name.
// The last whitespace separated token is the last name, everything before
// it joins into one first name unit. Hyphenated tokens are atomic.
type NameParts struct {
	First string
	Last  string
}

// SplitName decomposes a name into its first and last components.
// A single token yields an empty First, meaning a standalone component.
func SplitName(name string) NameParts {
	fields := strings.Fields(strings.TrimSpace(name))
	switch len(fields) {
	case 0:
		return NameParts{}
	case 1:
		return NameParts{Last: fields[0]}
	default:
		return NameParts{
			First: strings.Join(fields[:len(fields)-1], " "),
			Last:  fields[len(fields)-1],
		}
	}
}

// IsFullName reports whether both components are present.
func (p NameParts) IsFullName() bool {
	return p.First != "" && p.Last != ""
}
