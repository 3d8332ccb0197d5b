// Package normalize cleans clinical narratives so that a speech engine reads them
// the way a clinician would say them aloud.
//
// The pipeline is deterministic: the same input and options always produce the
// same output, which keeps resumed batch runs consistent with earlier ones.
package normalize

import (
	"regexp"
	"strings"
)

// Regex patterns for narrative cleaning. Digits and blanks are matched by
// Unicode class so that no-break spaces between a value and its unit count.
const (
	parenthesesRegexPattern   = `\([^)]*\)`
	bloodPressureRegexPattern = `(\p{Nd}+)/(\p{Nd}+)[\s\p{Zs}]*mmHg`
	millilitersRegexPattern   = `(\p{Nd}+)[\s\p{Zs}]*(mL|ml)`
	mercuryRegexPattern       = `(\p{Nd}+)[\s\p{Zs}]*(mmHg)`
	microgramsRegexPattern    = `(\p{Nd}+)[\s\p{Zs}]*μg/L`
	spaceRunRegexPattern      = ` +`
	newlineRunRegexPattern    = `\n+`
	newlineBoundaryPattern    = `[\s\p{Zs}]*\n[\s\p{Zs}]*`
	whitespaceRunRegexPattern = `[\s\p{Zs}]+`
	bloodPressureReplacement  = "a systolic blood pressure of ${1} millimeters of mercury " +
		"and a diastolic blood pressure of ${2} millimeters of mercury"
)

// Fixed phrases removed or rewritten by the pipeline.
const (
	acronymICH          = "ICH"
	acronymICHExpansion = "intracerebral hemorrhage"
	salutationCurly     = "Dear [Patient’s Name],"
	salutationStraight  = "Dear [Patient's Name],"
	sourceAHAASA        = "AHA/ASA"
	sourceAHA           = "AHA"
)

// Options toggles the optional pipeline stages.
type Options struct {
	// ExpandAcronyms spells out ICH.
	ExpandAcronyms bool
	// StripNewlines folds the cleaned text onto a single line.
	StripNewlines bool
}

// DefaultOptions matches the behavior of a batch run without extra flags.
func DefaultOptions() Options {
	return Options{ExpandAcronyms: true, StripNewlines: false}
}

type unitRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Normalizer holds the precompiled patterns of the cleaning pipeline.
// It is safe for concurrent use.
type Normalizer struct {
	parenthesesPattern   *regexp.Regexp
	bloodPressurePattern *regexp.Regexp
	spaceRunPattern      *regexp.Regexp
	newlineRunPattern    *regexp.Regexp
	newlineBoundary      *regexp.Regexp
	whitespaceRunPattern *regexp.Regexp
	unitRules            []unitRule
	noiseReplacer        *strings.Replacer
}

// boilerplate is removed phrase by phrase, in order, so a removal can expose a
// later phrase. AHA/ASA must come before AHA.
var boilerplate = []string{salutationCurly, salutationStraight, sourceAHAASA, sourceAHA}

// New creates a Normalizer with compiled patterns and replacers.
func New() *Normalizer {
	return &Normalizer{
		parenthesesPattern:   regexp.MustCompile(parenthesesRegexPattern),
		bloodPressurePattern: regexp.MustCompile(bloodPressureRegexPattern),
		spaceRunPattern:      regexp.MustCompile(spaceRunRegexPattern),
		newlineRunPattern:    regexp.MustCompile(newlineRunRegexPattern),
		newlineBoundary:      regexp.MustCompile(newlineBoundaryPattern),
		whitespaceRunPattern: regexp.MustCompile(whitespaceRunRegexPattern),
		unitRules: []unitRule{
			{regexp.MustCompile(millilitersRegexPattern), "${1} milliliters"},
			{regexp.MustCompile(mercuryRegexPattern), "${1} millimeters of mercury"},
			{regexp.MustCompile(microgramsRegexPattern), "${1} micrograms per liter"},
		},
		noiseReplacer: strings.NewReplacer("*", "", "-", "", "#", ""),
	}
}

// Clean runs the full pipeline over a narrative.
func (n *Normalizer) Clean(text string, opts Options) string {
	cleaned := n.noiseReplacer.Replace(text)
	for _, phrase := range boilerplate {
		cleaned = strings.ReplaceAll(cleaned, phrase, "")
	}

	cleaned = n.parenthesesPattern.ReplaceAllString(cleaned, "")
	cleaned = n.ConvertUnits(cleaned)

	if opts.ExpandAcronyms {
		cleaned = strings.ReplaceAll(cleaned, acronymICH, acronymICHExpansion)
	}

	cleaned = n.normalizeWhitespace(cleaned)

	if opts.StripNewlines {
		cleaned = n.StripNewlines(cleaned)
	}

	return cleaned
}

// ConvertUnits spells out blood pressure readings and measurement units.
// Blood pressure pairs are handled first so their mmHg suffix is not consumed
// by the single-value rule.
func (n *Normalizer) ConvertUnits(text string) string {
	text = n.bloodPressurePattern.ReplaceAllString(text, bloodPressureReplacement)

	for _, rule := range n.unitRules {
		text = rule.pattern.ReplaceAllString(text, rule.replacement)
	}

	return text
}

// StripNewlines folds line breaks and whitespace runs into single spaces.
func (n *Normalizer) StripNewlines(text string) string {
	text = n.newlineBoundary.ReplaceAllString(text, " ")
	text = n.whitespaceRunPattern.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}

func (n *Normalizer) normalizeWhitespace(text string) string {
	text = n.spaceRunPattern.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	return n.newlineRunPattern.ReplaceAllString(text, "\n")
}
