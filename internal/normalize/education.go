package normalize

import "regexp"

// EducationLevel is an ordinal degree scale. Higher values dominate lower
// ones for requirement comparison; EducationUnknown means no degree was
// recognized (for jobs, no requirement).
type EducationLevel int

const (
	EducationUnknown    EducationLevel = 0
	EducationHighSchool EducationLevel = 1
	EducationDiploma    EducationLevel = 2
	EducationAssociate  EducationLevel = 3
	EducationBachelor   EducationLevel = 4
	EducationMaster     EducationLevel = 5
	EducationDoctorate  EducationLevel = 6
)

// String returns the level name.
func (l EducationLevel) String() string {
	switch l {
	case EducationHighSchool:
		return "high school"
	case EducationDiploma:
		return "diploma"
	case EducationAssociate:
		return "associate"
	case EducationBachelor:
		return "bachelor"
	case EducationMaster:
		return "master"
	case EducationDoctorate:
		return "doctorate"
	default:
		return "unknown"
	}
}

// degreePatterns are tried in order and the first match wins. Mostly highest
// level first, except high school precedes diploma so "high school diploma"
// lands on the school level rather than the certificate level.
var degreePatterns = []struct {
	level   EducationLevel
	pattern *regexp.Regexp
}{
	{EducationDoctorate, regexp.MustCompile(`(?i)\b(?:ph\.?\s?d|d\.?phil|doctorate|doctor\s+of\s+philosophy)\b`)},
	{EducationMaster, regexp.MustCompile(`(?i)\b(?:master(?:'?s)?|m\.?b\.?a|m\.?s\.?c?|m\.?a|m\.?eng|m\.?ed)\b`)},
	{EducationBachelor, regexp.MustCompile(`(?i)\b(?:bachelor(?:'?s)?|b\.?s\.?c?|b\.?a|b\.?e(?:ng)?|b\.?tech)\b`)},
	{EducationAssociate, regexp.MustCompile(`(?i)\b(?:associate(?:'?s)?|a\.?s|a\.?a)\b`)},
	{EducationHighSchool, regexp.MustCompile(`(?i)\b(?:high\s*school|secondary\s*school|ged)\b`)},
	{EducationDiploma, regexp.MustCompile(`(?i)\b(?:diploma|certificate|certification)\b`)},
}

// ParseEducationLevel parses free-form degree text ("MSc Computer Science",
// "Bachelor of Arts") onto the ordinal scale. Unrecognized or empty text
// yields EducationUnknown.
func ParseEducationLevel(s string) EducationLevel {
	if s == "" {
		return EducationUnknown
	}
	for _, dp := range degreePatterns {
		if dp.pattern.MatchString(s) {
			return dp.level
		}
	}
	return EducationUnknown
}
