// Package fields pulls structured identity fields out of normalized OCR text.
//
// Every pattern keeps only its first (leftmost) match. Cards that print a
// field twice, or print a second candidate before the real one, yield the
// first candidate. Absence is reported as nil and is never an error.
package fields

import (
	"regexp"
	"strings"
)

// Field names as they appear in validation reports.
const (
	Name       = "name"
	RollNumber = "roll_number"
	Year       = "year"
	Course     = "course"
	Branch     = "branch"
)

var (
	rollRe   = regexp.MustCompile(`(?i)roll\s*no\.?\s*[:\-]?\s*([\w\-]+)`)
	yearRe   = regexp.MustCompile(`(?i)(first|second|third|fourth)\s+year`)
	courseRe = regexp.MustCompile(`(?i)\b(btech|b\.tech|mtech|m\.tech|mba|bsc|msc)\b`)
	branchRe = regexp.MustCompile(`(?i)\b(cse|ece|eee|mech|civil|it|ai\s*ml|ds|cs|ce|eie|aids)\b`)
	// 2-5 alphabetic words after a name label, stopping before the first
	// following label or at end of text.
	nameRe = regexp.MustCompile(`(?i)name\s*[:\-]?\s*([a-z]+(?:\s+[a-z]+){1,4}?)(?:\s+(?:roll\s*no|age|dob|gender|address|phone|email)|$)`)
)

// Extraction holds the optional fields found in one card's text.
type Extraction struct {
	Name       *string `json:"name_extracted"`
	RollNumber *string `json:"roll_number"`
	Year       *string `json:"year"`
	Course     *string `json:"course"`
	Branch     *string `json:"branch"`
}

// Parse extracts every field independently from lower-cased,
// whitespace-collapsed text.
func Parse(text string) Extraction {
	var ex Extraction
	if m := nameRe.FindStringSubmatch(text); m != nil {
		ex.Name = ptr(strings.TrimSpace(m[1]))
	}
	if m := rollRe.FindStringSubmatch(text); m != nil {
		ex.RollNumber = ptr(m[1])
	}
	if m := yearRe.FindString(text); m != "" {
		ex.Year = ptr(m)
	}
	if m := courseRe.FindString(text); m != "" {
		ex.Course = ptr(m)
	}
	if m := branchRe.FindString(text); m != "" {
		ex.Branch = ptr(strings.ToUpper(m))
	}
	return ex
}

// Map returns the extraction keyed by field name, with nil for absent fields.
func (e Extraction) Map() map[string]*string {
	return map[string]*string{
		Name:       e.Name,
		RollNumber: e.RollNumber,
		Year:       e.Year,
		Course:     e.Course,
		Branch:     e.Branch,
	}
}

// Found counts the fields that matched.
func (e Extraction) Found() int {
	n := 0
	for _, v := range e.Map() {
		if v != nil {
			n++
		}
	}
	return n
}

// UserIDMatch reports whether the requester id occurs verbatim, ignoring
// case, in the normalized text.
func UserIDMatch(text, userID string) bool {
	return strings.Contains(text, strings.ToLower(userID))
}

func ptr(s string) *string { return &s }
