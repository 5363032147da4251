package ocr

import (
	"regexp"
	"strings"
)

var (
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reBoxNoise   = regexp.MustCompile(`^[_\-=|.]{3,}$`)
)

// NormalizeWord cleans one recognized token. It returns "" for tokens that are
// only rule lines or box borders.
func NormalizeWord(s string) string {
	s = strings.TrimSpace(reTabs.ReplaceAllString(s, " "))
	if reBoxNoise.MatchString(s) {
		return ""
	}
	return s
}

// NormalizeLine collapses runs of spaces inside a line.
func NormalizeLine(s string) string {
	return strings.TrimSpace(reMultiSpace.ReplaceAllString(s, " "))
}
