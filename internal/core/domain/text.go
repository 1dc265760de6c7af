package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	horizontalSpaceRun = regexp.MustCompile(`[ \t]+`)
	blankLineRun       = regexp.MustCompile(`\n{3,}`)
)

// CleanText collapses runs of spaces/tabs and limits blank lines to one.
func CleanText(text string) string {
	text = strings.TrimSpace(text)
	text = horizontalSpaceRun.ReplaceAllString(text, " ")
	text = blankLineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Truncate trims s and cuts it to at most n runes, ending with "..." when cut.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	keep := n - 3
	if keep < 0 {
		keep = 0
	}
	return string([]rune(s)[:keep]) + "..."
}

// Head returns the first n runes of s without a marker.
func Head(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Cap cuts s to n runes and appends "..." after the kept prefix when cut.
func Cap(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return Head(s, n) + "..."
}
