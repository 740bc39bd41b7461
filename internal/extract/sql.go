// Package extract isolates a SQL statement from free-text model output.
package extract

import (
	"regexp"
	"strings"
)

var (
	statementStart = regexp.MustCompile(`(?i)^\s*(SELECT|WITH|CREATE|INSERT|UPDATE|DELETE|PRAGMA)\s`)
	infoString     = regexp.MustCompile(`^[A-Za-z0-9_.+-]+$`)
	newlineRuns    = regexp.MustCompile(`[\n\r]+`)
	spaceRuns      = regexp.MustCompile(`\s{2,}`)
)

const fence = "```"

var keywords = map[string]bool{
	"SELECT": true, "WITH": true, "CREATE": true, "INSERT": true,
	"UPDATE": true, "DELETE": true, "PRAGMA": true,
}

// SQL returns the SQL statement found in a model response, normalized to a
// single line. It returns "" when nothing SQL-like is present.
//
// Priority: a ```sql fenced block, then the first fenced block of any kind,
// then the first blank-line-terminated run of lines that starts with a
// statement keyword.
func SQL(response string) string {
	var sql string
	switch {
	case strings.Contains(response, fence+"sql"):
		sql = between(response, fence+"sql")
	case strings.Contains(response, fence):
		sql = between(response, fence)
	default:
		sql = scanStatement(response)
	}
	return Normalize(sql)
}

// Normalize collapses newline runs into one space, then any run of two or
// more whitespace characters into one space, and trims the result.
func Normalize(sql string) string {
	sql = newlineRuns.ReplaceAllString(sql, " ")
	sql = spaceRuns.ReplaceAllString(sql, " ")
	return strings.TrimSpace(sql)
}

// between returns the text after the first opener up to the next fence.
// An unterminated block runs to the end of the response.
func between(response, opener string) string {
	_, rest, _ := strings.Cut(response, opener)
	body, _, _ := strings.Cut(rest, fence)
	return strings.TrimSpace(dropInfoString(body))
}

// dropInfoString removes what follows the opener on the fence line itself:
// a language tag such as "postgresql", or the "ite" of "```sqlite". Lines
// after the fence line are content and always kept.
func dropInfoString(body string) string {
	first, rest, multiline := strings.Cut(body, "\n")
	if !multiline {
		return body
	}
	tag := strings.TrimSpace(first)
	if tag == "" || (infoString.MatchString(tag) && !keywords[strings.ToUpper(tag)]) {
		return rest
	}
	return body
}

// scanStatement captures from the first keyword line to the first blank line.
func scanStatement(response string) string {
	var captured []string
	capturing := false

	for _, line := range strings.Split(response, "\n") {
		blank := strings.TrimSpace(line) == ""
		switch {
		case !capturing && statementStart.MatchString(line):
			capturing = true
			captured = append(captured, line)
		case capturing && !blank:
			captured = append(captured, line)
		case capturing && blank:
			return strings.TrimSpace(strings.Join(captured, "\n"))
		}
	}

	return strings.TrimSpace(strings.Join(captured, "\n"))
}
