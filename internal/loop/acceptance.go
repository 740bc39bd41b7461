package loop

import (
	"fmt"
	"regexp"
	"strings"
)

// Acceptance selects how validator responses are judged.
type Acceptance string

const (
	// AcceptWord requires ACCEPTED as a standalone word.
	AcceptWord Acceptance = "word"
	// AcceptSubstring accepts any occurrence of ACCEPTED, as older
	// deployments did.
	AcceptSubstring Acceptance = "substring"
)

var (
	acceptedWord = regexp.MustCompile(`\bACCEPTED\b`)
	negatedWord  = regexp.MustCompile(`\bNOT\s+ACCEPTED\b`)
)

// ParseAcceptance validates a configured mode name.
func ParseAcceptance(s string) (Acceptance, error) {
	switch Acceptance(strings.ToLower(strings.TrimSpace(s))) {
	case "", AcceptWord:
		return AcceptWord, nil
	case AcceptSubstring:
		return AcceptSubstring, nil
	default:
		return "", fmt.Errorf("unknown acceptance mode %q", s)
	}
}

// IsAccepted judges a validator response. Both modes reject responses
// containing NOT ACCEPTED or UNACCEPTED.
func IsAccepted(response string, mode Acceptance) bool {
	upper := strings.ToUpper(response)
	if strings.Contains(upper, "NOT ACCEPTED") || strings.Contains(upper, "UNACCEPTED") {
		return false
	}
	if mode == AcceptSubstring {
		return strings.Contains(upper, "ACCEPTED")
	}
	return acceptedWord.MatchString(upper) && !negatedWord.MatchString(upper)
}
