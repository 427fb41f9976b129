package validator

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

const (
	// numberTolerance is the relative distance within which a quoted
	// number counts as matching the data.
	numberTolerance = 0.05

	// largeAmount is the smallest figure treated as a business amount.
	largeAmount = 1000

	// minLabelCoverage is the share of group labels an answer must name.
	minLabelCoverage = 0.30
)

// placeholderPatterns match stand-in entity names a model writes when it
// has no real name to use.
var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?i:cliente|customer|client|company|empresa|compañía|producto|product|proveedor|supplier|vendor|vendedor|partner)\s+(?:[A-Z]|\d{1,2}|ABC|XYZ|XXX?|123)\b`),
	regexp.MustCompile(`(?i)\b(?:john|jane)\s+doe\b`),
	regexp.MustCompile(`(?i)\bjuan\s+p[eé]rez\b`),
	regexp.MustCompile(`(?i)\b(?:abc|xyz|example|sample|ejemplo|demo|test)\s+(?:corp|corporation|inc|ltd|ltda|llc|s\.?a\.?|spa|company|compañía)\b`),
	regexp.MustCompile(`(?i)\b(?:empresa|compañía)\s+(?:ejemplo|de\s+ejemplo|ficticia)\b`),
	regexp.MustCompile(`(?i)\blorem\s+ipsum\b`),
	regexp.MustCompile(`\[(?i:customer|client|cliente|company|empresa|product|producto|name|nombre)[^\]]*\]`),
}

// genericReference matches an entity named only by its role.
var genericReference = regexp.MustCompile(`(?i)\b(?:the|your|a|one|el|un|una|su|tu)\s+(?:(?:top|main|largest|biggest|leading|principal|mayor|mejor|primer)\s+)?(?:customer|client|supplier|vendor|product|cliente|proveedor|producto)s?\b`)

// Validate checks prose against the tool results in data. Each data item
// may be any JSON-serialisable value, raw JSON, or a JSON string.
func Validate(prose string, data ...any) PreSendValidation {
	f := collect(data)
	lower := strings.ToLower(prose)
	quoted := amounts(prose)

	var issues []Issue
	issues = append(issues, checkPlaceholders(prose, f)...)
	issues = append(issues, checkURLs(prose, f)...)
	issues = append(issues, checkEmptyData(quoted, f)...)
	issues = append(issues, checkGenericNames(prose, lower, f)...)
	issues = append(issues, checkNumbers(quoted, f)...)
	issues = append(issues, checkLabelCoverage(lower, f)...)

	confidence, action := score(issues)
	if issues == nil {
		issues = []Issue{}
	}
	return PreSendValidation{Issues: issues, Confidence: confidence, Action: action}
}

func checkPlaceholders(prose string, f *facts) []Issue {
	var issues []Issue
	seen := map[string]bool{}
	for _, re := range placeholderPatterns {
		for _, m := range re.FindAllString(prose, -1) {
			key := strings.ToLower(m)
			if seen[key] || f.knowsName(m) {
				continue
			}
			seen[key] = true
			issues = append(issues, Issue{
				Type:     Hallucination,
				Severity: Critical,
				Message:  fmt.Sprintf("%q looks like a placeholder name that does not appear in the data", m),
				Evidence: m,
			})
		}
	}
	return issues
}

func checkURLs(prose string, f *facts) []Issue {
	var issues []Issue
	seen := map[string]bool{}
	for _, u := range urlPattern.FindAllString(prose, -1) {
		u = strings.TrimRight(u, ".,;:!?")
		if seen[u] || f.hasURL(u) {
			continue
		}
		seen[u] = true
		issues = append(issues, Issue{
			Type:     Hallucination,
			Severity: Warning,
			Message:  fmt.Sprintf("link %s is not present in the data", u),
			Evidence: u,
		})
	}
	return issues
}

func checkEmptyData(quoted []amount, f *facts) []Issue {
	if !f.empty() {
		return nil
	}
	for _, a := range quoted {
		if a.Value >= largeAmount {
			return []Issue{{
				Type:     Inconsistency,
				Severity: Critical,
				Message:  fmt.Sprintf("the answer states %s but the data is empty or zero", a.Text),
				Evidence: a.Text,
			}}
		}
	}
	return nil
}

func checkGenericNames(prose, lower string, f *facts) []Issue {
	labels := f.labels()
	if len(labels) == 0 {
		return nil
	}
	for _, l := range labels {
		if mentioned(lower, l) {
			return nil
		}
	}
	m := genericReference.FindString(prose)
	if m == "" {
		return nil
	}
	return []Issue{{
		Type:     Inconsistency,
		Severity: Warning,
		Message:  fmt.Sprintf("the answer says %q instead of naming %s", m, strings.Join(head(labels, 3), ", ")),
		Evidence: m,
	}}
}

func checkNumbers(quoted []amount, f *facts) []Issue {
	if !f.nonZero {
		return nil
	}
	var issues []Issue
	seen := map[float64]bool{}
	for _, a := range quoted {
		if a.Value < largeAmount || seen[a.Value] || f.matches(a.Value, numberTolerance) {
			continue
		}
		seen[a.Value] = true
		if a.round() {
			issues = append(issues, Issue{
				Type:     Inconsistency,
				Severity: Warning,
				Message:  fmt.Sprintf("%s is a round figure that does not match any number in the data", a.Text),
				Evidence: a.Text,
			})
			continue
		}
		issues = append(issues, Issue{
			Type:     Inconsistency,
			Severity: Info,
			Message:  fmt.Sprintf("%s does not match any number in the data", a.Text),
			Evidence: a.Text,
		})
	}
	return issues
}

func checkLabelCoverage(lower string, f *facts) []Issue {
	labels := f.labels()
	if len(labels) == 0 {
		return nil
	}
	var hit int
	var missing []string
	for _, l := range labels {
		if mentioned(lower, l) {
			hit++
		} else {
			missing = append(missing, l)
		}
	}
	need := int(math.Ceil(minLabelCoverage * float64(len(labels))))
	if hit >= need {
		return nil
	}
	return []Issue{{
		Type:     MissingData,
		Severity: Warning,
		Message: fmt.Sprintf("the answer names %d of %d groups in the data; missing for example %s",
			hit, len(labels), strings.Join(head(missing, 3), ", ")),
	}}
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// CorrectionPrompt is the instruction for a second attempt after a
// regenerate verdict.
func CorrectionPrompt(v PreSendValidation) string {
	var b strings.Builder
	b.WriteString("Your previous answer failed a check against the tool results:\n")
	n := 0
	for _, is := range v.Issues {
		if is.Severity != Critical {
			continue
		}
		fmt.Fprintf(&b, "- [%s] %s\n", is.Type, is.Message)
		n++
	}
	if n == 0 {
		for _, is := range v.Issues {
			fmt.Fprintf(&b, "- [%s] %s\n", is.Type, is.Message)
		}
	}
	b.WriteString("\nRewrite the answer. Absolute rule: only use names, figures and links that appear in the tool results. ")
	b.WriteString("If the results are empty, say that there is no data for the request instead of estimating.")
	return b.String()
}
