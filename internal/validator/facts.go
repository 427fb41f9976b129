package validator

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'()\[\]]+`)

// nameKeys hold entity names wherever they appear in tool output.
var nameKeys = map[string]bool{
	"name": true, "label": true, "title": true, "partner": true,
	"customer": true, "supplier": true, "product": true,
}

// ignoredLabels are engine-generated labels that no answer has to cite.
var ignoredLabels = map[string]bool{"undefined": true, "others": true}

// facts is what the tool results actually contain.
type facts struct {
	groupLabels map[string]bool
	names       map[string]bool
	numbers     []float64
	urls        []string
	nonZero     bool
}

func collect(data []any) *facts {
	f := &facts{groupLabels: map[string]bool{}, names: map[string]bool{}}
	for _, d := range data {
		f.walk("", normalize(d))
	}
	return f
}

// normalize passes v through JSON so every input has the same shape:
// maps, slices, float64, string, bool and nil.
func normalize(v any) any {
	var raw []byte
	switch t := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		raw = t
	case []byte:
		raw = t
	case string:
		if !json.Valid([]byte(t)) {
			return t
		}
		raw = []byte(t)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		raw = b
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func (f *facts) walk(key string, v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if k == "grouped" || k == "groups" {
				f.addGroups(child)
			}
			if s, ok := child.(string); ok && nameKeys[k] {
				f.addName(s)
			}
			f.walk(k, child)
		}
	case []any:
		// many2one pairs: [id, "display name"]
		if len(t) == 2 {
			if _, ok := t[0].(float64); ok {
				if s, ok := t[1].(string); ok {
					f.addName(s)
				}
			}
		}
		for _, child := range t {
			f.walk(key, child)
		}
	case float64:
		f.numbers = append(f.numbers, t)
		if t != 0 {
			f.nonZero = true
		}
	case string:
		f.urls = append(f.urls, urlPattern.FindAllString(t, -1)...)
	}
}

func (f *facts) addGroups(v any) {
	switch t := v.(type) {
	case map[string]any:
		for label := range t {
			f.addLabel(label)
		}
	case []any:
		for _, item := range t {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			for _, k := range []string{"label", "name"} {
				if s, ok := obj[k].(string); ok {
					f.addLabel(s)
					break
				}
			}
		}
	}
}

func (f *facts) addLabel(label string) {
	label = strings.TrimSpace(label)
	if label == "" {
		return
	}
	f.names[strings.ToLower(label)] = true
	if !ignoredLabels[strings.ToLower(label)] {
		f.groupLabels[label] = true
	}
}

func (f *facts) addName(name string) {
	name = strings.TrimSpace(name)
	if name != "" {
		f.names[strings.ToLower(name)] = true
	}
}

// empty reports whether the results hold nothing an answer could quote.
func (f *facts) empty() bool {
	return !f.nonZero && len(f.names) == 0
}

func (f *facts) labels() []string {
	out := make([]string, 0, len(f.groupLabels))
	for l := range f.groupLabels {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// knowsName reports whether s (case-insensitive) is a real name or a run
// of whole words in one. "Cliente A" is part of "Cliente A Ltda" but not
// of "Cliente Andes".
func (f *facts) knowsName(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return false
	}
	for n := range f.names {
		for from := 0; ; {
			i := strings.Index(n[from:], s)
			if i < 0 {
				break
			}
			start, end := from+i, from+i+len(s)
			if wordEdge(n, start) && wordEdge(n, end) {
				return true
			}
			_, size := utf8.DecodeRuneInString(n[start:])
			from = start + size
		}
	}
	return false
}

// wordEdge reports whether byte offset i of s sits between a word and a
// non-word character, or at either end.
func wordEdge(s string, i int) bool {
	if i == 0 || i == len(s) {
		return true
	}
	before, _ := utf8.DecodeLastRuneInString(s[:i])
	after, _ := utf8.DecodeRuneInString(s[i:])
	return !isWord(before) || !isWord(after)
}

func isWord(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// matches reports whether v is within tolerance of a number in the data.
func (f *facts) matches(v, tolerance float64) bool {
	for _, n := range f.numbers {
		if n == 0 {
			if v == 0 {
				return true
			}
			continue
		}
		if abs(v-n)/abs(n) <= tolerance || abs(v-abs(n))/abs(n) <= tolerance {
			return true
		}
	}
	return false
}

func (f *facts) hasURL(u string) bool {
	u = strings.TrimRight(u, "/")
	for _, known := range f.urls {
		known = strings.TrimRight(known, "/.,;:")
		if known == u || strings.HasPrefix(known, u) {
			return true
		}
	}
	return false
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// corporateSuffix strips legal-form suffixes so "Acme" counts as a
// mention of "Acme Corp".
var corporateSuffix = regexp.MustCompile(`(?i)[\s,]+(corp\.?|corporation|inc\.?|llc|ltd\.?|ltda\.?|s\.?a\.?|spa|s\.?p\.?a\.?|limitada|gmbh|co\.?)$`)

// mentioned reports whether prose (already lowercased) names label.
func mentioned(lowerProse, label string) bool {
	l := strings.ToLower(label)
	if strings.Contains(lowerProse, l) {
		return true
	}
	short := strings.TrimSpace(corporateSuffix.ReplaceAllString(l, ""))
	return len(short) >= 3 && short != l && strings.Contains(lowerProse, short)
}
