package importer

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Match confidences, highest first.
const (
	ConfidenceExact     = 1.0
	ConfidenceSynonym   = 0.8
	ConfidenceSubstring = 0.6
)

// minSubstringLen keeps short tokens like "id" or "tg" from matching inside
// longer headers.
const minSubstringLen = 3

// Suggestion is the matcher's best guess for one source column.
// SuggestedField is "" when nothing matched.
type Suggestion struct {
	Column         string  `json:"column"`
	SuggestedField string  `json:"suggestedField,omitempty"`
	Confidence     float64 `json:"confidence"`
}

// FieldDef is a target field with its known synonyms.
type FieldDef struct {
	Field    string   `yaml:"field"`
	Synonyms []string `yaml:"synonyms"`
}

//go:embed synonyms.yaml
var synonymsYAML []byte

type compiledField struct {
	field    string
	norm     string
	words    []string
	synonyms []compiledTerm
}

type compiledTerm struct {
	norm  string
	words []string
}

var (
	fieldTableOnce sync.Once
	fieldTable     map[Entity][]compiledField
	fieldTableErr  error
)

func loadFieldTable() (map[Entity][]compiledField, error) {
	fieldTableOnce.Do(func() {
		var raw map[Entity][]FieldDef
		if err := yaml.Unmarshal(synonymsYAML, &raw); err != nil {
			fieldTableErr = fmt.Errorf("parse synonyms.yaml: %w", err)
			return
		}
		fieldTable = make(map[Entity][]compiledField, len(raw))
		for entity, defs := range raw {
			compiled := make([]compiledField, 0, len(defs))
			for _, d := range defs {
				cf := compiledField{
					field: d.Field,
					norm:  NormalizeHeader(d.Field),
					words: headerWords(d.Field),
				}
				for _, s := range d.Synonyms {
					cf.synonyms = append(cf.synonyms, compiledTerm{
						norm:  NormalizeHeader(s),
						words: headerWords(s),
					})
				}
				compiled = append(compiled, cf)
			}
			fieldTable[entity] = compiled
		}
	})
	return fieldTable, fieldTableErr
}

// Fields returns the declared target fields of entity, in tie-break order.
func Fields(entity Entity) []string {
	table, err := loadFieldTable()
	if err != nil {
		return nil
	}
	defs := table[entity]
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.field
	}
	return out
}

// SuggestColumns proposes a target field for each source column.
//
// Fields are evaluated in declaration order and scored exact (1.0), synonym
// (0.8) or word-boundary substring (0.6). The highest score wins and ties
// keep the field declared first. Nothing is bound; the result is advisory.
func SuggestColumns(columns []string, entity Entity) []Suggestion {
	table, err := loadFieldTable()
	fields := table[entity]
	if err != nil {
		fields = nil
	}

	out := make([]Suggestion, len(columns))
	for i, col := range columns {
		out[i] = suggestColumn(col, fields)
	}
	return out
}

// SuggestMapping turns suggestions scoring at least minConfidence into a
// FieldMapping. When several columns suggest the same field the highest
// confidence wins, then the leftmost column.
func SuggestMapping(columns []string, entity Entity, minConfidence float64) FieldMapping {
	m := make(FieldMapping)
	best := make(map[string]float64)
	for _, s := range SuggestColumns(columns, entity) {
		if s.SuggestedField == "" || s.Confidence < minConfidence {
			continue
		}
		if prev, taken := best[s.SuggestedField]; taken && prev >= s.Confidence {
			continue
		}
		best[s.SuggestedField] = s.Confidence
		m[s.SuggestedField] = Column(s.Column)
	}
	return m
}

func suggestColumn(column string, fields []compiledField) Suggestion {
	best := Suggestion{Column: column}
	colNorm := NormalizeHeader(column)
	if colNorm == "" {
		return best
	}
	colWords := headerWords(column)

	for _, f := range fields {
		score := scoreField(colNorm, colWords, f)
		if score > best.Confidence {
			best.SuggestedField = f.field
			best.Confidence = score
		}
		if best.Confidence == ConfidenceExact {
			break
		}
	}
	return best
}

func scoreField(colNorm string, colWords []string, f compiledField) float64 {
	if colNorm == f.norm {
		return ConfidenceExact
	}
	for _, s := range f.synonyms {
		if colNorm == s.norm {
			return ConfidenceSynonym
		}
	}
	if wordsOverlap(colWords, f.words) {
		return ConfidenceSubstring
	}
	// Single-word synonyms such as "name" or "contact" are too generic to
	// match inside longer headers; only the field name and multi-word
	// synonyms take part in the substring tier.
	for _, s := range f.synonyms {
		if len(s.words) > 1 && wordsOverlap(colWords, s.words) {
			return ConfidenceSubstring
		}
	}
	return 0
}

// wordsOverlap reports whether either word list appears as a contiguous run
// inside the other. Runs shorter than minSubstringLen letters never match.
func wordsOverlap(a, b []string) bool {
	return containsRun(a, b) || containsRun(b, a)
}

func containsRun(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	if len(strings.Join(needle, "")) < minSubstringLen {
		return false
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, w := range needle {
			if haystack[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}

// NormalizeHeader lowercases s, transliterates Cyrillic, folds Latin
// diacritics and drops everything that is not a letter or digit.
// NormalizeHeader("E-Mail ") == NormalizeHeader("email").
func NormalizeHeader(s string) string {
	return strings.Join(headerWords(s), "")
}

// headerWords splits s into normalized words at separators and camelCase
// boundaries: "contactEmail" and "Contact email" both give [contact email],
// while "E-mail" gives [e mail].
func headerWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, foldWord(string(cur)))
			cur = cur[:0]
		}
	}

	rs := []rune(s)
	for i, r := range rs {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(rs[i-1]) {
			flush()
		}
		cur = append(cur, r)
	}
	flush()

	out := words[:0]
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// foldWord lowercases, transliterates and strips diacritics from one word.
func foldWord(w string) string {
	w = transliterate(strings.ToLower(w))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, w)
	if err != nil {
		folded = w
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, folded)
}
