package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/elum-utils/gatekeeper/models"
)

// Stats contains runtime in-memory engine metrics.
type Stats struct {
	TermCount        int64
	LastLookupNanos  int64
	TotalLookups     int64
	TotalTermHits    int64
	LastReloadNanos  int64
	TotalReloadCount int64
}

// Match is one prohibited term found in a text. Start and End are byte
// offsets into the original text.
type Match struct {
	Term     string
	Severity models.Severity
	Start    int
	End      int
}

type phrase struct {
	value string
	words []string
}

type state struct {
	terms   map[string]models.Severity
	phrases []phrase
}

// Engine stores prohibited terms and executes case-insensitive whole-word
// lookup.
type Engine struct {
	mu    sync.RWMutex
	state state

	lastLookupNanos atomic.Int64
	totalLookups    atomic.Int64
	totalTermHits   atomic.Int64
	lastReloadNanos atomic.Int64
	totalReloads    atomic.Int64
}

// New creates a new engine.
func New() *Engine {
	return &Engine{state: state{terms: make(map[string]models.Severity)}}
}

// normalizeTerm lowercases and splits on non-word runes, so "f-word" is
// stored as the phrase "f word".
func normalizeTerm(term string) string {
	parts := strings.FieldsFunc(strings.ToLower(term), func(r rune) bool { return !isWordRune(r) })
	return strings.Join(parts, " ")
}

func normalizeSeverity(s models.Severity) models.Severity {
	if s == models.SeverityMedium {
		return models.SeverityMedium
	}
	return models.SeverityHigh
}

func (s *state) add(term models.Term) bool {
	t := normalizeTerm(term.Value)
	if t == "" {
		return false
	}
	sev := normalizeSeverity(term.Severity)
	if prev, exists := s.terms[t]; exists {
		if sev.Rank() > prev.Rank() {
			s.terms[t] = sev
			return true
		}
		return false
	}
	s.terms[t] = sev
	if strings.ContainsRune(t, ' ') {
		s.phrases = append(s.phrases, phrase{value: t, words: strings.Split(t, " ")})
	}
	return true
}

// AddTerm inserts one term. A term already present is only updated when the
// new severity is higher.
func (e *Engine) AddTerm(term models.Term) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.add(term)
}

// RemoveTerm deletes one term.
func (e *Engine) RemoveTerm(value string) bool {
	t := normalizeTerm(value)
	if t == "" {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.state.terms[t]; !exists {
		return false
	}
	delete(e.state.terms, t)
	if strings.ContainsRune(t, ' ') {
		phrases := e.state.phrases[:0]
		for _, p := range e.state.phrases {
			if p.value != t {
				phrases = append(phrases, p)
			}
		}
		e.state.phrases = phrases
	}
	return true
}

// ReplaceAll replaces all terms atomically.
func (e *Engine) ReplaceAll(terms []models.Term) {
	start := time.Now()
	next := state{terms: make(map[string]models.Severity, len(terms))}
	for _, term := range terms {
		next.add(term)
	}

	e.mu.Lock()
	e.state = next
	e.mu.Unlock()

	e.lastReloadNanos.Store(time.Since(start).Nanoseconds())
	e.totalReloads.Add(1)
}

// Count returns term count.
func (e *Engine) Count() int {
	e.mu.RLock()
	count := len(e.state.terms)
	e.mu.RUnlock()
	return count
}

// Find returns every whole-word occurrence of a prohibited term, ordered by
// position.
func (e *Engine) Find(text string) []Match {
	start := time.Now()
	defer func() {
		e.lastLookupNanos.Store(time.Since(start).Nanoseconds())
		e.totalLookups.Add(1)
	}()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.state.terms) == 0 || text == "" {
		return nil
	}

	words := splitWords(text)
	var out []Match

	// First pass: single words.
	for _, w := range words {
		if sev, ok := e.state.terms[w.lower]; ok {
			out = append(out, Match{Term: w.lower, Severity: sev, Start: w.start, End: w.end})
		}
	}

	// Second pass: multi-word phrases over consecutive words.
	for _, p := range e.state.phrases {
		n := len(p.words)
		for i := 0; i+n <= len(words); i++ {
			if !phraseAt(words[i:i+n], p.words) {
				continue
			}
			out = append(out, Match{
				Term:     p.value,
				Severity: e.state.terms[p.value],
				Start:    words[i].start,
				End:      words[i+n-1].end,
			})
		}
	}

	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End > out[j].End
	})
	e.totalTermHits.Add(int64(len(out)))
	return out
}

// Terms returns the unique matched terms in order of first appearance.
func Terms(matches []Match) []string {
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m.Term]; ok {
			continue
		}
		seen[m.Term] = struct{}{}
		out = append(out, m.Term)
	}
	return out
}

// Check runs the prefilter. ok is true when a prohibited term was found and
// the returned decision blocks the content.
func (e *Engine) Check(text string) (models.Decision, bool) {
	matches := e.Find(text)
	if len(matches) == 0 {
		return models.Decision{}, false
	}
	severity := models.SeverityMedium
	for _, m := range matches {
		if m.Severity.Rank() > severity.Rank() {
			severity = m.Severity
		}
	}
	terms := Terms(matches)
	return models.Decision{
		Allowed:     false,
		Severity:    severity,
		CleanedText: Mask(text, matches),
		Reason:      fmt.Sprintf("prohibited term detected: %s", strings.Join(terms, ", ")),
		Source:      models.SourcePrefilter,
		Matches:     terms,
	}, true
}

// Mask replaces every matched span with asterisks, one per rune.
func Mask(text string, matches []Match) string {
	if len(matches) == 0 {
		return text
	}
	spans := make([]Match, len(matches))
	copy(spans, matches)
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, m := range spans {
		if m.End <= pos {
			continue
		}
		from := m.Start
		if from < pos {
			from = pos
		}
		b.WriteString(text[pos:from])
		for range text[from:m.End] {
			b.WriteByte('*')
		}
		pos = m.End
	}
	b.WriteString(text[pos:])
	return b.String()
}

type word struct {
	lower string
	start int
	end   int
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func splitWords(s string) []word {
	res := make([]word, 0, 16)
	start := -1
	for i, r := range s {
		if isWordRune(r) {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 {
			res = append(res, word{lower: strings.ToLower(s[start:i]), start: start, end: i})
			start = -1
		}
	}
	if start != -1 {
		res = append(res, word{lower: strings.ToLower(s[start:]), start: start, end: len(s)})
	}
	return res
}

func phraseAt(words []word, want []string) bool {
	for i := range want {
		if words[i].lower != want[i] {
			return false
		}
	}
	return true
}

// Stats returns current metrics.
func (e *Engine) Stats() Stats {
	return Stats{
		TermCount:        int64(e.Count()),
		LastLookupNanos:  e.lastLookupNanos.Load(),
		TotalLookups:     e.totalLookups.Load(),
		TotalTermHits:    e.totalTermHits.Load(),
		LastReloadNanos:  e.lastReloadNanos.Load(),
		TotalReloadCount: e.totalReloads.Load(),
	}
}
