package engine

import (
	"sync"
	"testing"

	"github.com/elum-utils/gatekeeper/models"
)

func high(v string) models.Term   { return models.Term{Value: v, Severity: models.SeverityHigh} }
func medium(v string) models.Term { return models.Term{Value: v, Severity: models.SeverityMedium} }

func TestEngineFindCaseInsensitive(t *testing.T) {
	e := New()
	e.AddTerm(high("HaTe"))
	e.AddTerm(medium("buy now"))

	got := e.Find("I HATE this. Please BUY   NOW!")
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d: %v", len(got), got)
	}
	if got[0].Term != "hate" || got[1].Term != "buy now" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestEngineWholeWordOnly(t *testing.T) {
	e := New()
	e.ReplaceAll([]models.Term{high("hate"), high("kill"), medium("ruin")})

	for _, text := range []string{"whatever", "Hateful", "skilled workers", "bruins won", "chatelaine"} {
		if _, ok := e.Check(text); ok {
			t.Fatalf("%q must not be flagged", text)
		}
	}
	for _, text := range []string{"hate", "I HATE this", "kill.", "(Ruin)", "don't-hate"} {
		if _, ok := e.Check(text); !ok {
			t.Fatalf("%q must be flagged", text)
		}
	}
}

func TestEngineCheckDecision(t *testing.T) {
	e := New()
	e.ReplaceAll([]models.Term{high("hate"), medium("ruin")})

	d, ok := e.Check("I hate this")
	if !ok {
		t.Fatalf("expected match")
	}
	if d.Allowed || d.Severity != models.SeverityHigh || d.Source != models.SourcePrefilter {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.CleanedText != "I **** this" {
		t.Fatalf("unexpected masking: %q", d.CleanedText)
	}
	if d.Reason == "" {
		t.Fatalf("blocked decision must carry a reason")
	}

	d, ok = e.Check("you will ruin it")
	if !ok || d.Severity != models.SeverityMedium {
		t.Fatalf("expected medium severity, got %+v", d)
	}

	d, _ = e.Check("ruin and hate")
	if d.Severity != models.SeverityHigh {
		t.Fatalf("highest severity must win: %+v", d)
	}
	if len(d.Matches) != 2 {
		t.Fatalf("expected both terms: %v", d.Matches)
	}
}

func TestMaskUnicodeAndOverlap(t *testing.T) {
	e := New()
	e.AddTerm(high("bad"))
	e.AddTerm(high("bad thing"))

	matches := e.Find("a BAD thing, ÜBER bad")
	if got := Mask("a BAD thing, ÜBER bad", matches); got != "a *********, ÜBER ***" {
		t.Fatalf("unexpected mask: %q", got)
	}

	e2 := New()
	e2.AddTerm(high("ärger"))
	m := e2.Find("so viel Ärger heute")
	if got := Mask("so viel Ärger heute", m); got != "so viel ***** heute" {
		t.Fatalf("unexpected unicode mask: %q", got)
	}
}

func TestEngineHigherSeverityWins(t *testing.T) {
	e := New()
	e.ReplaceAll([]models.Term{medium("kill"), high("KILL"), {Value: " "}})
	if e.Count() != 1 {
		t.Fatalf("expected 1 term, got %d", e.Count())
	}
	d, _ := e.Check("kill")
	if d.Severity != models.SeverityHigh {
		t.Fatalf("expected high, got %s", d.Severity)
	}
}

func TestEngineConcurrentAccess(t *testing.T) {
	e := New()
	e.AddTerm(high("spam"))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Find("SPAM spam")
			_ = e.AddTerm(high("x"))
			_ = e.RemoveTerm("x")
		}()
	}
	wg.Wait()
}
