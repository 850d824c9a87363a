package history

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"truthscan/forensic"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func result(id string, verdict forensic.Verdict, risk forensic.RiskLevel, match bool) forensic.Result {
	return forensic.Result{
		ID:               id,
		Timestamp:        "2026-08-30T10:00:00Z",
		Verdict:          verdict,
		ConfidenceScore:  0.9,
		RiskLevel:        risk,
		DetectedLanguage: "English",
		LanguageMatch:    match,
	}
}

func TestAppendAndReload(t *testing.T) {
	s, path := tempStore(t)

	ok, err := s.Append(result("a", forensic.VerdictSafe, forensic.RiskLow, true))
	if err != nil || !ok {
		t.Fatalf("Append: ok=%v err=%v", ok, err)
	}
	ok, err = s.Append(result("b", forensic.VerdictBlockNow, forensic.RiskHigh, true))
	if err != nil || !ok {
		t.Fatalf("Append: ok=%v err=%v", ok, err)
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	list := reloaded.List()
	if len(list) != 2 {
		t.Fatalf("reloaded %d entries, want 2", len(list))
	}
	// Most recent first.
	if list[0].ID != "b" || list[1].ID != "a" {
		t.Errorf("order = %s, %s; want b, a", list[0].ID, list[1].ID)
	}
}

func TestAppendRejectsMismatch(t *testing.T) {
	s, _ := tempStore(t)

	ok, err := s.Append(result("m", forensic.VerdictCaution, forensic.RiskMedium, false))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ok {
		t.Error("mismatched result was stored")
	}
	if s.Len() != 0 {
		t.Errorf("len = %d, want 0", s.Len())
	}
}

func TestCapEvictsOldest(t *testing.T) {
	s, _ := tempStore(t)

	for i := 0; i < MaxEntries+5; i++ {
		id := fmt.Sprintf("id-%03d", i)
		if _, err := s.Append(result(id, forensic.VerdictSafe, forensic.RiskLow, true)); err != nil {
			t.Fatalf("Append %s: %v", id, err)
		}
	}

	if s.Len() != MaxEntries {
		t.Fatalf("len = %d, want %d", s.Len(), MaxEntries)
	}
	list := s.List()
	if list[0].ID != fmt.Sprintf("id-%03d", MaxEntries+4) {
		t.Errorf("newest = %s", list[0].ID)
	}
	if list[len(list)-1].ID != "id-005" {
		t.Errorf("oldest = %s, want id-005 (first five evicted)", list[len(list)-1].ID)
	}
}

func TestCorruptFileLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open on corrupt file must not fail: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("len = %d, want 0", s.Len())
	}

	// The store stays usable.
	if ok, err := s.Append(result("x", forensic.VerdictSafe, forensic.RiskLow, true)); err != nil || !ok {
		t.Fatalf("Append after corrupt load: ok=%v err=%v", ok, err)
	}
}

func TestRemove(t *testing.T) {
	s, path := tempStore(t)
	s.Append(result("keep", forensic.VerdictSafe, forensic.RiskLow, true))
	s.Append(result("drop", forensic.VerdictSafe, forensic.RiskLow, true))

	ok, err := s.Remove("drop")
	if err != nil || !ok {
		t.Fatalf("Remove: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.Remove("missing"); ok {
		t.Error("Remove reported success for unknown id")
	}

	reloaded, _ := Open(path)
	if reloaded.Len() != 1 || reloaded.List()[0].ID != "keep" {
		t.Errorf("unexpected entries after remove: %+v", reloaded.List())
	}
}

func TestClear(t *testing.T) {
	s, path := tempStore(t)
	s.Append(result("a", forensic.VerdictSafe, forensic.RiskLow, true))
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	reloaded, _ := Open(path)
	if reloaded.Len() != 0 {
		t.Errorf("len after clear = %d", reloaded.Len())
	}
}

func TestStats(t *testing.T) {
	s, _ := tempStore(t)
	s.Append(result("a", forensic.VerdictSafe, forensic.RiskLow, true))
	s.Append(result("b", forensic.VerdictSyntheticFraud, forensic.RiskHigh, true))
	s.Append(result("c", forensic.VerdictBlockNow, forensic.RiskHigh, true))
	s.Append(result("d", forensic.VerdictCaution, forensic.RiskMedium, true))

	st := s.Stats()
	if st.Total != 4 || st.Fraud != 2 || st.HighRisk != 2 {
		t.Errorf("stats = %+v, want total=4 fraud=2 highRisk=2", st)
	}
}
