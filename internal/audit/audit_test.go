package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	return l, path
}

func testEntry(event string) Entry {
	return Entry{
		Event:  event,
		Call:   Call{ID: "c-123", Method: "eth_sendTransaction", Origin: "https://dapp.example", TabID: "tab-1"},
		Status: "pending",
	}
}

func writeEntries(t *testing.T, l *Log, events ...string) {
	t.Helper()
	for i, ev := range events {
		if err := l.Record(testEntry(ev)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)
	writeEntries(t, l, EventPending, EventApproved, EventPending, EventRejected, EventExpired)
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)
	writeEntries(t, l, EventPending, EventRejected, EventPending)
	l.Close()

	lines := readLines(t, path)
	lines[1] = strings.Replace(lines[1], `"rejected"`, `"approved"`, 1)
	writeLines(t, path, lines)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t)
	writeEntries(t, l, EventPending, EventApproved, EventPending)
	l.Close()

	lines := readLines(t, path)
	writeLines(t, path, []string{lines[0], lines[2]})

	result := Verify(path)
	if result.Valid || result.ErrorLine != 2 {
		t.Fatalf("expected error at line 2, got %+v", result)
	}
}

func TestVerifyDetectsInsertedEntry(t *testing.T) {
	l, path := newTestLog(t)
	writeEntries(t, l, EventPending, EventApproved, EventPending)
	l.Close()

	lines := readLines(t, path)
	fake := testEntry(EventApproved)
	fake.PrevHash = "sha256:fake"
	fakeJSON, _ := json.Marshal(fake)
	writeLines(t, path, []string{lines[0], string(fakeJSON), lines[1], lines[2]})

	if result := Verify(path); result.Valid {
		t.Fatal("expected chain with inserted entry to be invalid")
	}
}

func TestVerifyMissingFile(t *testing.T) {
	result := Verify(filepath.Join(t.TempDir(), "absent.jsonl"))
	if result.Valid || result.Error == "" {
		t.Fatalf("expected error for missing file, got %+v", result)
	}
}

func TestEmptyLogPassesVerification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	os.WriteFile(path, []byte{}, 0600)

	result := Verify(path)
	if !result.Valid || result.Lines != 0 {
		t.Fatalf("expected empty valid log, got %+v", result)
	}
}

func TestConcurrentWritesSerializeCorrectly(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(testEntry(EventPending))
		}()
	}
	wg.Wait()
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain after concurrent writes, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 100 {
		t.Fatalf("expected 100 lines, got %d", result.Lines)
	}
}

func TestGenesisHashIsCorrect(t *testing.T) {
	l, path := newTestLog(t)
	writeEntries(t, l, EventPending)
	l.Close()

	var entry Entry
	if err := json.Unmarshal([]byte(readLines(t, path)[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry.PrevHash != GenesisHash {
		t.Fatalf("expected genesis hash %s, got %s", GenesisHash, entry.PrevHash)
	}
	if entry.Timestamp == "" {
		t.Error("timestamp not filled in")
	}
}

func TestHashLineFormat(t *testing.T) {
	h1 := HashLine([]byte(`{"event":"pending"}`))
	h2 := HashLine([]byte(`{"event":"pending"}`))
	if h1 != h2 {
		t.Fatalf("expected same hash, got %s and %s", h1, h2)
	}
	if !strings.HasPrefix(h1, "sha256:") || len(h1) != 7+64 {
		t.Fatalf("unexpected hash %s", h1)
	}
	if HashLine([]byte("a")) == HashLine([]byte("b")) {
		t.Fatal("different inputs must hash differently")
	}
}

func TestOpenExistingLogContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reopen.jsonl")

	l1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	writeEntries(t, l1, EventPending, EventPending, EventApproved)
	l1.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	writeEntries(t, l2, EventRejected, EventCleared)
	l2.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 5 {
		t.Fatalf("expected 5 valid lines after reopen, got %+v", result)
	}
}

func writeReplayLog(t *testing.T) string {
	t.Helper()
	l, path := newTestLog(t)
	defer l.Close()

	base := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Event: EventPending, Call: Call{ID: "a", Method: "eth_sendTransaction", Origin: "https://one.example"}},
		{Event: EventApproved, Call: Call{ID: "a", Method: "eth_sendTransaction", Origin: "https://one.example"}},
		{Event: EventPending, Call: Call{ID: "b", Method: "personal_sign", Origin: "https://two.example"}},
		{Event: EventRejected, Call: Call{ID: "b", Method: "personal_sign", Origin: "https://two.example"}},
		{Event: EventPending, Call: Call{ID: "c", Method: "eth_signTypedData_v4", Origin: "https://one.example"}},
		{Event: EventExpired, Call: Call{ID: "c", Method: "eth_signTypedData_v4", Origin: "https://one.example"}},
	}
	for i, e := range entries {
		e.Timestamp = base.Add(time.Duration(i) * 2 * time.Second).Format(TimestampFormat)
		if err := l.Record(e); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestReplayFilters(t *testing.T) {
	path := writeReplayLog(t)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 6},
		{"by call", Filter{CallID: "b"}, 2},
		{"by origin", Filter{Origin: "https://one.example"}, 4},
		{"from", Filter{From: time.Date(2026, 3, 1, 14, 0, 5, 0, time.UTC)}, 3},
		{"to", Filter{To: time.Date(2026, 3, 1, 14, 0, 3, 0, time.UTC)}, 2},
		{"origin and range", Filter{Origin: "https://one.example", From: time.Date(2026, 3, 1, 14, 0, 1, 0, time.UTC)}, 3},
		{"no match", Filter{CallID: "zzz"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Replay(path, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(result.Entries) != tt.want {
				t.Errorf("got %d entries, want %d", len(result.Entries), tt.want)
			}
		})
	}
}

func TestReplaySummary(t *testing.T) {
	result, err := Replay(writeReplayLog(t), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	s := result.Summary
	if s.Total != 6 || s.Pending != 3 || s.Approved != 1 || s.Rejected != 1 || s.Expired != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.FirstTimestamp != "2026-03-01T14:00:00.000Z" || s.LastTimestamp != "2026-03-01T14:00:10.000Z" {
		t.Errorf("range = %s..%s", s.FirstTimestamp, s.LastTimestamp)
	}
}

func TestFormatTimeline(t *testing.T) {
	result, err := Replay(writeReplayLog(t), Filter{CallID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	out := FormatTimeline(result)
	for _, want := range []string{"2026-03-01 14:00:00", "PENDING", "APPROVED", "eth_sendTransaction", "https://one.example", "Summary: 2 entries (1 pending, 1 approved)"} {
		if !strings.Contains(out, want) {
			t.Errorf("timeline missing %q:\n%s", want, out)
		}
	}
	if got := FormatTimeline(&ReplayResult{}); got != "No audit entries found.\n" {
		t.Errorf("empty timeline = %q", got)
	}
}

func TestFormatJSON(t *testing.T) {
	result, _ := Replay(writeReplayLog(t), Filter{CallID: "b"})
	out, err := FormatJSON(result)
	if err != nil {
		t.Fatal(err)
	}
	var decoded ReplayResult
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Summary.Rejected != 1 || len(decoded.Entries) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
}
