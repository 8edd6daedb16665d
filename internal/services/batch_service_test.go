package services

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
)

// ---------- test helpers ----------

type fakeStore struct {
	mu     sync.Mutex
	data   map[string]string
	getErr error
	setErr error
	gets   int
}

func newFakeStore(kv ...string) *fakeStore {
	s := &fakeStore{data: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		s.data[kv[i]] = kv[i+1]
	}
	return s
}

func (s *fakeStore) Set(_ context.Context, chatID, cred string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.data[chatID] = cred
	return nil
}

func (s *fakeStore) Get(_ context.Context, chatID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.data[chatID]
	return v, ok, nil
}

type shortenCall struct{ cred, url string }

// fakeShortener maps long URLs to short ones; URLs listed in fail error out.
type fakeShortener struct {
	mu    sync.Mutex
	m     map[string]string
	fail  map[string]bool
	calls []shortenCall
}

func (f *fakeShortener) Shorten(_ context.Context, cred, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, shortenCall{cred, url})
	if f.fail[url] {
		return "", errors.New("boom")
	}
	if s, ok := f.m[url]; ok {
		return s, nil
	}
	return "https://sho.rt/" + strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://"), nil
}

func (f *fakeShortener) urls() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.url)
	}
	return out
}

// ---------- List() ----------

func TestBatch_List_MissingCredential_NoCalls(t *testing.T) {
	sh := &fakeShortener{}
	b := &BatchService{Store: newFakeStore(), Shortener: sh}

	got, err := b.List(context.Background(), "42", []string{"https://x.io"})
	if !errors.Is(err, ErrMissingCredential) || got != nil {
		t.Fatalf("expected ErrMissingCredential, got (%v, %v)", got, err)
	}
	if len(sh.calls) != 0 {
		t.Fatalf("expected zero remote calls, got %d", len(sh.calls))
	}
}

func TestBatch_List_StoreReadFault_TreatedAsAbsent(t *testing.T) {
	sh := &fakeShortener{}
	st := newFakeStore("42", "T")
	st.getErr = errors.New("disk on fire")
	b := &BatchService{Store: st, Shortener: sh}

	if _, err := b.List(context.Background(), "42", []string{"https://x.io"}); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential on read fault, got %v", err)
	}
	if len(sh.calls) != 0 {
		t.Fatalf("expected zero remote calls, got %d", len(sh.calls))
	}
}

func TestBatch_List_OrderAndPartialFailure(t *testing.T) {
	sh := &fakeShortener{
		m:    map[string]string{"https://a.io": "https://s/a", "https://c.io": "https://s/c"},
		fail: map[string]bool{"https://b.io": true},
	}
	b := &BatchService{Store: newFakeStore("1", "T1"), Shortener: sh}

	cands := []string{"https://a.io", "https://b.io", "https://c.io"}
	got, err := b.List(context.Background(), "1", cands)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if want := []string{"https://s/a", "https://s/c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
	// one call per candidate, in discovery order, all with the chat's credential
	if !reflect.DeepEqual(sh.urls(), cands) {
		t.Fatalf("calls = %v, want %v", sh.urls(), cands)
	}
	for _, c := range sh.calls {
		if c.cred != "T1" {
			t.Fatalf("call used credential %q", c.cred)
		}
	}
}

func TestBatch_List_DuplicatesCalledPerOccurrence(t *testing.T) {
	sh := &fakeShortener{}
	b := &BatchService{Store: newFakeStore("1", "T"), Shortener: sh}

	got, err := b.List(context.Background(), "1", []string{"http://a.co", "http://a.co"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || len(sh.calls) != 2 {
		t.Fatalf("expected 2 results and 2 calls, got %d/%d", len(got), len(sh.calls))
	}
}

func TestBatch_List_AllFail_BatchEmpty(t *testing.T) {
	sh := &fakeShortener{fail: map[string]bool{"https://a.io": true, "https://b.io": true}}
	b := &BatchService{Store: newFakeStore("1", "T"), Shortener: sh}

	got, err := b.List(context.Background(), "1", []string{"https://a.io", "https://b.io"})
	if !errors.Is(err, ErrBatchEmpty) || got != nil {
		t.Fatalf("expected ErrBatchEmpty, got (%v, %v)", got, err)
	}
	if len(sh.calls) != 2 {
		t.Fatalf("failed candidates must not abort the batch; calls=%d", len(sh.calls))
	}
}

// ---------- Rewrite() ----------

func TestBatch_Rewrite_CredentialCheckedFirst(t *testing.T) {
	sh := &fakeShortener{}
	b := &BatchService{Store: newFakeStore(), Shortener: sh}

	if _, err := b.Rewrite(context.Background(), "1", "t.me/x", nil); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestBatch_Rewrite_NoCandidates(t *testing.T) {
	sh := &fakeShortener{}
	b := &BatchService{Store: newFakeStore("1", "T"), Shortener: sh}

	if _, err := b.Rewrite(context.Background(), "1", "t.me/x", []string{}); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
	if len(sh.calls) != 0 {
		t.Fatalf("expected zero calls, got %d", len(sh.calls))
	}
}

func TestBatch_Rewrite_ReplacesAndKeepsFailures(t *testing.T) {
	sh := &fakeShortener{
		m:    map[string]string{"https://a.io/1": "https://s/1"},
		fail: map[string]bool{"https://b.io/2": true},
	}
	b := &BatchService{Store: newFakeStore("1", "T"), Shortener: sh}

	text := "post t.me/chan https://a.io/1 and https://b.io/2"
	got, err := b.Rewrite(context.Background(), "1", text, []string{"https://a.io/1", "https://b.io/2"})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if want := "post t.me/chan https://s/1 and https://b.io/2"; got != want {
		t.Fatalf("Rewrite = %q, want %q", got, want)
	}
}

func TestBatch_Rewrite_AllFail_ReturnsOriginal(t *testing.T) {
	sh := &fakeShortener{fail: map[string]bool{"https://a.io": true}}
	b := &BatchService{Store: newFakeStore("1", "T"), Shortener: sh}

	text := "see https://a.io"
	got, err := b.Rewrite(context.Background(), "1", text, []string{"https://a.io"})
	if err != nil || got != text {
		t.Fatalf("expected original text, got (%q, %v)", got, err)
	}
}

func TestBatch_Rewrite_DuplicateOccurrencesBothReplaced(t *testing.T) {
	sh := &fakeShortener{m: map[string]string{"http://a.co": "https://s/x"}}
	b := &BatchService{Store: newFakeStore("1", "T"), Shortener: sh}

	text := "see http://a.co and http://a.co again"
	got, err := b.Rewrite(context.Background(), "1", text, []string{"http://a.co", "http://a.co"})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if want := "see https://s/x and https://s/x again"; got != want {
		t.Fatalf("Rewrite = %q, want %q", got, want)
	}
	if len(sh.calls) != 2 {
		t.Fatalf("expected one call per occurrence, got %d", len(sh.calls))
	}
}

func TestBatch_Rewrite_ShortContainingLongPrefix(t *testing.T) {
	// The short link embeds the long URL, so the second substitution lands
	// inside the first inserted short link.
	sh := &fakeShortener{m: map[string]string{"http://a.co": "http://a.co/s"}}
	b := &BatchService{Store: newFakeStore("1", "T"), Shortener: sh}

	text := "x http://a.co y http://a.co"
	got, err := b.Rewrite(context.Background(), "1", text, []string{"http://a.co", "http://a.co"})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if want := "x http://a.co/s/s y http://a.co"; got != want {
		t.Fatalf("Rewrite = %q, want %q", got, want)
	}
}
