package store

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestPutGetRoundtrip(t *testing.T) {
	s := openStore(t)

	content := []byte("hello deployment")
	dgst, n, err := s.Put(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != int64(len(content)) {
		t.Fatalf("size = %d, want %d", n, len(content))
	}
	if dgst != digest.FromBytes(content) {
		t.Fatalf("digest = %s, want %s", dgst, digest.FromBytes(content))
	}

	got, err := s.Get(dgst)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("Get = %q, want %q", got, content)
	}
}

func TestPutIdempotent(t *testing.T) {
	s := openStore(t)

	content := []byte("same bytes")
	first, _, err := s.Put(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}

	before, err := s.Objects()
	if err != nil {
		t.Fatalf("Objects: %v", err)
	}

	second, _, err := s.Put(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if first != second {
		t.Fatalf("digests differ: %s vs %s", first, second)
	}

	after, err := s.Objects()
	if err != nil {
		t.Fatalf("Objects: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("object count grew from %d to %d on duplicate put", len(before), len(after))
	}
}

func TestGetNotFound(t *testing.T) {
	s := openStore(t)

	_, err := s.Get(digest.FromString("never stored"))
	if err == nil {
		t.Fatal("expected error for missing object")
	}
	if !errdefs.IsNotFound(err) {
		t.Fatalf("error %v is not a not-found error", err)
	}
}

func TestGetDetectsCorruption(t *testing.T) {
	s := openStore(t)

	dgst, err := s.PutBytes([]byte("pristine"))
	if err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	// Flip the stored bytes behind the store's back.
	if err := os.WriteFile(s.path(dgst), []byte("tampered"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err = s.Get(dgst)
	if !errors.Is(err, ErrCorruption) {
		t.Fatalf("err = %v, want ErrCorruption", err)
	}
}

func TestSweepRemovesUnreachable(t *testing.T) {
	s := openStore(t)

	keep, err := s.PutBytes([]byte("reachable"))
	if err != nil {
		t.Fatal(err)
	}
	drop, err := s.PutBytes([]byte("orphaned"))
	if err != nil {
		t.Fatal(err)
	}

	removed, err := s.Sweep(map[digest.Digest]struct{}{keep: {}})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(removed) != 1 || removed[0] != drop {
		t.Fatalf("removed = %v, want [%s]", removed, drop)
	}

	if ok, _ := s.Has(keep); !ok {
		t.Fatal("reachable object was swept")
	}
	if ok, _ := s.Has(drop); ok {
		t.Fatal("unreachable object survived sweep")
	}
}

func TestSweepClearsStaging(t *testing.T) {
	s := openStore(t)

	stale := s.root + "/tmp/put-stale"
	if err := os.WriteFile(stale, []byte("aborted write"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Sweep(nil); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("staging file survived sweep")
	}
}

func TestVerify(t *testing.T) {
	s := openStore(t)

	dgst, err := s.PutBytes([]byte("checked"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Verify(dgst); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestReaderStreams(t *testing.T) {
	s := openStore(t)

	content := strings.Repeat("block", 1024)
	dgst, err := s.PutBytes([]byte(content))
	if err != nil {
		t.Fatal(err)
	}

	r, err := s.Reader(dgst)
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatal(err)
	}
	if buf.String() != content {
		t.Fatal("streamed content mismatch")
	}
}
