// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package pak

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

const (
	testString1 = "the quick brown fox jumps over the lazy dog"
	testString2 = "pack my box with five dozen liquor jugs"
)

func buildTestArchive(t *testing.T) *bytes.Reader {
	t.Helper()

	builder, err := NewBuilder(Header{
		Author:      "test",
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := builder.Add("one", bytes.NewReader([]byte(testString1))); err != nil {
		t.Fatal(err)
	}
	if err := builder.Add("two", bytes.NewReader([]byte(testString2))); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	written, err := builder.WriteTo(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if written != int64(buf.Len()) {
		t.Errorf("expected %d bytes written, got %d", buf.Len(), written)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestBuildAndReadBack(t *testing.T) {
	archive, err := Open(buildTestArchive(t))
	if err != nil {
		t.Fatal(err)
	}
	defer archive.Close()

	one, err := archive.ReadAll("one")
	if err != nil {
		t.Fatal(err)
	}
	if string(one) != testString1 {
		t.Errorf("expected %q, got %q", testString1, string(one))
	}

	two, err := archive.ReadAll("two")
	if err != nil {
		t.Fatal(err)
	}
	if string(two) != testString2 {
		t.Errorf("expected %q, got %q", testString2, string(two))
	}
}

func TestStreamingOpen(t *testing.T) {
	archive, err := Open(buildTestArchive(t))
	if err != nil {
		t.Fatal(err)
	}
	defer archive.Close()

	r, err := archive.Open("two")
	if err != nil {
		t.Fatal(err)
	}
	var out strings.Builder
	buf := make([]byte, 8)
	for {
		n, err := r.Read(buf)
		out.Write(buf[:n])
		if err != nil {
			break
		}
	}
	if out.String() != testString2 {
		t.Errorf("expected %q, got %q", testString2, out.String())
	}
}

func TestIndex(t *testing.T) {
	archive, err := Open(buildTestArchive(t))
	if err != nil {
		t.Fatal(err)
	}
	defer archive.Close()

	names := archive.Index()
	if len(names) != 2 || names[0] != "one" || names[1] != "two" {
		t.Errorf("unexpected index: %v", names)
	}
	if archive.Header().Author != "test" {
		t.Errorf("unexpected author: %s", archive.Header().Author)
	}
}

func TestNotFound(t *testing.T) {
	archive, err := Open(buildTestArchive(t))
	if err != nil {
		t.Fatal(err)
	}
	defer archive.Close()

	if _, err := archive.ReadAll("missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBadMagic(t *testing.T) {
	if _, err := Open(bytes.NewReader([]byte("not a pak archive at all"))); err != ErrFileFormat {
		t.Errorf("expected ErrFileFormat, got %v", err)
	}
}

func TestTruncatedHeader(t *testing.T) {
	if _, err := Open(bytes.NewReader(magic[:])); err != ErrFileFormat {
		t.Errorf("expected ErrFileFormat, got %v", err)
	}
}
