package calibre_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ogreclient/internal/calibre"
	"ogreclient/internal/ebook"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ebook-meta")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExtractMeta(t *testing.T) {
	script := writeScript(t, `printf 'Title               : Alice\nAuthor(s)           : Lewis Carroll\n'`)
	client, err := calibre.NewClient(script, time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	out, err := client.ExtractMeta(context.Background(), "/library/alice.epub")
	if err != nil {
		t.Fatalf("ExtractMeta failed: %v", err)
	}
	if out != "Title               : Alice\nAuthor(s)           : Lewis Carroll\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestExtractMetaCorrupt(t *testing.T) {
	script := writeScript(t, `echo 'Traceback (most recent call last):' >&2; exit 1`)
	client, err := calibre.NewClient(script, time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.ExtractMeta(context.Background(), "/library/busted.mobi")
	var corrupt *ebook.CorruptEbookError
	if !errors.As(err, &corrupt) {
		t.Fatalf("want CorruptEbookError, got %v", err)
	}
	if corrupt.Path != "/library/busted.mobi" {
		t.Errorf("corrupt path = %q", corrupt.Path)
	}
}

func TestWriteTagsPassesArgument(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := filepath.Join(dir, "ebook-meta")
	body := "#!/bin/sh\necho \"$@\" > " + argsFile + "\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	client, err := calibre.NewClient(script, time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if err := client.WriteTags(context.Background(), "/library/alice.epub", "ogre_id=42, Fantasy"); err != nil {
		t.Fatalf("WriteTags failed: %v", err)
	}
	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	if string(args) != "/library/alice.epub --tags=ogre_id=42, Fantasy\n" {
		t.Errorf("args = %q", args)
	}
}

func TestWriteIdentifier(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := filepath.Join(dir, "ebook-meta")
	body := "#!/bin/sh\necho \"$@\" > " + argsFile + "\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	client, err := calibre.NewClient(script, time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if err := client.WriteIdentifier(context.Background(), "/library/alice.epub", "ogre_id", "42"); err != nil {
		t.Fatalf("WriteIdentifier failed: %v", err)
	}
	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	if string(args) != "/library/alice.epub --identifier=ogre_id:42\n" {
		t.Errorf("args = %q", args)
	}
}

func TestWriteFailureWraps(t *testing.T) {
	script := writeScript(t, `echo 'no such file' >&2; exit 2`)
	client, err := calibre.NewClient(script, time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if err := client.WriteTags(context.Background(), "/library/gone.epub", "x"); err == nil {
		t.Fatal("expected error from failing tool")
	}
}
