package ebook_test

import (
	"errors"
	"testing"

	"ogreclient/internal/ebook"
)

const aliceOutput = `Title               : Alice's Adventures in Wonderland
Author(s)           : Lewis Carroll [Carroll, Lewis]
Publisher           : D. Appleton and Co
Published           : 2010-01-01T00:00:00+00:00
Identifiers         : uri:http://www.gutenberg.org/ebooks/11
Tags                : Fantasy, OGRE-DeDRM, ogre_id=42
`

func TestApplyToolOutputAlice(t *testing.T) {
	rec := ebook.New("/library/alice.epub", "", "home")
	if err := rec.ApplyToolOutput(aliceOutput); err != nil {
		t.Fatalf("ApplyToolOutput failed: %v", err)
	}

	want := map[string]string{
		"title":        "Alice's Adventures in Wonderland",
		"firstname":    "Lewis",
		"lastname":     "Carroll",
		"publisher":    "D. Appleton and Co",
		"publish_date": "2010-01-01T00:00:00+00:00",
		"uri":          "http://www.gutenberg.org/ebooks/11",
		"tags":         "Fantasy",
	}
	for key, value := range want {
		if rec.Meta[key] != value {
			t.Errorf("meta[%s] = %q, want %q", key, rec.Meta[key], value)
		}
	}
	if !rec.DRMFree {
		t.Error("DeDRM tag should mark the record DRM-free")
	}
	if rec.EbookID != "42" {
		t.Errorf("EbookID = %q, want 42", rec.EbookID)
	}

	key := rec.BuildAuthorTitle()
	if key != "Lewis\u0006Carroll\u0007Alice's Adventures in Wonderland" {
		t.Errorf("composite key = %q", key)
	}
	if key != rec.AuthorTitle {
		t.Error("BuildAuthorTitle should store the key on the record")
	}
}

func TestApplyToolOutputEmpty(t *testing.T) {
	rec := ebook.New("/library/busted.mobi", "", "home")
	err := rec.ApplyToolOutput("")
	var corrupt *ebook.CorruptEbookError
	if !errors.As(err, &corrupt) {
		t.Fatalf("want CorruptEbookError, got %v", err)
	}
	if corrupt.Path != "/library/busted.mobi" {
		t.Errorf("corrupt path = %q", corrupt.Path)
	}
}

func TestApplyToolOutputIdentifiers(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		check func(t *testing.T, rec *ebook.Record)
	}{
		{
			name: "mobi-asin promoted when alone",
			line: "Identifiers         : mobi-asin:B00ABCDEFG",
			check: func(t *testing.T, rec *ebook.Record) {
				if rec.Meta["asin"] != "B00ABCDEFG" {
					t.Errorf("asin = %q", rec.Meta["asin"])
				}
				if _, ok := rec.Meta["mobi-asin"]; ok {
					t.Error("mobi-asin should be dropped after promotion")
				}
			},
		},
		{
			name: "duplicate mobi-asin dropped",
			line: "Identifiers         : asin:B00ABCDEFG, mobi-asin:B00ABCDEFG",
			check: func(t *testing.T, rec *ebook.Record) {
				if rec.Meta["asin"] != "B00ABCDEFG" {
					t.Errorf("asin = %q", rec.Meta["asin"])
				}
				if _, ok := rec.Meta["mobi-asin"]; ok {
					t.Error("duplicate mobi-asin should be dropped")
				}
			},
		},
		{
			name: "distinct mobi-asin kept",
			line: "Identifiers         : asin:B00AAAAAAA, mobi-asin:B00BBBBBBB",
			check: func(t *testing.T, rec *ebook.Record) {
				if rec.Meta["asin"] != "B00AAAAAAA" || rec.Meta["mobi-asin"] != "B00BBBBBBB" {
					t.Errorf("asin = %q mobi-asin = %q", rec.Meta["asin"], rec.Meta["mobi-asin"])
				}
			},
		},
		{
			name: "isbn and catalog id",
			line: "Identifiers         : isbn:9780486275437, ogre_id:77",
			check: func(t *testing.T, rec *ebook.Record) {
				if rec.Meta["isbn"] != "9780486275437" {
					t.Errorf("isbn = %q", rec.Meta["isbn"])
				}
				if rec.EbookID != "77" {
					t.Errorf("EbookID = %q", rec.EbookID)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ebook.New("/library/x.azw3", "", "kindle")
			if err := rec.ApplyToolOutput(tt.line + "\n"); err != nil {
				t.Fatalf("ApplyToolOutput failed: %v", err)
			}
			tt.check(t, rec)
		})
	}
}

func TestParseAuthor(t *testing.T) {
	tests := []struct {
		in        string
		firstname string
		lastname  string
	}{
		{"Lewis Carroll", "Lewis", "Carroll"},
		{"Carroll, Lewis", "Lewis", "Carroll"},
		{"Lewis Carroll [Carroll, Lewis]", "Lewis", "Carroll"},
		{"Charles Lutwidge Dodgson", "Charles Lutwidge", "Dodgson"},
		{"Plato", "", "Plato"},
		{"  Ursula K. Le Guin  ", "Ursula K. Le", "Guin"},
		{"", "", ""},
	}
	for _, tt := range tests {
		firstname, lastname := ebook.ParseAuthor(tt.in)
		if firstname != tt.firstname || lastname != tt.lastname {
			t.Errorf("ParseAuthor(%q) = (%q, %q), want (%q, %q)",
				tt.in, firstname, lastname, tt.firstname, tt.lastname)
		}
	}
}

func TestTagsHelpers(t *testing.T) {
	rec := ebook.New("/library/x.epub", "", "home")
	rec.Meta["tags"] = "Fantasy, Classics"

	if got := rec.TagsWithID("42"); got != "ogre_id=42, Fantasy, Classics" {
		t.Errorf("TagsWithID = %q", got)
	}
	if got := rec.TagsWithDeDRM(); got != "OGRE-DeDRM, Fantasy, Classics" {
		t.Errorf("TagsWithDeDRM = %q", got)
	}

	rec.Meta["tags"] = ""
	if got := rec.TagsWithID("42"); got != "ogre_id=42" {
		t.Errorf("TagsWithID with no tags = %q", got)
	}
	if got := rec.TagsWithDeDRM(); got != "OGRE-DeDRM" {
		t.Errorf("TagsWithDeDRM with no tags = %q", got)
	}
}

func TestAuthorTitleKeyNormalizes(t *testing.T) {
	// e + combining acute vs precomposed e-acute must produce the same key.
	decomposed := ebook.AuthorTitleKey("André", "Gide", "Les Caves")
	precomposed := ebook.AuthorTitleKey("André", "Gide", "Les Caves")
	if decomposed != precomposed {
		t.Errorf("keys differ: %q vs %q", decomposed, precomposed)
	}
}
