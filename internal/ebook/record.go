package ebook

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Composite-key delimiters. Two distinct control characters keep the joined
// firstname/lastname/title string collision-free against natural text.
const (
	delimAuthor = "\u0006"
	delimTitle  = "\u0007"
)

// DeDRMTag marks a file whose DRM was already stripped by a previous run.
const DeDRMTag = "OGRE-DeDRM"

// IDTagPrefix embeds the server-assigned catalog id into a tags field for
// formats without identifier metadata support.
const IDTagPrefix = "ogre_id="

// Record is one discovered ebook file.
type Record struct {
	Path        string
	Format      string
	FileHash    string
	Size        int64
	EbookID     string
	AuthorTitle string
	DRMFree     bool
	Skip        bool
	InCache     bool
	Meta        map[string]string
}

// New creates a record for a discovered file. The format defaults to the
// file extension when empty.
func New(path, format, source string) *Record {
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	return &Record{
		Path:   path,
		Format: format,
		Meta:   map[string]string{"source": source},
	}
}

// String renders a human-readable identity for log lines.
func (r *Record) String() string {
	if r.Meta["title"] != "" {
		return fmt.Sprintf("%s %s - %s.%s", r.Meta["firstname"], r.Meta["lastname"], r.Meta["title"], r.Format)
	}
	base := filepath.Base(r.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SafeName is the stable upload filename: content hash plus format.
func (r *Record) SafeName() string {
	return fmt.Sprintf("%s.%s", r.FileHash, r.Format)
}

// ShortPath strips the library root prefix for display.
func (r *Record) ShortPath(libraryDir string) string {
	if rel, err := filepath.Rel(libraryDir, r.Path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return r.Path
}

// Source returns the provider tag recorded at discovery time.
func (r *Record) Source() string {
	return r.Meta["source"]
}

// BuildAuthorTitle derives and stores the composite dedup key from extracted
// metadata. Extraction must have run first.
func (r *Record) BuildAuthorTitle() string {
	r.AuthorTitle = AuthorTitleKey(r.Meta["firstname"], r.Meta["lastname"], r.Meta["title"])
	return r.AuthorTitle
}

// AuthorTitleKey joins name parts with the composite-key delimiters. Parts
// are NFC-normalized so the same book fingerprinted from different providers
// yields one key.
func AuthorTitleKey(firstname, lastname, title string) string {
	return norm.NFC.String(firstname) + delimAuthor + norm.NFC.String(lastname) + delimTitle + norm.NFC.String(title)
}

// TagsWithID prepends the catalog-id tag to the record's existing tags.
func (r *Record) TagsWithID(id string) string {
	tag := IDTagPrefix + id
	if existing := r.Meta["tags"]; existing != "" {
		return tag + ", " + existing
	}
	return tag
}

// TagsWithDeDRM prepends the DRM-stripped marker to the record's existing tags.
func (r *Record) TagsWithDeDRM() string {
	if existing := r.Meta["tags"]; existing != "" {
		return DeDRMTag + ", " + existing
	}
	return DeDRMTag
}

// Payload is the serialized form of a Record.
//
// The transport variant carries file_hash and omits authortitle (the server
// payload is already keyed by composite key); the cache variant is the
// reverse, since the cache keys rows by path and stores the hash in its own
// column.
type Payload struct {
	FileHash    string            `json:"file_hash,omitempty"`
	Format      string            `json:"format"`
	Size        int64             `json:"size"`
	DeDRM       bool              `json:"dedrm"`
	Meta        map[string]string `json:"meta"`
	EbookID     string            `json:"ebook_id,omitempty"`
	AuthorTitle string            `json:"authortitle,omitempty"`
}

// Serialize builds the transport payload for catalog submission.
func (r *Record) Serialize() Payload {
	return Payload{
		FileHash: r.FileHash,
		Format:   r.Format,
		Size:     r.Size,
		DeDRM:    r.DRMFree,
		Meta:     r.Meta,
		EbookID:  r.EbookID,
	}
}

// SerializeForCache builds the cache payload variant.
func (r *Record) SerializeForCache() Payload {
	return Payload{
		Format:      r.Format,
		Size:        r.Size,
		DeDRM:       r.DRMFree,
		Meta:        r.Meta,
		EbookID:     r.EbookID,
		AuthorTitle: r.AuthorTitle,
	}
}

// FromPayload reconstructs a record from a cache payload.
func FromPayload(path, fileHash string, drmFree, skip bool, p Payload) *Record {
	meta := p.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	return &Record{
		Path:        path,
		Format:      p.Format,
		FileHash:    fileHash,
		Size:        p.Size,
		EbookID:     p.EbookID,
		AuthorTitle: p.AuthorTitle,
		DRMFree:     drmFree,
		Skip:        skip,
		InCache:     true,
		Meta:        meta,
	}
}
