package ebook

import "sort"

// Session holds one sync run's working set: the same records indexed by
// composite key and by content hash. It is never persisted.
type Session struct {
	ByAuthorTitle map[string]*Record
	ByHash        map[string]*Record
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{
		ByAuthorTitle: map[string]*Record{},
		ByHash:        map[string]*Record{},
	}
}

// Insert indexes the record under both keys.
func (s *Session) Insert(rec *Record) {
	s.ByAuthorTitle[rec.AuthorTitle] = rec
	s.ByHash[rec.FileHash] = rec
}

// Replace swaps old for new under both keys. Used after DRM removal, where
// the decrypted output has a new hash (and usually a new path) but the same
// composite key.
func (s *Session) Replace(old, repl *Record) {
	delete(s.ByHash, old.FileHash)
	s.ByAuthorTitle[repl.AuthorTitle] = repl
	s.ByHash[repl.FileHash] = repl
}

// Remove drops the record from both indexes.
func (s *Session) Remove(rec *Record) {
	delete(s.ByAuthorTitle, rec.AuthorTitle)
	delete(s.ByHash, rec.FileHash)
}

// Records returns the session's records ordered by path, so batch passes
// behave deterministically.
func (s *Session) Records() []*Record {
	out := make([]*Record, 0, len(s.ByHash))
	for _, rec := range s.ByHash {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Len reports the number of indexed records.
func (s *Session) Len() int {
	return len(s.ByHash)
}
