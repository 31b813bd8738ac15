package ebook

import "fmt"

// MissingFileError reports a file that vanished between discovery and
// processing.
type MissingFileError struct {
	Path string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("file missing: %s", e.Path)
}

// CorruptEbookError reports a file the metadata tool could not read, or a
// path that cannot be processed at all.
type CorruptEbookError struct {
	Path string
	Msg  string
	Err  error
}

func (e *CorruptEbookError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("corrupt ebook %s: %s", e.Path, e.Msg)
	}
	return fmt.Sprintf("corrupt ebook %s", e.Path)
}

func (e *CorruptEbookError) Unwrap() error {
	return e.Err
}
