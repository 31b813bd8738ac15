package ebook

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
)

// Fingerprint computes the content hash and byte size of the file at path.
// The hash is the record's exact identity and the server's file_hash key.
func Fingerprint(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", 0, &MissingFileError{Path: path}
		}
		return "", 0, err
	}
	defer file.Close()

	hasher := md5.New()
	size, err := io.Copy(hasher, file)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

// ComputeFingerprint computes and stores the record's hash and size.
func (r *Record) ComputeFingerprint() error {
	hash, size, err := Fingerprint(r.Path)
	if err != nil {
		return err
	}
	r.FileHash = hash
	r.Size = size
	return nil
}
