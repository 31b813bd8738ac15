// Package providers enumerates candidate ebook sources on the host: the
// configured library directory plus any vendor app libraries (Kindle, Adobe
// Digital Editions) present for the current platform.
package providers

import (
	"context"
	"encoding/xml"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"ogreclient/internal/config"
	"ogreclient/internal/services"
)

// Provider yields candidate file paths from one source.
type Provider interface {
	Name() string
	// Enumerate returns candidate paths for which match(filename) is true.
	Enumerate(ctx context.Context, match func(name string) bool) ([]string, error)
}

// Directory walks a root recursively.
type Directory struct {
	name string
	root string
}

// NewDirectory builds a directory provider.
func NewDirectory(name, root string) *Directory {
	return &Directory{name: name, root: root}
}

func (d *Directory) Name() string { return d.name }

// Root returns the walked directory.
func (d *Directory) Root() string { return d.root }

func (d *Directory) Enumerate(ctx context.Context, match func(name string) bool) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if match(entry.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s provider: %w", d.name, err)
	}
	return paths, nil
}

// PathList iterates an explicit enumeration of files, e.g. entries pulled
// from a vendor manifest.
type PathList struct {
	name  string
	paths []string
}

// NewPathList builds a path-list provider.
func NewPathList(name string, paths []string) *PathList {
	return &PathList{name: name, paths: paths}
}

func (p *PathList) Name() string { return p.name }

func (p *PathList) Enumerate(ctx context.Context, match func(name string) bool) ([]string, error) {
	var out []string
	for _, path := range p.paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !match(filepath.Base(path)) {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		out = append(out, path)
	}
	return out, nil
}

// ADE enumerates the books known to Adobe Digital Editions. ADE keeps one
// .xml manifest per book under its manifest directory; each names the book
// file in a dp:content href, and the books themselves usually live elsewhere
// on disk. Manifests whose book is gone are dropped.
type ADE struct {
	root string
}

// NewADE builds a provider over an ADE manifest directory.
func NewADE(root string) *ADE {
	return &ADE{root: root}
}

func (a *ADE) Name() string { return "ade" }

// Root returns the manifest directory.
func (a *ADE) Root() string { return a.root }

func (a *ADE) Enumerate(ctx context.Context, match func(name string) bool) ([]string, error) {
	var books []string
	err := filepath.WalkDir(a.root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".xml") {
			return nil
		}
		if book, ok := manifestBookPath(path); ok {
			books = append(books, book)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk ade manifests: %w", err)
	}
	return NewPathList(a.Name(), books).Enumerate(ctx, match)
}

// manifestBookPath pulls the book location out of one manifest's dp:content
// href. Manifests without one are ignored.
func manifestBookPath(manifest string) (string, bool) {
	file, err := os.Open(manifest)
	if err != nil {
		return "", false
	}
	defer file.Close()

	decoder := xml.NewDecoder(file)
	for {
		token, err := decoder.Token()
		if err != nil {
			return "", false
		}
		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "content" {
			continue
		}
		for _, attr := range start.Attr {
			if attr.Name.Local == "href" {
				return resolveManifestHref(filepath.Dir(manifest), attr.Value)
			}
		}
		return "", false
	}
}

// resolveManifestHref decodes a manifest href into a filesystem path.
// Relative hrefs resolve against the manifest's own directory.
func resolveManifestHref(baseDir, href string) (string, bool) {
	parsed, err := url.Parse(href)
	if err != nil || parsed.Path == "" {
		return "", false
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = "/" + parsed.Host + path
	}
	path = filepath.FromSlash(path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return filepath.Clean(path), true
}

type vendorRoot struct {
	name  string
	roots []string
}

// vendor library locations per platform, relative to the home directory.
// Ordered so discovery is deterministic.
var vendorRoots = map[string][]vendorRoot{
	"darwin": {
		{name: "kindle", roots: []string{"Library/Application Support/Kindle/My Kindle Content"}},
		{name: "ade", roots: []string{"Documents/Digital Editions"}},
	},
	"windows": {
		{name: "kindle", roots: []string{`Documents\My Kindle Content`}},
		{name: "ade", roots: []string{`Documents\My Digital Editions`}},
	},
}

// Locate assembles the active provider set. Vendor libraries missing from
// the host are dropped with a debug line; a missing primary library directory
// is fatal.
func Locate(cfg *config.Config, logger *slog.Logger) ([]Provider, error) {
	return locate(cfg, logger, runtime.GOOS, os.UserHomeDir)
}

func locate(cfg *config.Config, logger *slog.Logger, goos string, homeDir func() (string, error)) ([]Provider, error) {
	libraryDir := cfg.Paths.LibraryDir
	if info, err := os.Stat(libraryDir); err != nil || !info.IsDir() {
		return nil, services.Wrap(services.ErrConfiguration, "scan", "locate_providers",
			fmt.Sprintf("library directory %s does not exist", libraryDir), err)
	}
	active := []Provider{NewDirectory("home", libraryDir)}

	ignored := map[string]bool{}
	for _, name := range cfg.Scan.IgnoreProviders {
		ignored[name] = true
	}

	if cfg.Scan.KindleLibPath != "" && !ignored["kindle"] {
		if info, err := os.Stat(cfg.Scan.KindleLibPath); err == nil && info.IsDir() {
			active = append(active, NewDirectory("kindle", cfg.Scan.KindleLibPath))
			ignored["kindle"] = true
		} else {
			logger.Warn("configured kindle library path not found",
				slog.String("component", "providers"),
				slog.String("path", cfg.Scan.KindleLibPath))
		}
	}

	home, err := homeDir()
	if err != nil {
		logger.Warn("home directory unavailable, vendor providers skipped",
			slog.String("component", "providers"),
			slog.String("error", err.Error()))
		return active, nil
	}

	for _, vendor := range vendorRoots[goos] {
		if ignored[vendor.name] {
			continue
		}
		found := false
		for _, rel := range vendor.roots {
			root := filepath.Join(home, filepath.FromSlash(rel))
			if info, statErr := os.Stat(root); statErr == nil && info.IsDir() {
				// ADE points at its manifest dir, not the books themselves.
				if vendor.name == "ade" {
					active = append(active, NewADE(root))
				} else {
					active = append(active, NewDirectory(vendor.name, root))
				}
				if vendor.name == "kindle" && cfg.Scan.KindleLibPath == "" {
					// Remember the discovered path so later runs (and the
					// config write-back) skip rediscovery.
					cfg.Scan.KindleLibPath = root
				}
				found = true
				break
			}
		}
		if !found {
			logger.Debug("provider not present on host",
				slog.String("component", "providers"),
				slog.String("provider", vendor.name))
		}
	}
	return active, nil
}
