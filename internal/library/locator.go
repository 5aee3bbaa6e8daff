// Package library finds the symlinks an organized media library keeps to
// items exposed under the mount directory.
package library

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// IDsDir is the mount directory entry that exposes every item by id.
const IDsDir = ".ids"

// Locator maps item ids to symlinks under the library directory whose target
// is mountDir/.ids/.../<id>[.ext].
type Locator struct {
	libraryDir string
	mountDir   string

	mu    sync.Mutex
	cache map[string]string
}

func NewLocator(libraryDir, mountDir string) *Locator {
	return &Locator{
		libraryDir: libraryDir,
		mountDir:   mountDir,
		cache:      make(map[string]string),
	}
}

// Link is one library symlink that points at an item.
type Link struct {
	Path   string
	ItemID string
}

// FindSymlink returns the library symlink pointing at itemID, or "" when there
// is none. A cached link is verified before it is returned.
func (l *Locator) FindSymlink(itemID string) (string, error) {
	if l.libraryDir == "" {
		return "", nil
	}

	l.mu.Lock()
	cached, ok := l.cache[itemID]
	l.mu.Unlock()
	if ok && l.verify(cached, itemID) {
		return cached, nil
	}

	links, err := l.Links()
	if err != nil {
		return "", err
	}

	found := ""
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, itemID)
	for _, link := range links {
		l.cache[link.ItemID] = link.Path
		if link.ItemID == itemID {
			found = link.Path
		}
	}
	return found, nil
}

// Links walks the library and returns every symlink pointing at an item.
func (l *Locator) Links() ([]Link, error) {
	var links []Link
	err := filepath.WalkDir(l.libraryDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				log.WithField("path", path).Warn("skipping unreadable library path")
				return nil
			}
			return err
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		target, err := os.Readlink(path)
		if err != nil {
			return nil
		}
		if id, ok := l.itemID(path, target); ok {
			links = append(links, Link{Path: path, ItemID: id})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

// Remove deletes the symlink and forgets it.
func (l *Locator) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, cached := range l.cache {
		if cached == path {
			delete(l.cache, id)
		}
	}
	return nil
}

func (l *Locator) verify(path, itemID string) bool {
	target, err := os.Readlink(path)
	if err != nil {
		return false
	}
	id, ok := l.itemID(path, target)
	return ok && id == itemID
}

// itemID extracts the item id from a symlink target, resolving relative
// targets against the link's directory.
func (l *Locator) itemID(linkPath, target string) (string, bool) {
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(linkPath), target)
	}
	rel, err := filepath.Rel(filepath.Clean(l.mountDir), filepath.Clean(target))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 || parts[0] != IDsDir {
		return "", false
	}
	base := parts[len(parts)-1]
	id := strings.TrimSuffix(base, filepath.Ext(base))
	if id == "" {
		return "", false
	}
	return id, true
}
