// Package imagesource enumerates image files under a dataset root and decodes
// them into memory.
package imagesource

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/camo-age-screener/internal/utils"
)

// ErrUndecodable marks an image whose bytes could not be turned into pixels.
// The pipeline skips such images without aborting the run.
var ErrUndecodable = errors.New("image could not be decoded")

// ErrNotDirectory is returned when the dataset root is not a directory
var ErrNotDirectory = errors.New("not a directory")

// DecodeError describes why a single image could not be decoded
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes every DecodeError match ErrUndecodable
func (e *DecodeError) Is(target error) bool {
	return target == ErrUndecodable
}

// SkipFunc is told about a dataset entry that could not be read during
// enumeration
type SkipFunc func(path string, err error)

// Source is a dataset root restricted to a set of image extensions
type Source struct {
	root   string
	exts   []string
	onSkip SkipFunc
}

// New creates a Source. A nil extension list selects utils.DefaultImageExtensions.
func New(root string, exts []string) *Source {
	if exts != nil {
		exts = utils.NormalizeExtensions(exts)
	}
	return &Source{root: root, exts: exts}
}

// Root returns the dataset root directory
func (s *Source) Root() string {
	return s.root
}

// OnSkip registers fn to be told about unreadable entries below the root
func (s *Source) OnSkip(fn SkipFunc) {
	s.onSkip = fn
}

// Paths enumerates the image paths of the dataset in sorted order
func (s *Source) Paths() ([]string, error) {
	return Walk(s.root, s.exts, s.onSkip)
}

// Decode loads one image of the dataset
func (s *Source) Decode(path string) (image.Image, error) {
	return Decode(path)
}

// CheckRoot verifies that the dataset root exists and is a directory
func CheckRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("dataset %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("dataset %s: %w", root, ErrNotDirectory)
	}
	return nil
}

// Enumerate walks root recursively and returns every file whose extension is
// an image extension, sorted lexicographically by path. Two runs over the same
// directory contents always return the same order.
func Enumerate(root string, exts []string) ([]string, error) {
	return Walk(root, exts, nil)
}

// Walk is Enumerate with a callback for skipped entries. An entry below the
// root that cannot be read is left out (a whole subtree for a directory) and
// reported to skip, which may be nil. Only a bad root fails the walk.
func Walk(root string, exts []string, skip SkipFunc) ([]string, error) {
	if err := CheckRoot(root); err != nil {
		return nil, err
	}

	w := &walker{root: root, exts: exts, skip: skip}
	if err := filepath.WalkDir(root, w.visit); err != nil {
		return nil, fmt.Errorf("walk dataset %s: %w", root, err)
	}

	sort.Strings(w.paths)
	return w.paths, nil
}

type walker struct {
	root  string
	exts  []string
	skip  SkipFunc
	paths []string
}

func (w *walker) visit(path string, d fs.DirEntry, err error) error {
	if err != nil {
		if path == w.root {
			return err
		}
		if w.skip != nil {
			w.skip(path, err)
		}
		if d != nil && d.IsDir() {
			return fs.SkipDir
		}
		return nil
	}
	if !d.IsDir() && utils.IsImageFile(path, w.exts) {
		w.paths = append(w.paths, path)
	}
	return nil
}

// Decode reads an image by content, not by extension. EXIF orientation is
// applied. Any failure (missing, empty, corrupt or unknown format) returns a
// *DecodeError matching ErrUndecodable.
func Decode(path string) (image.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	if info.Size() == 0 {
		return nil, &DecodeError{Path: path, Err: errors.New("empty file")}
	}

	// Try imaging.Open (registered decoders)
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode
	f, ferr := os.Open(path)
	if ferr != nil {
		return nil, &DecodeError{Path: path, Err: ferr}
	}
	defer f.Close()

	if wimg, werr := webp.Decode(f); werr == nil {
		return wimg, nil
	}
	return nil, &DecodeError{Path: path, Err: err}
}
