// Package imagematch pairs product names with image files by filename
// similarity. It is deliberately heuristic: catalog imports rarely ship
// with exact image references, so the matcher looks for the product
// name, then its leading token, then any meaningful token inside the
// normalized filename.
package imagematch

import (
	"os"
	"strings"
	"unicode"
)

// Lister enumerates candidate image filenames. Implementations must
// return names in a stable order so repeated runs assign the same
// images.
type Lister interface {
	ListImages() ([]string, error)
}

// DirLister lists the regular files of a directory on disk.
// os.ReadDir already sorts entries by name.
type DirLister struct {
	Dir string
}

func (l DirLister) ListImages() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		files = append(files, entry.Name())
	}
	return files, nil
}

// StaticLister serves a fixed file list, mainly for tests.
type StaticLister struct {
	Files []string
}

func (l StaticLister) ListImages() ([]string, error) {
	return append([]string(nil), l.Files...), nil
}

// Normalize lowercases the input and strips every character that is not
// a letter, digit, or whitespace. Punctuation is dropped outright, so
// "airpods-pro.jpg" becomes "airpodsprojpg".
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.TrimSpace(b.String())
}

// Match returns the first filename that matches the product name, or
// "" when nothing does. Filenames are tried in the given order, so the
// caller controls tie-breaking. Matching proceeds in three passes of
// decreasing strictness:
//
//  1. the whole normalized name appears in the normalized filename
//  2. the first token of the name appears in the filename
//  3. any token appears in the filename
//
// One- and two-character needles are never matched in any pass; short
// fragments like "x" or "tv" hit almost everything and produce garbage
// assignments.
func Match(name string, files []string) string {
	target := Normalize(name)
	if target == "" {
		return ""
	}
	tokens := strings.Fields(target)

	normalized := make([]string, len(files))
	for i, f := range files {
		normalized[i] = Normalize(f)
	}

	if len(target) > 2 {
		for i, nf := range normalized {
			if strings.Contains(nf, target) {
				return files[i]
			}
		}
	}
	if len(tokens) > 0 && len(tokens[0]) > 2 {
		for i, nf := range normalized {
			if strings.Contains(nf, tokens[0]) {
				return files[i]
			}
		}
	}
	for _, tok := range tokens {
		if len(tok) <= 2 {
			continue
		}
		for i, nf := range normalized {
			if strings.Contains(nf, tok) {
				return files[i]
			}
		}
	}
	return ""
}
