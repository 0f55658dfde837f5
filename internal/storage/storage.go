// Package storage abstracts the binary-object store behind the document
// uploads. The contract is deliberately narrow: store bytes under a unique
// key, get back a URL that resolves to exactly those bytes. A Google Cloud
// Storage client backs production; a process-local store backs development
// and tests.
package storage

import (
	"context"
	"path"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ObjectStore stores an uploaded file under a key and returns a retrievable
// URL. Implementations must treat keys as append-only: a key is never
// written twice (callers derive a fresh uniqueness token per upload).
type ObjectStore interface {
	Upload(ctx context.Context, key string, content []byte, contentType string) (url string, err error)
}

// DocumentKey derives the object key for one uploaded document file:
// prestations/<record id>/<slug>-<token><ext>. The slug is the document name
// with diacritics folded and anything outside [a-z0-9-_] dropped, so French
// labels like "Plan de délimitation" become stable ASCII path segments. The
// token makes every upload a fresh key, which is what lets a replacement
// upload coexist with cached reads of the previous file.
func DocumentKey(recordID, documentName, filename string) string {
	slug := Slugify(documentName)
	if slug == "" {
		slug = "document"
	}
	ext := strings.ToLower(path.Ext(filename))
	token := uuid.NewString()[:8]
	return path.Join("prestations", recordID, slug+"-"+token+ext)
}

// foldDiacritics decomposes to NFD, strips combining marks, and recomposes.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify folds a document name into a lowercase ASCII path segment.
func Slugify(name string) string {
	folded, _, err := transform.String(foldDiacritics, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(strings.TrimSpace(folded))

	var b strings.Builder
	lastDash := true // suppress leading dashes
	for _, r := range folded {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			b.WriteRune(r)
			lastDash = false
		case r == ' ' || r == '-' || r == '\'' || r == '.':
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
