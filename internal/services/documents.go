// Package services – document reconciliation.
//
// The DocumentManager turns the ordered list of document inputs attached to
// a create or edit into the persisted shape: the physical and digital name
// arrays plus the name→URL map. Uploads run after the base record has
// committed; a failed upload is reported per document and never unwinds the
// name arrays.
package services

import (
	"context"
	"strings"

	"github.com/gcgeo/go-prestation-backend/internal/domain"
	"github.com/gcgeo/go-prestation-backend/internal/storage"
)

// FileUpload is a pending file carried by a digital document input.
type FileUpload struct {
	Filename    string
	ContentType string
	Content     []byte
}

// DocumentInput is one document entry as submitted by the intake or edit
// form: a name, its type membership, and at most one pending file.
type DocumentInput struct {
	Name      string
	Physique  bool
	Numerique bool
	File      *FileUpload
}

// DocumentManager classifies documents and drives file uploads through the
// object store.
type DocumentManager struct {
	Store storage.ObjectStore
}

// Partition derives the two persisted name arrays from inputs. An entry with
// both types appears in both arrays; duplicate names keep their first
// occurrence; blank names are dropped. Partition performs no I/O, so it can
// run inside the allocation transaction.
func (DocumentManager) Partition(inputs []DocumentInput) (physiques, numeriques domain.StringList) {
	physiques = domain.StringList{}
	numeriques = domain.StringList{}
	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if in.Physique {
			physiques = append(physiques, name)
		}
		if in.Numerique {
			numeriques = append(numeriques, name)
		}
	}
	return physiques, numeriques
}

// ReconcileURLs computes the URL map for a record after an edit or create,
// uploading pending files. Rules:
//   - only digital documents may carry URLs; names whose digital membership
//     was removed lose their stored entry,
//   - a new upload replaces the previous URL list (single-URL policy),
//   - a digital document without a new file keeps its prior URLs,
//   - an upload failure keeps the prior URLs (if any) and is reported in the
//     returned slice; remaining documents still process.
func (m DocumentManager) ReconcileURLs(ctx context.Context, recordID string, inputs []DocumentInput, prior domain.URLMap) (domain.URLMap, []UploadError) {
	urls := domain.URLMap{}
	var failures []UploadError

	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		name := strings.TrimSpace(in.Name)
		if name == "" || !in.Numerique {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		if in.File == nil {
			if kept, ok := prior[name]; ok {
				urls[name] = kept
			}
			continue
		}

		key := storage.DocumentKey(recordID, name, in.File.Filename)
		url, err := m.Store.Upload(ctx, key, in.File.Content, in.File.ContentType)
		if err != nil {
			failures = append(failures, UploadError{Document: name, Err: err})
			if kept, ok := prior[name]; ok {
				urls[name] = kept
			}
			continue
		}
		urls[name] = []string{url}
	}
	return urls, failures
}

// hasPendingFiles reports whether any input carries a file to upload.
func hasPendingFiles(inputs []DocumentInput) bool {
	for _, in := range inputs {
		if in.File != nil && in.Numerique {
			return true
		}
	}
	return false
}
