package storage

import (
	"context"
	"strings"
	"testing"
)

func TestSlugify_FoldsDiacriticsAndSpaces(t *testing.T) {
	cases := map[string]string{
		"Plan de délimitation":     "plan-de-delimitation",
		"Titre foncier":            "titre-foncier",
		"Procès-verbal de bornage": "proces-verbal-de-bornage",
		"CNI du propriétaire":      "cni-du-proprietaire",
		"  Attestation   ":         "attestation",
		"état des lieux":           "etat-des-lieux",
		"N° d'ordre":               "n-d-ordre",
		"":                         "",
		"!!!":                      "",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDocumentKey_ShapeAndUniqueness(t *testing.T) {
	k1 := DocumentKey("rec-1", "Plan de délimitation", "plan.pdf")
	k2 := DocumentKey("rec-1", "Plan de délimitation", "plan.pdf")

	if !strings.HasPrefix(k1, "prestations/rec-1/plan-de-delimitation-") {
		t.Fatalf("unexpected key shape: %q", k1)
	}
	if !strings.HasSuffix(k1, ".pdf") {
		t.Fatalf("extension lost: %q", k1)
	}
	if k1 == k2 {
		t.Fatalf("two uploads produced the same key: %q", k1)
	}
}

func TestDocumentKey_EmptySlugFallsBack(t *testing.T) {
	k := DocumentKey("rec-2", "###", "f.png")
	if !strings.HasPrefix(k, "prestations/rec-2/document-") {
		t.Fatalf("unexpected fallback key: %q", k)
	}
}

func TestLocalStore_UploadAndReadBack(t *testing.T) {
	st := NewLocalStore("")
	url, err := st.Upload(context.Background(), "prestations/x/a.pdf", []byte("pdf-bytes"), "application/pdf")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "memory://prestations/x/a.pdf" {
		t.Fatalf("unexpected url: %q", url)
	}
	b, ok := st.Get("prestations/x/a.pdf")
	if !ok || string(b) != "pdf-bytes" {
		t.Fatalf("round-trip mismatch: %q ok=%v", b, ok)
	}

	// Keys are append-only.
	if _, err := st.Upload(context.Background(), "prestations/x/a.pdf", []byte("other"), ""); err == nil {
		t.Fatalf("expected rewrite of existing key to fail")
	}
}
