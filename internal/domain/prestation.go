// Package domain defines the persistence models for prestations (service
// requests) and their supporting value types. Types here are mapped with
// GORM and form the core data layer of the application.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Prestation is one client service request moving through the office's
// lifecycle, from intake at the front desk to treatment or refusal.
//
// Identifier fields:
//   - Numero: the intake code minted at creation (GCG-YYYY-MMNNNN). It is
//     permanent and unique across all records.
//   - CodePrestation: the working code. Equal to Numero until the request is
//     accepted, at which point a fresh code is minted from the acceptance
//     month's sequence. Not globally unique: an accepted record's code can
//     coincide with another record's intake copy, so uniqueness is enforced
//     only on Numero plus the serialized acceptance transaction.
//
// Deletion is physical. A removed record frees its sequence number for
// reallocation within the same month.
type Prestation struct {
	ID             string `json:"id"              gorm:"type:char(36);primaryKey"`
	Numero         string `json:"numero"          gorm:"type:varchar(16);not null;uniqueIndex:ux_prestations_numero"`
	CodePrestation string `json:"code_prestation" gorm:"type:varchar(16);not null;index:idx_prestations_code"`

	ClientNom        string `json:"client_nom"        gorm:"type:varchar(255);not null"`
	ClientType       string `json:"client_type"       gorm:"type:varchar(64)"`
	ProcedureChoisie string `json:"procedure_choisie" gorm:"type:varchar(255)"`
	DepartmentID     string `json:"department_id"     gorm:"type:varchar(64);index"`
	Commune          string `json:"commune"           gorm:"type:varchar(255)"`
	LieuDit          string `json:"lieu_dit"          gorm:"type:varchar(255)"`

	DocumentsPhysiques  StringList `json:"documents_physiques"  gorm:"type:text"`
	DocumentsNumeriques StringList `json:"documents_numeriques" gorm:"type:text"`
	DocumentURLs        URLMap     `json:"document_urls"        gorm:"type:text"`

	Statut   Status   `json:"statut"   gorm:"type:varchar(32);not null;index"`
	Priorite Priority `json:"priorite" gorm:"type:varchar(32);not null"`

	AssignedDepartment string     `json:"assigned_department" gorm:"type:varchar(64)"`
	ValidationNotes    string     `json:"validation_notes"    gorm:"type:text"`
	ValidatedAt        *time.Time `json:"validated_at,omitempty"`

	AcceptedBy string     `json:"accepted_by" gorm:"type:varchar(128)"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty" gorm:"index"`

	RaisonRefus string     `json:"raison_refus" gorm:"type:text"`
	DateRefus   *time.Time `json:"date_refus,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Prestation.
func (Prestation) TableName() string { return "prestations" }

// Document is the reassembled view of one named document: its type
// membership plus the URLs of any uploaded file. It is derived, never
// stored; the three persisted columns remain the source of truth.
type Document struct {
	Name      string   `json:"name"`
	Physique  bool     `json:"physique"`
	Numerique bool     `json:"numerique"`
	URLs      []string `json:"urls,omitempty"`
}

// Documents merges the two name arrays and the URL map into per-name
// entries, preserving first-appearance order (physical names first).
func (p *Prestation) Documents() []Document {
	index := make(map[string]int, len(p.DocumentsPhysiques)+len(p.DocumentsNumeriques))
	var out []Document

	add := func(name string) int {
		if i, ok := index[name]; ok {
			return i
		}
		index[name] = len(out)
		out = append(out, Document{Name: name})
		return len(out) - 1
	}
	for _, name := range p.DocumentsPhysiques {
		out[add(name)].Physique = true
	}
	for _, name := range p.DocumentsNumeriques {
		i := add(name)
		out[i].Numerique = true
		out[i].URLs = p.DocumentURLs[name]
	}
	return out
}

// StringList is an ordered list of document names persisted as a JSON array
// in a single text column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	b, err := json.Marshal(l)
	return string(b), err
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error { return scanJSON(src, l) }

// URLMap maps a digital document name to the URLs of its uploaded files,
// persisted as a JSON object in a single text column. Current policy stores
// at most one URL per name; the slice shape is kept for stored data that
// predates it.
type URLMap map[string][]string

// Value implements driver.Valuer.
func (m URLMap) Value() (driver.Value, error) {
	if m == nil {
		m = URLMap{}
	}
	b, err := json.Marshal(m)
	return string(b), err
}

// Scan implements sql.Scanner.
func (m *URLMap) Scan(src any) error { return scanJSON(src, m) }

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("domain: cannot scan %T into JSON column", src)
	}
}
