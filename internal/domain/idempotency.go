// Idempotency persistence model shared by the repository and the HTTP
// middleware.
package domain

import "time"

// Idempotency records a previously processed unsafe request, keyed by
// (user_id, route, key). The intake form is the main client: a double-clicked
// submit retries with the same Idempotency-Key and must not mint a second
// prestation code.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_route_key,priority:1"`
	Route     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_route_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_route_key,priority:3"`
	RecordID  string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
