package specification

import (
	"strings"

	"gorm.io/gorm"
)

// ByUsername matches case-insensitively; handles are stored as typed by the user.
type ByUsername struct {
	Username string
}

func (s ByUsername) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("LOWER(username) = ?", strings.ToLower(s.Username))
}
