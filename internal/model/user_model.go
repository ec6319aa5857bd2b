package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type User struct {
	Id             uuid.UUID         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Username       string            `gorm:"type:varchar(50);uniqueIndex;not null"`
	Name           string            `gorm:"type:varchar(255)"`
	ProfilePicture string            `gorm:"type:text"`
	FullProfile    datatypes.JSON    `gorm:"type:jsonb"`
	Tweets         datatypes.JSON    `gorm:"type:jsonb"`
	Analysis       datatypes.JSONMap `gorm:"type:jsonb"`

	WordwareStarted         bool `gorm:"default:false"`
	WordwareStartedTime     *time.Time
	WordwareCompleted       bool `gorm:"default:false"`
	PaidWordwareStarted     bool `gorm:"default:false"`
	PaidWordwareStartedTime *time.Time
	PaidWordwareCompleted   bool `gorm:"default:false"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}
