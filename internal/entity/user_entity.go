package entity

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	Id             uuid.UUID
	Username       string
	Name           string
	ProfilePicture string
	FullProfile    string // raw JSON text, forwarded as profileInfo
	Tweets         []Tweet
	Analysis       map[string]interface{}

	WordwareStarted         bool
	WordwareStartedTime     *time.Time
	WordwareCompleted       bool
	PaidWordwareStarted     bool
	PaidWordwareStartedTime *time.Time
	PaidWordwareCompleted   bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

type TweetAuthor struct {
	UserName string `json:"userName"`
}

// Tweet is the scraped tweet shape stored on the user record.
type Tweet struct {
	Id           string       `json:"id,omitempty"`
	IsRetweet    bool         `json:"isRetweet"`
	Author       *TweetAuthor `json:"author,omitempty"`
	CreatedAt    string       `json:"createdAt"`
	Text         *string      `json:"text,omitempty"`
	RetweetCount *int         `json:"retweetCount,omitempty"`
	ReplyCount   *int         `json:"replyCount,omitempty"`
	LikeCount    *int         `json:"likeCount,omitempty"`
	QuoteCount   *int         `json:"quoteCount,omitempty"`
	ViewCount    *int         `json:"viewCount,omitempty"`
}
