package service

import (
	"fmt"
	"strings"

	"wordware-roast-be/internal/entity"
)

const tweetSeparator = "\n---\n\n"

// FormatTweets renders tweets as the markdown block the prompts expect,
// prefixed with "Tweets: ". Tweets without an author are attributed to username.
func FormatTweets(username string, tweets []entity.Tweet) string {
	parts := make([]string, 0, len(tweets))
	for _, tw := range tweets {
		parts = append(parts, formatTweet(username, tw))
	}
	return "Tweets: " + strings.Join(parts, tweetSeparator)
}

func formatTweet(username string, tw entity.Tweet) string {
	retweet := ""
	if tw.IsRetweet {
		retweet = "RT "
	}

	author := username
	if tw.Author != nil && tw.Author.UserName != "" {
		author = tw.Author.UserName
	}

	text := ""
	if tw.Text != nil {
		text = *tw.Text
	}
	quoted := strings.ReplaceAll(text, "\n", "\n> ")

	return fmt.Sprintf("**%s@%s - %s**\n\n> %s\n\n*retweets: %d, replies: %d, likes: %d, quotes: %d, views: %d*",
		retweet, author, tw.CreatedAt,
		quoted,
		count(tw.RetweetCount), count(tw.ReplyCount), count(tw.LikeCount), count(tw.QuoteCount), count(tw.ViewCount),
	)
}

func count(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
