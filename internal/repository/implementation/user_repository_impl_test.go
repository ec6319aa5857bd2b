package implementation

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"wordware-roast-be/internal/entity"
	"wordware-roast-be/internal/model"
	"wordware-roast-be/internal/repository/contract"
	"wordware-roast-be/internal/repository/specification"
	"wordware-roast-be/pkg/database"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real Postgres; skipped unless DB_CONNECTION_STRING is set.
func TestUserRepository_Postgres(t *testing.T) {
	if err := godotenv.Load("../../../.env"); err != nil {
		log.Println("No .env file found, using system env")
	}
	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		t.Skip("Skipping integration test: DB_CONNECTION_STRING not set")
	}

	db, err := database.NewGormDBFromDSN(dsn, false)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.User{}))

	ctx := context.Background()
	repo := NewUserRepository(db)
	username := "it_" + uuid.NewString()[:8]
	text := "hello"

	user := &entity.User{
		Username:    username,
		FullProfile: `{"bio":"test"}`,
		Tweets:      []entity.Tweet{{CreatedAt: "today", Text: &text}},
		Analysis:    map[string]interface{}{"old": "kept"},
	}
	require.NoError(t, repo.Create(ctx, user))
	t.Cleanup(func() { db.Where("username = ?", username).Delete(&model.User{}) })

	t.Run("find is case insensitive", func(t *testing.T) {
		found, err := repo.FindOne(ctx, specification.ByUsername{Username: "IT_" + username[3:]})
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, username, found.Username)
		require.Len(t, found.Tweets, 1)
		assert.Equal(t, "hello", *found.Tweets[0].Text)
	})

	t.Run("update fields writes false and leaves other columns", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, repo.UpdateFields(ctx, username, map[string]interface{}{
			"wordware_started":      true,
			"wordware_started_time": now,
		}))
		require.NoError(t, repo.UpdateFields(ctx, username, map[string]interface{}{
			"wordware_completed": true,
			"analysis":           map[string]interface{}{"old": "kept", "roast": "ok"},
		}))
		require.NoError(t, repo.UpdateFields(ctx, username, map[string]interface{}{
			"wordware_started":   false,
			"wordware_completed": false,
		}))

		found, err := repo.FindOne(ctx, specification.ByUsername{Username: username})
		require.NoError(t, err)
		assert.False(t, found.WordwareStarted)
		assert.False(t, found.WordwareCompleted)
		require.NotNil(t, found.WordwareStartedTime)
		assert.True(t, now.Equal(found.WordwareStartedTime.UTC()))
		assert.Equal(t, map[string]interface{}{"old": "kept", "roast": "ok"}, found.Analysis)
	})

	t.Run("missing user", func(t *testing.T) {
		found, err := repo.FindOne(ctx, specification.ByUsername{Username: "nobody_" + username})
		assert.NoError(t, err)
		assert.Nil(t, found)

		err = repo.UpdateFields(ctx, "nobody_"+username, map[string]interface{}{"wordware_started": true})
		assert.ErrorIs(t, err, contract.ErrUserNotFound)
	})
}
