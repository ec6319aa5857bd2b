package mapper

import (
	"encoding/json"

	"wordware-roast-be/internal/entity"
	"wordware-roast-be/internal/model"

	"gorm.io/datatypes"
)

type UserMapper struct{}

func NewUserMapper() *UserMapper {
	return &UserMapper{}
}

func (m *UserMapper) ToEntity(u *model.User) *entity.User {
	if u == nil {
		return nil
	}

	var tweets []entity.Tweet
	if len(u.Tweets) > 0 {
		// A corrupt tweets column is treated as "no tweets" rather than failing the lookup.
		_ = json.Unmarshal(u.Tweets, &tweets)
	}

	var analysis map[string]interface{}
	if u.Analysis != nil {
		analysis = map[string]interface{}(u.Analysis)
	}

	return &entity.User{
		Id:             u.Id,
		Username:       u.Username,
		Name:           u.Name,
		ProfilePicture: u.ProfilePicture,
		FullProfile:    string(u.FullProfile),
		Tweets:         tweets,
		Analysis:       analysis,

		WordwareStarted:         u.WordwareStarted,
		WordwareStartedTime:     u.WordwareStartedTime,
		WordwareCompleted:       u.WordwareCompleted,
		PaidWordwareStarted:     u.PaidWordwareStarted,
		PaidWordwareStartedTime: u.PaidWordwareStartedTime,
		PaidWordwareCompleted:   u.PaidWordwareCompleted,

		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (m *UserMapper) ToModel(u *entity.User) *model.User {
	if u == nil {
		return nil
	}

	var tweets datatypes.JSON
	if u.Tweets != nil {
		if raw, err := json.Marshal(u.Tweets); err == nil {
			tweets = datatypes.JSON(raw)
		}
	}

	var fullProfile datatypes.JSON
	if u.FullProfile != "" {
		fullProfile = datatypes.JSON(u.FullProfile)
	}

	var analysis datatypes.JSONMap
	if u.Analysis != nil {
		analysis = datatypes.JSONMap(u.Analysis)
	}

	return &model.User{
		Id:             u.Id,
		Username:       u.Username,
		Name:           u.Name,
		ProfilePicture: u.ProfilePicture,
		FullProfile:    fullProfile,
		Tweets:         tweets,
		Analysis:       analysis,

		WordwareStarted:         u.WordwareStarted,
		WordwareStartedTime:     u.WordwareStartedTime,
		WordwareCompleted:       u.WordwareCompleted,
		PaidWordwareStarted:     u.PaidWordwareStarted,
		PaidWordwareStartedTime: u.PaidWordwareStartedTime,
		PaidWordwareCompleted:   u.PaidWordwareCompleted,

		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
