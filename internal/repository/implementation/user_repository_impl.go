package implementation

import (
	"context"
	"errors"

	"wordware-roast-be/internal/entity"
	"wordware-roast-be/internal/mapper"
	"wordware-roast-be/internal/model"
	"wordware-roast-be/internal/repository/contract"
	"wordware-roast-be/internal/repository/specification"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type UserRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.UserMapper
}

func NewUserRepository(db *gorm.DB) contract.UserRepository {
	return &UserRepositoryImpl{
		db:     db,
		mapper: mapper.NewUserMapper(),
	}
}

func (r *UserRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *UserRepositoryImpl) Create(ctx context.Context, user *entity.User) error {
	modelUser := r.mapper.ToModel(user)
	if err := r.db.WithContext(ctx).Create(modelUser).Error; err != nil {
		return err
	}
	*user = *r.mapper.ToEntity(modelUser)
	return nil
}

func (r *UserRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.User, error) {
	var modelUser model.User
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)

	if err := query.First(&modelUser).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return r.mapper.ToEntity(&modelUser), nil
}

// UpdateFields uses a column map so false booleans and nil timestamps are
// written too; struct-based Updates would skip zero values.
func (r *UserRepositoryImpl) UpdateFields(ctx context.Context, username string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	columns := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if analysis, ok := v.(map[string]interface{}); ok {
			v = datatypes.JSONMap(analysis)
		}
		columns[k] = v
	}

	res := r.db.WithContext(ctx).Model(&model.User{}).
		Where("username = ?", username).
		Updates(columns)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return contract.ErrUserNotFound
	}
	return nil
}
