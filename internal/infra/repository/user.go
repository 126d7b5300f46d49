package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/xxh3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/examwatch/internal/domain"
	"github.com/totegamma/examwatch/internal/infra/database/models"
)

const (
	userCacheTTL = 10 * 60 // seconds
)

// UserRepository is the identity store. Rows are keyed by id and by
// normalized email; memcached, when configured, fronts both lookups.
type UserRepository struct {
	db *gorm.DB
	mc *memcache.Client
}

func NewUserRepository(db *gorm.DB, mc *memcache.Client) *UserRepository {
	return &UserRepository{db: db, mc: mc}
}

func userIDKey(id int64) string {
	return "user:id:" + strconv.FormatInt(id, 10)
}

// emails may contain characters memcached rejects in keys, so hash them.
func userEmailKey(email string) string {
	return "user:email:" + strconv.FormatUint(xxh3.HashString(domain.NormalizeEmail(email)), 16)
}

func toDomainUser(m models.User) domain.User {
	return domain.User{
		ID:        m.ID,
		Email:     m.Email,
		Name:      m.Name,
		Klasse:    m.Klasse,
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func (r *UserRepository) cacheGet(key string) (models.User, bool) {
	if r.mc == nil {
		return models.User{}, false
	}
	item, err := r.mc.Get(key)
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			log.Debug().Err(err).Str("module", "identity").Msg("memcached get failed")
		}
		return models.User{}, false
	}
	var user models.User
	if err := json.Unmarshal(item.Value, &user); err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *UserRepository) cacheSet(user models.User) {
	if r.mc == nil {
		return
	}
	value, err := json.Marshal(user)
	if err != nil {
		return
	}
	for _, key := range []string{userIDKey(user.ID), userEmailKey(user.Email)} {
		err = r.mc.Set(&memcache.Item{Key: key, Value: value, Expiration: userCacheTTL})
		if err != nil {
			log.Debug().Err(err).Str("module", "identity").Msg("memcached set failed")
			return
		}
	}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (domain.User, error) {
	if cached, ok := r.cacheGet(userIDKey(id)); ok {
		return toDomainUser(cached), nil
	}

	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, domain.NotFoundError{Resource: "user"}
		}
		return domain.User{}, domain.NewStoreError("user.getByID", err)
	}
	r.cacheSet(user)
	return toDomainUser(user), nil
}

// GetByIDs returns the rows that exist; missing ids are simply absent.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.User, error) {
	result := make(map[int64]domain.User, len(ids))
	missing := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, done := result[id]; done {
			continue
		}
		if cached, ok := r.cacheGet(userIDKey(id)); ok {
			result[id] = toDomainUser(cached)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	var users []models.User
	err := r.db.WithContext(ctx).Where("id IN ?", missing).Find(&users).Error
	if err != nil {
		return nil, domain.NewStoreError("user.getByIDs", err)
	}
	for _, user := range users {
		r.cacheSet(user)
		result[user.ID] = toDomainUser(user)
	}
	return result, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	email = domain.NormalizeEmail(email)
	if cached, ok := r.cacheGet(userEmailKey(email)); ok && cached.Email == email {
		return toDomainUser(cached), nil
	}

	var user models.User
	err := r.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, domain.NotFoundError{Resource: "user"}
		}
		return domain.User{}, domain.NewStoreError("user.getByEmail", err)
	}
	r.cacheSet(user)
	return toDomainUser(user), nil
}

func (r *UserRepository) GetByEmails(ctx context.Context, emails []string) (map[string]domain.User, error) {
	result := make(map[string]domain.User, len(emails))
	if len(emails) == 0 {
		return result, nil
	}
	normalized := make([]string, 0, len(emails))
	for _, email := range emails {
		normalized = append(normalized, domain.NormalizeEmail(email))
	}

	var users []models.User
	err := r.db.WithContext(ctx).Where("email IN ?", normalized).Find(&users).Error
	if err != nil {
		return nil, domain.NewStoreError("user.getByEmails", err)
	}
	for _, user := range users {
		result[user.Email] = toDomainUser(user)
	}
	return result, nil
}

func upsertModel(du domain.DirectoryUser, now time.Time) models.User {
	u := du.User()
	return models.User{
		Email:     u.Email,
		Name:      u.Name,
		Klasse:    u.Klasse,
		UpdatedAt: now,
	}
}

var userUpsertClause = clause.OnConflict{
	Columns:   []clause.Column{{Name: "email"}},
	DoUpdates: clause.AssignmentColumns([]string{"name", "klasse", "updated_at"}),
}

func (r *UserRepository) Upsert(ctx context.Context, du domain.DirectoryUser) (domain.User, error) {
	if domain.NormalizeEmail(du.Email) == "" {
		return domain.User{}, domain.InvalidInput("user email must not be empty")
	}
	user := upsertModel(du, time.Now().UTC())
	err := r.db.WithContext(ctx).Clauses(userUpsertClause).Create(&user).Error
	if err != nil {
		return domain.User{}, domain.NewStoreError("user.upsert", err)
	}
	r.cacheSet(user)
	return toDomainUser(user), nil
}

func (r *UserRepository) UpsertMany(ctx context.Context, dus []domain.DirectoryUser) ([]domain.User, error) {
	result := make([]domain.User, 0, len(dus))
	if len(dus) == 0 {
		return result, nil
	}

	now := time.Now().UTC()
	saved := make([]models.User, 0, len(dus))
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, du := range dus {
			if domain.NormalizeEmail(du.Email) == "" {
				continue
			}
			user := upsertModel(du, now)
			if err := tx.Clauses(userUpsertClause).Create(&user).Error; err != nil {
				return err
			}
			saved = append(saved, user)
		}
		return nil
	})
	if err != nil {
		return nil, domain.NewStoreError("user.upsertMany", err)
	}

	for _, user := range saved {
		r.cacheSet(user)
		result = append(result, toDomainUser(user))
	}
	return result, nil
}
