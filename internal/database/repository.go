package database

import (
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kkstefanov/tiktok-live-watcher/internal/models"
)

const (
	HistoryLimit    = 2000
	JoinEventsLimit = 5000
)

// Repository handles database operations for the watcher core.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository instance.
func NewRepository() *Repository {
	return &Repository{db: DB}
}

// --- Settings KV store ---

// GetSetting returns the raw JSON value for a key, or "" if unset.
func (r *Repository) GetSetting(key string) (string, error) {
	var s models.Setting
	err := WithRetry(func() error {
		result := r.db.Where("key = ?", key).First(&s)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil
		}
		return result.Error
	})
	if err != nil {
		return "", err
	}
	return s.Value, nil
}

func (r *Repository) SetSetting(key, value string) error {
	return WithRetry(func() error {
		return r.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&models.Setting{Key: key, Value: value}).Error
	})
}

// SetSettings writes a bag of key/value pairs in one transaction.
func (r *Repository) SetSettings(bag map[string]string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		for key, value := range bag {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&models.Setting{Key: key, Value: value}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearSettings removes every stored setting (factory reset).
func (r *Repository) ClearSettings() error {
	return WithRetry(func() error {
		return r.db.Where("1 = 1").Delete(&models.Setting{}).Error
	})
}

// --- Account status snapshot ---

func (r *Repository) GetAccountStatuses() ([]models.AccountStatus, error) {
	var statuses []models.AccountStatus
	err := WithRetry(func() error {
		return r.db.Find(&statuses).Error
	})
	return statuses, err
}

func (r *Repository) UpsertAccountStatus(status *models.AccountStatus) error {
	return WithRetry(func() error {
		return r.db.Save(status).Error
	})
}

func (r *Repository) DeleteAccountStatus(username string) error {
	username = strings.ToLower(username)
	return WithRetry(func() error {
		return r.db.Delete(&models.AccountStatus{}, "username = ?", username).Error
	})
}

func (r *Repository) ClearAccountStatuses() error {
	return WithRetry(func() error {
		return r.db.Where("1 = 1").Delete(&models.AccountStatus{}).Error
	})
}

// --- History log (bounded, newest kept) ---

func (r *Repository) AppendHistory(entry *models.HistoryEntry) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		return trimOldest(tx, &models.HistoryEntry{}, HistoryLimit)
	})
}

// GetHistory returns up to limit entries, newest first.
func (r *Repository) GetHistory(limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}
	var entries []models.HistoryEntry
	err := WithRetry(func() error {
		return r.db.Order("ts DESC, id DESC").Limit(limit).Find(&entries).Error
	})
	return entries, err
}

func (r *Repository) CountHistory() (int64, error) {
	var count int64
	err := WithRetry(func() error {
		return r.db.Model(&models.HistoryEntry{}).Count(&count).Error
	})
	return count, err
}

func (r *Repository) ClearHistory() error {
	return WithRetry(func() error {
		return r.db.Where("1 = 1").Delete(&models.HistoryEntry{}).Error
	})
}

// --- Join events (bounded, newest kept) ---

func (r *Repository) AppendJoinEvent(event *models.JoinEvent) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return err
		}
		return trimOldest(tx, &models.JoinEvent{}, JoinEventsLimit)
	})
}

func (r *Repository) GetJoinEvents(limit int) ([]models.JoinEvent, error) {
	if limit <= 0 || limit > JoinEventsLimit {
		limit = JoinEventsLimit
	}
	var events []models.JoinEvent
	err := WithRetry(func() error {
		return r.db.Order("ts DESC, id DESC").Limit(limit).Find(&events).Error
	})
	return events, err
}

func (r *Repository) ClearJoinEvents() error {
	return WithRetry(func() error {
		return r.db.Where("1 = 1").Delete(&models.JoinEvent{}).Error
	})
}

// trimOldest deletes the oldest rows beyond limit for a bounded table.
func trimOldest(tx *gorm.DB, model interface{}, limit int) error {
	var count int64
	if err := tx.Model(model).Count(&count).Error; err != nil {
		return err
	}
	excess := count - int64(limit)
	if excess <= 0 {
		return nil
	}
	var ids []string
	err := tx.Model(model).
		Order("ts ASC, id ASC").
		Limit(int(excess)).
		Pluck("id", &ids).Error
	if err != nil {
		return err
	}
	return tx.Delete(model, "id IN ?", ids).Error
}

// --- Watch list ---

func (r *Repository) GetWatchUsers() ([]string, error) {
	var users []models.WatchUser
	err := WithRetry(func() error {
		return r.db.Order("added_at ASC").Find(&users).Error
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	return names, nil
}

// ReplaceWatchUsers overwrites the watch-list with the given usernames.
// Callers are expected to pass normalized, de-duplicated names.
func (r *Repository) ReplaceWatchUsers(usernames []string, now int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.WatchUser{}).Error; err != nil {
			return err
		}
		for i, u := range usernames {
			w := models.WatchUser{Username: u, AddedAt: now + int64(i)}
			if err := tx.Create(&w).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// --- API health ---

func (r *Repository) UpdateAPIHealthBulk(serviceName string, totalToAdd, successfulToAdd uint64) error {
	if totalToAdd == 0 && successfulToAdd == 0 {
		return nil
	}

	return WithRetry(func() error {
		return r.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "service_name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_requests":      gorm.Expr("total_requests + ?", totalToAdd),
				"successful_requests": gorm.Expr("successful_requests + ?", successfulToAdd),
			}),
		}).Create(&models.APIHealthStat{
			ServiceName:        serviceName,
			TotalRequests:      totalToAdd,
			SuccessfulRequests: successfulToAdd,
		}).Error
	})
}
