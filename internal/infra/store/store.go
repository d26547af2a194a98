// Package store provides the durable state store backed by SQLite.
//
// Every write that "sets a timestamp" is an unconditional create-or-replace
// by key, so multiple server instances converge on last-writer-wins without
// conditional update logic.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// CounterPosition is the singleton counter key for the request position counter.
const CounterPosition = "position"

// CooldownRecord tracks when a track was last played or queued.
// At most one record per canonical track id.
type CooldownRecord struct {
	TrackID     string    `gorm:"primaryKey;column:track_id"`
	TrackURI    string    `gorm:"column:track_uri"`
	LastEventAt time.Time `gorm:"column:last_event_at"`
}

// RecentAddition is the durable tier of the duplicate lock.
type RecentAddition struct {
	TrackID string    `gorm:"primaryKey;column:track_id"`
	AddedAt time.Time `gorm:"column:added_at"`
}

// QueueEntry is a guest-submitted track not yet confirmed played.
// The auto-increment ID preserves insertion order for tie-breaking.
type QueueEntry struct {
	ID       uint   `gorm:"primaryKey"`
	PublicID string `gorm:"uniqueIndex;column:public_id"`
	TrackID  string `gorm:"index;column:track_id"`
	URI      string `gorm:"index"`
	Name     string
	Artist   string
	AlbumArt string
	Position int
	Priority bool
	Played   bool `gorm:"index"`
	AddedAt  time.Time
	PlayedAt *time.Time
}

// Counter is a named singleton integer.
type Counter struct {
	Name  string `gorm:"primaryKey"`
	Value int
}

// Store wraps the SQLite database.
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the store at the given path.
// Use ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open store")
	}

	if err := db.AutoMigrate(&CooldownRecord{}, &RecentAddition{}, &QueueEntry{}, &Counter{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate store")
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get database handle")
	}
	return sqlDB.Close()
}

// UpsertCooldown creates or replaces the cooldown record for a track.
func (s *Store) UpsertCooldown(ctx context.Context, rec CooldownRecord) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	return errors.Wrap(err, "failed to upsert cooldown record")
}

// FindCooldown returns the cooldown record for a track, or nil if absent.
func (s *Store) FindCooldown(ctx context.Context, trackID string) (*CooldownRecord, error) {
	var rec CooldownRecord
	err := s.db.WithContext(ctx).First(&rec, "track_id = ?", trackID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find cooldown record")
	}
	return &rec, nil
}

// FindCooldowns returns the cooldown records for the given track ids.
func (s *Store) FindCooldowns(ctx context.Context, trackIDs []string) ([]CooldownRecord, error) {
	if len(trackIDs) == 0 {
		return nil, nil
	}
	var recs []CooldownRecord
	err := s.db.WithContext(ctx).Where("track_id IN ?", trackIDs).Find(&recs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find cooldown records")
	}
	return recs, nil
}

// UpsertRecentAddition creates or replaces the recent-addition record for a track.
func (s *Store) UpsertRecentAddition(ctx context.Context, rec RecentAddition) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	return errors.Wrap(err, "failed to upsert recent addition")
}

// FindRecentAddition returns the recent-addition record for a track, or nil if absent.
func (s *Store) FindRecentAddition(ctx context.Context, trackID string) (*RecentAddition, error) {
	var rec RecentAddition
	err := s.db.WithContext(ctx).First(&rec, "track_id = ?", trackID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find recent addition")
	}
	return &rec, nil
}

// FindRecentAdditions returns the recent-addition records for the given track ids.
func (s *Store) FindRecentAdditions(ctx context.Context, trackIDs []string) ([]RecentAddition, error) {
	if len(trackIDs) == 0 {
		return nil, nil
	}
	var recs []RecentAddition
	err := s.db.WithContext(ctx).Where("track_id IN ?", trackIDs).Find(&recs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find recent additions")
	}
	return recs, nil
}

// InsertQueueEntry inserts a new managed queue entry.
func (s *Store) InsertQueueEntry(ctx context.Context, entry *QueueEntry) error {
	err := s.db.WithContext(ctx).Create(entry).Error
	return errors.Wrap(err, "failed to insert queue entry")
}

// PendingEntries returns all unplayed entries ordered by
// (priority desc, position asc, insertion order).
func (s *Store) PendingEntries(ctx context.Context) ([]QueueEntry, error) {
	var entries []QueueEntry
	err := s.db.WithContext(ctx).
		Where("played = ?", false).
		Order("priority DESC").
		Order("position ASC").
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending entries")
	}
	return entries, nil
}

// HasPendingEntry reports whether an unplayed entry exists for the track id.
func (s *Store) HasPendingEntry(ctx context.Context, trackID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&QueueEntry{}).
		Where("track_id = ? AND played = ?", trackID, false).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to check pending entry")
	}
	return count > 0, nil
}

// PendingTrackIDs returns which of the given track ids have an unplayed entry.
func (s *Store) PendingTrackIDs(ctx context.Context, trackIDs []string) (map[string]bool, error) {
	if len(trackIDs) == 0 {
		return map[string]bool{}, nil
	}
	var entries []QueueEntry
	err := s.db.WithContext(ctx).
		Select("track_id").
		Where("track_id IN ? AND played = ?", trackIDs, false).
		Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up pending track ids")
	}
	pending := make(map[string]bool, len(entries))
	for _, e := range entries {
		pending[e.TrackID] = true
	}
	return pending, nil
}

// PromotePending flags the unplayed entries for a track as priority with
// ordering hint 0. Returns the number of promoted entries.
func (s *Store) PromotePending(ctx context.Context, trackID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&QueueEntry{}).
		Where("track_id = ? AND played = ?", trackID, false).
		Updates(map[string]any{"priority": true, "position": 0})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "failed to promote entry")
	}
	return res.RowsAffected, nil
}

// MarkPlayed flags all entries for a track as played.
// Matching multiple rows covers the rare duplicate-history case.
func (s *Store) MarkPlayed(ctx context.Context, trackID string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&QueueEntry{}).
		Where("track_id = ? AND played = ?", trackID, false).
		Updates(map[string]any{"played": true, "played_at": at})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "failed to mark entry played")
	}
	return res.RowsAffected, nil
}

// DeletePlayedBefore deletes played entries whose play time is before the cutoff.
func (s *Store) DeletePlayedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("played = ? AND played_at < ?", true, cutoff).
		Delete(&QueueEntry{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "failed to delete played entries")
	}
	return res.RowsAffected, nil
}

// PurgeQueueEntries deletes all managed queue entries.
func (s *Store) PurgeQueueEntries(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&QueueEntry{}).Error
	return errors.Wrap(err, "failed to purge queue entries")
}

// GetCounter returns the value of a named counter, 0 when absent.
func (s *Store) GetCounter(ctx context.Context, name string) (int, error) {
	var c Counter
	err := s.db.WithContext(ctx).First(&c, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to get counter")
	}
	return c.Value, nil
}

// SetCounter creates or replaces a named counter.
func (s *Store) SetCounter(ctx context.Context, name string, value int) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&Counter{Name: name, Value: value}).Error
	return errors.Wrap(err, "failed to set counter")
}
