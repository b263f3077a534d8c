package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/eleven-am/voice-relay/internal/shared"
	"github.com/redis/go-redis/v9"
)

const (
	recordTTL = 24 * time.Hour
	statsTTL  = 7 * 24 * time.Hour

	dateLayout = "2006-01-02"
)

const (
	fieldSessions      = "sessions"
	fieldResets        = "resets"
	fieldErrors        = "errors"
	fieldConversations = "conversations"
)

type Store struct {
	redis *redis.Client
	now   func() time.Time
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient, now: time.Now}
}

func (s *Store) CreateRecord(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = shared.NewID("sess_")
	}
	now := s.now()
	rec.Status = StatusActive
	rec.StartedAt = now
	rec.LastActiveAt = now
	rec.EndedAt = nil

	if err := s.save(ctx, rec); err != nil {
		return err
	}
	return s.increment(ctx, fieldSessions)
}

func (s *Store) GetRecord(ctx context.Context, id string) (*Record, error) {
	data, err := s.redis.Get(ctx, RecordRedisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// EndRecord marks a record finished. cause is stored when status is
// StatusError.
func (s *Store) EndRecord(ctx context.Context, id string, status Status, cause error) error {
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}

	now := s.now()
	rec.Status = status
	rec.LastActiveAt = now
	rec.EndedAt = &now
	if cause != nil {
		rec.Error = cause.Error()
	}

	if err := s.save(ctx, rec); err != nil {
		return err
	}
	if status == StatusError {
		return s.increment(ctx, fieldErrors)
	}
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	return s.redis.Del(ctx, RecordRedisKey(id)).Err()
}

func (s *Store) IncrementResets(ctx context.Context) error {
	return s.increment(ctx, fieldResets)
}

func (s *Store) IncrementErrors(ctx context.Context) error {
	return s.increment(ctx, fieldErrors)
}

func (s *Store) IncrementConversations(ctx context.Context) error {
	return s.increment(ctx, fieldConversations)
}

// GetStats returns daily counters for the last days, newest first. Days with
// no activity are skipped.
func (s *Store) GetStats(ctx context.Context, days int) ([]*Stats, error) {
	now := s.now().UTC()
	var stats []*Stats

	for i := 0; i < days; i++ {
		date := now.AddDate(0, 0, -i).Format(dateLayout)
		data, err := s.redis.HGetAll(ctx, StatsRedisKey(date)).Result()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}

		st := &Stats{Date: date}
		st.Sessions, _ = strconv.ParseInt(data[fieldSessions], 10, 64)
		st.Resets, _ = strconv.ParseInt(data[fieldResets], 10, 64)
		st.Errors, _ = strconv.ParseInt(data[fieldErrors], 10, 64)
		st.Conversations, _ = strconv.ParseInt(data[fieldConversations], 10, 64)
		stats = append(stats, st)
	}

	return stats, nil
}

func (s *Store) save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, rec.RedisKey(), data, recordTTL).Err()
}

func (s *Store) increment(ctx context.Context, field string) error {
	key := StatsRedisKey(s.now().UTC().Format(dateLayout))

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, field, 1)
	pipe.Expire(ctx, key, statsTTL)
	_, err := pipe.Exec(ctx)
	return err
}
