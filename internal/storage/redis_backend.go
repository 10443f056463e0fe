package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/randalmurphal/autoform/internal/session"
)

const (
	redisKeyPrefix  = "autoform:"
	redisResultsKey = redisKeyPrefix + "results"
)

func checkpointKey(sessionID string) string {
	return redisKeyPrefix + "session:" + sessionID + ":checkpoint"
}

func progressKey(sessionID string) string {
	return redisKeyPrefix + "session:" + sessionID + ":progress"
}

func logsKey(sessionID string) string {
	return redisKeyPrefix + "session:" + sessionID + ":logs"
}

// RedisBackend stores checkpoints, progress and logs in Redis.
// Progress fields live in a hash so merges are single HSET commands.
type RedisBackend struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// RedisOption configures a RedisBackend.
type RedisOption func(*RedisBackend)

// WithTTL expires session keys after ttl of inactivity. Zero disables expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *RedisBackend) { r.ttl = ttl }
}

// NewRedisBackend connects to the Redis server at url (redis://host:port/db).
func NewRedisBackend(ctx context.Context, url string, opts ...RedisOption) (*RedisBackend, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisBackendFromClient(client, opts...), nil
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client redis.UniversalClient, opts ...RedisOption) *RedisBackend {
	r := &RedisBackend{client: client}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *RedisBackend) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
}

// SaveCheckpoint replaces the stored checkpoint with s.
func (r *RedisBackend) SaveCheckpoint(ctx context.Context, s *session.State) error {
	data, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", s.SessionID, err)
	}
	key := checkpointKey(s.SessionID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		r.expire(ctx, pipe, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", s.SessionID, err)
	}
	return nil
}

// LoadCheckpoint returns the stored session state or ErrNotFound.
func (r *RedisBackend) LoadCheckpoint(ctx context.Context, sessionID string) (*session.State, error) {
	data, err := r.client.Get(ctx, checkpointKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", sessionID, err)
	}
	s, err := session.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", sessionID, err)
	}
	return s, nil
}

// MergeProgress sets each field in the session's progress hash.
func (r *RedisBackend) MergeProgress(ctx context.Context, sessionID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	values := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		enc, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode progress field %s: %w", k, err)
		}
		values = append(values, k, string(enc))
	}
	key := progressKey(sessionID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values...)
		r.expire(ctx, pipe, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("merge progress %s: %w", sessionID, err)
	}
	return nil
}

// LoadProgress returns the merged progress record or ErrNotFound.
func (r *RedisBackend) LoadProgress(ctx context.Context, sessionID string) (map[string]any, error) {
	raw, err := r.client.HGetAll(ctx, progressKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load progress %s: %w", sessionID, err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return nil, fmt.Errorf("decode progress field %s: %w", k, err)
		}
		out[k] = decoded
	}
	return out, nil
}

type redisLogEntry struct {
	EventType string    `json:"event_type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Node      string    `json:"node,omitempty"`
	Data      string    `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendLogs pushes entries onto each session's log list.
func (r *RedisBackend) AppendLogs(ctx context.Context, entries []LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		touched := make(map[string]struct{})
		for _, e := range entries {
			created := e.CreatedAt
			if created.IsZero() {
				created = time.Now()
			}
			level := e.Level
			if level == "" {
				level = "info"
			}
			enc, err := json.Marshal(redisLogEntry{
				EventType: e.EventType,
				Level:     level,
				Message:   e.Message,
				Node:      e.Node,
				Data:      e.Data,
				CreatedAt: created.UTC(),
			})
			if err != nil {
				return err
			}
			key := logsKey(e.SessionID)
			pipe.RPush(ctx, key, enc)
			touched[key] = struct{}{}
		}
		for key := range touched {
			r.expire(ctx, pipe, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append logs: %w", err)
	}
	return nil
}

// ListLogs returns a session's audit entries, oldest first.
func (r *RedisBackend) ListLogs(ctx context.Context, sessionID string, limit int) ([]LogEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := r.client.LRange(ctx, logsKey(sessionID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list logs %s: %w", sessionID, err)
	}
	out := make([]LogEntry, 0, len(raw))
	for i, item := range raw {
		var e redisLogEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode log %s/%d: %w", sessionID, i, err)
		}
		out = append(out, LogEntry{
			ID:        int64(i + 1),
			SessionID: sessionID,
			EventType: e.EventType,
			Level:     e.Level,
			Message:   e.Message,
			Node:      e.Node,
			Data:      e.Data,
			CreatedAt: e.CreatedAt,
		})
	}
	return out, nil
}

// SaveResult stores the run result in the shared results hash.
func (r *RedisBackend) SaveResult(ctx context.Context, res RunResult) error {
	enc, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", res.SessionID, err)
	}
	if err := r.client.HSet(ctx, redisResultsKey, res.SessionID, enc).Err(); err != nil {
		return fmt.Errorf("save result %s: %w", res.SessionID, err)
	}
	return nil
}

func (r *RedisBackend) results(ctx context.Context) ([]RunResult, error) {
	raw, err := r.client.HGetAll(ctx, redisResultsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	out := make([]RunResult, 0, len(raw))
	for id, v := range raw {
		var res RunResult
		if err := json.Unmarshal([]byte(v), &res); err != nil {
			return nil, fmt.Errorf("decode result %s: %w", id, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// Stats returns aggregates over all runs.
func (r *RedisBackend) Stats(ctx context.Context) (Stats, error) {
	all, err := r.results(ctx)
	if err != nil {
		return Stats{}, err
	}
	return aggregate("", all), nil
}

// ExamStats returns aggregates per exam name.
func (r *RedisBackend) ExamStats(ctx context.Context) ([]Stats, error) {
	all, err := r.results(ctx)
	if err != nil {
		return nil, err
	}
	byExam := make(map[string][]RunResult)
	for _, res := range all {
		byExam[res.ExamName] = append(byExam[res.ExamName], res)
	}
	names := make([]string, 0, len(byExam))
	for name := range byExam {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Stats, 0, len(names))
	for _, name := range names {
		out = append(out, aggregate(name, byExam[name]))
	}
	return out, nil
}

func aggregate(exam string, results []RunResult) Stats {
	st := Stats{ExamName: exam, Runs: len(results)}
	if st.Runs == 0 {
		return st
	}
	var cycles, durationMS int64
	for _, res := range results {
		if res.Success {
			st.Successful++
		} else {
			st.Failed++
		}
		cycles += int64(res.Cycles)
		durationMS += res.Duration().Milliseconds()
		st.OTPRequests += res.OTPRequests
		st.CaptchaRequests += res.CaptchaRequests
		st.CustomRequests += res.CustomRequests
	}
	st.AvgCycles = float64(cycles) / float64(st.Runs)
	st.AvgDurationMS = float64(durationMS) / float64(st.Runs)
	return st
}

// Close closes the Redis client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
