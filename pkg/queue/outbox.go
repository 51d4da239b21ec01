package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"foundersforum/internal/util"
	"foundersforum/pkg/domain"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Job is a pending confirmation of one stored registration on one channel.
type Job struct {
	ID             string    `json:"id"`
	RegistrationID string    `json:"registrationId"`
	Channel        string    `json:"channel"`
	Status         string    `json:"status"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	Attempts       int       `json:"attempts"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`

	// Registration is decoded from the stream entry; it is not kept in the
	// status hash so applicant details expire with the stream.
	Registration domain.Registration `json:"-"`
}

// Handler delivers one job. A non-nil error schedules a retry.
type Handler func(ctx context.Context, job Job) error

// OutboxConfig tunes the Redis stream outbox.
type OutboxConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	// Channels get one job each per registration, so a retry repeats only
	// the channel that failed. Empty means a single unnamed job.
	Channels   []string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
}

// RedisOutbox persists confirmation jobs in a Redis stream so they survive a
// restart and are retried when delivery fails. It satisfies notify.Notifier
// by enqueueing.
type RedisOutbox struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	channels   []string
	jobTTL     time.Duration
	maxRetries int
	block      time.Duration
	claimIdle  time.Duration
	retryDelay time.Duration
	maxLen     int64
	readCount  int64
	groupOnce  sync.Once
}

// NewRedisOutbox validates cfg and returns an outbox.
func NewRedisOutbox(cfg OutboxConfig) (*RedisOutbox, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	q := &RedisOutbox{
		client:     redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:     orDefault(cfg.Stream, "foundersforum:registration:notify"),
		group:      orDefault(cfg.Group, "notifier"),
		consumer:   orDefault(cfg.Consumer, util.NewID()),
		channels:   slices.Clone(cfg.Channels),
		jobTTL:     cfg.JobTTL,
		maxRetries: cfg.MaxRetries,
		block:      cfg.Block,
		claimIdle:  cfg.ClaimIdle,
		retryDelay: cfg.RetryDelay,
		maxLen:     cfg.MaxLen,
		readCount:  cfg.ReadCount,
	}
	if len(q.channels) == 0 {
		q.channels = []string{""}
	}
	if q.jobTTL <= 0 {
		q.jobTTL = 7 * 24 * time.Hour
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 5
	}
	if q.block <= 0 {
		q.block = 5 * time.Second
	}
	if q.claimIdle <= 0 {
		q.claimIdle = time.Minute
	}
	if q.retryDelay <= 0 {
		q.retryDelay = 5 * time.Second
	}
	if q.maxLen <= 0 {
		q.maxLen = 10000
	}
	if q.readCount <= 0 {
		q.readCount = 10
	}
	return q, nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

// NotifyRegistered enqueues one confirmation job per channel for reg.
func (q *RedisOutbox) NotifyRegistered(ctx context.Context, reg domain.Registration) error {
	var errs []error
	for _, channel := range q.channels {
		if _, err := q.Enqueue(ctx, channel, reg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Enqueue records a queued job for channel and appends it to the stream.
func (q *RedisOutbox) Enqueue(ctx context.Context, channel string, reg domain.Registration) (Job, error) {
	if strings.TrimSpace(reg.ID) == "" {
		return Job{}, errors.New("registration id required")
	}
	payload, err := json.Marshal(reg)
	if err != nil {
		return Job{}, fmt.Errorf("encode registration: %w", err)
	}
	now := time.Now().UTC()
	job := Job{
		ID:             util.NewID(),
		RegistrationID: reg.ID,
		Channel:        channel,
		Status:         StatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return Job{}, err
	}
	if err := q.client.XAdd(ctx, q.addArgs(job.ID, channel, string(payload))).Err(); err != nil {
		return Job{}, fmt.Errorf("enqueue notification: %w", err)
	}
	return job, nil
}

func (q *RedisOutbox) addArgs(jobID, channel, payload string) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":       jobID,
			"channel":      channel,
			"registration": payload,
		},
	}
}

// GetJob returns the status of a job.
func (q *RedisOutbox) GetJob(ctx context.Context, jobID string) (Job, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Job{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return Job{}, false, err
	}
	if len(data) == 0 {
		return Job{}, false, nil
	}
	return decodeJob(jobID, data), true, nil
}

// Start launches concurrency consumers that run until ctx is done.
func (q *RedisOutbox) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		go q.consumeLoop(ctx, fmt.Sprintf("%s-%d", q.consumer, i), handler)
	}
}

// Close releases the Redis client.
func (q *RedisOutbox) Close() error {
	return q.client.Close()
}

func (q *RedisOutbox) ensureGroup(ctx context.Context) {
	q.groupOnce.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("notification outbox group create failed", "stream", q.stream, "err", err)
		}
	})
}

func (q *RedisOutbox) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for ctx.Err() == nil {
		if msgs, err := q.claimStale(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("notification outbox read failed", "stream", q.stream, "err", err)
			if !sleepCtx(ctx, q.retryDelay) {
				return
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisOutbox) claimStale(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.readCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return msgs, err
}

func (q *RedisOutbox) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	jobID, _ := msg.Values["job_id"].(string)
	channel, _ := msg.Values["channel"].(string)
	payload, _ := msg.Values["registration"].(string)
	var reg domain.Registration
	if jobID == "" || json.Unmarshal([]byte(payload), &reg) != nil {
		slog.Warn("notification outbox dropped malformed entry", "stream", q.stream, "message_id", msg.ID)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, err := q.updateStatus(ctx, jobID, func(j *Job) {
		j.RegistrationID = reg.ID
		j.Channel = channel
		j.Attempts++
		j.Status = StatusProcessing
	})
	if err != nil {
		// Left pending; claimStale retries it once it has idled.
		slog.Warn("notification outbox status unavailable", "job_id", jobID, "message_id", msg.ID, "err", err)
		return
	}
	job.Registration = reg

	herr := handler(ctx, job)
	switch {
	case herr == nil:
		_, _ = q.updateStatus(ctx, jobID, func(j *Job) {
			j.Status = StatusDone
			j.ErrorMessage = ""
		})
		q.ackAndDel(ctx, msg.ID)
	case job.Attempts >= q.maxRetries:
		slog.Error("notification delivery gave up", "registration_id", reg.ID, "channel", channel, "attempts", job.Attempts, "err", herr)
		_, _ = q.updateStatus(ctx, jobID, func(j *Job) {
			j.Status = StatusFailed
			j.ErrorMessage = herr.Error()
		})
		q.ackAndDel(ctx, msg.ID)
	default:
		_, _ = q.updateStatus(ctx, jobID, func(j *Job) {
			j.Status = StatusQueued
			j.ErrorMessage = herr.Error()
		})
		if !sleepCtx(ctx, q.retryDelay) {
			return
		}
		_ = q.requeueAndAck(ctx, msg.ID, jobID, channel, payload)
	}
}

func (q *RedisOutbox) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck appends the job again and acknowledges the old entry in one
// transaction, so a failure leaves the original pending for reclaim.
func (q *RedisOutbox) requeueAndAck(ctx context.Context, msgID, jobID, channel, payload string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, q.addArgs(jobID, channel, payload))
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisOutbox) updateStatus(ctx context.Context, jobID string, mutate func(*Job)) (Job, error) {
	job, ok, err := q.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if !ok {
		job = Job{ID: jobID}
	}
	mutate(&job)
	job.UpdatedAt = time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return Job{}, err
	}
	return job, nil
}

func (q *RedisOutbox) writeStatus(ctx context.Context, job Job) error {
	key := q.jobKey(job.ID)
	if err := q.client.HSet(ctx, key, map[string]any{
		"registrationId": job.RegistrationID,
		"channel":        job.Channel,
		"status":         job.Status,
		"error":          job.ErrorMessage,
		"attempts":       strconv.Itoa(job.Attempts),
		"createdAt":      job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":      job.UpdatedAt.Format(time.RFC3339Nano),
	}).Err(); err != nil {
		return fmt.Errorf("write job status: %w", err)
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *RedisOutbox) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func decodeJob(jobID string, data map[string]string) Job {
	job := Job{
		ID:             jobID,
		RegistrationID: data["registrationId"],
		Channel:        data["channel"],
		Status:         data["status"],
		ErrorMessage:   data["error"],
	}
	if n, err := strconv.Atoi(data["attempts"]); err == nil {
		job.Attempts = n
	}
	if t, err := time.Parse(time.RFC3339Nano, data["createdAt"]); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, data["updatedAt"]); err == nil {
		job.UpdatedAt = t
	}
	return job
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
