package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"cellflow/internal/config"
	"cellflow/internal/jobs"
	"cellflow/internal/queue"
)

// Store keeps jobs in Redis.
type Store struct {
	client *redis.Client
	prefix string
}

// Dial connects to the configured Redis server and pings it.
func Dial(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// New returns a store whose keys start with prefix.
func New(client *redis.Client, prefix string) *Store {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "cellflow"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) jobKey(id string) string {
	return s.prefix + ":job:" + id
}

func (s *Store) waitKey(queueName string) string {
	return s.prefix + ":wait:" + queueName
}

func (s *Store) delayedKey(queueName string) string {
	return s.prefix + ":delayed:" + queueName
}

func (s *Store) indexKey() string {
	return s.prefix + ":jobs"
}

// args prepends the key prefix every script expects as ARGV[1].
func (s *Store) args(values ...any) []any {
	return append([]any{s.prefix}, values...)
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixMilli(), 10)
}

// translate maps script rejections to queue.ErrInvalidTransition.
func translate(err error, id string) error {
	if err != nil && strings.HasPrefix(err.Error(), "INVALID") {
		return fmt.Errorf("%w: job %s is not active", queue.ErrInvalidTransition, id)
	}
	return err
}

type pendingNode struct {
	flow     *jobs.Flow
	parentID string
}

// AddFlows writes every node of the forest in one MULTI/EXEC and returns the
// root ids.
func (s *Store) AddFlows(ctx context.Context, flows []jobs.Flow) ([]string, error) {
	if len(flows) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	var roots []string
	pipe := s.client.TxPipeline()

	pending := make([]pendingNode, 0, len(flows))
	for i := range flows {
		pending = append(pending, pendingNode{flow: &flows[i]})
	}
	for head := 0; head < len(pending); head++ {
		node := pending[head]
		flow := node.flow
		if strings.TrimSpace(string(flow.Name)) == "" || strings.TrimSpace(flow.Queue) == "" {
			return nil, fmt.Errorf("add flows: %w: name and queue required", queue.ErrInvalidFlow)
		}
		opts := flow.Options
		if opts.Attempts <= 0 {
			opts = jobs.DefaultOptions()
		}
		encodedOpts, err := json.Marshal(opts)
		if err != nil {
			return nil, fmt.Errorf("add flows: encode options: %w", err)
		}
		data := flow.Data
		if len(data) == 0 {
			data = json.RawMessage("null")
		}
		status := queue.StatusWaiting
		if len(flow.Children) > 0 {
			status = queue.StatusWaitingChildren
		}
		id := uuid.NewString()
		pipe.HSet(ctx, s.jobKey(id), map[string]any{
			"id":               id,
			"name":             string(flow.Name),
			"queue":            flow.Queue,
			"status":           string(status),
			"parent_id":        node.parentID,
			"pending_children": len(flow.Children),
			"data":             string(data),
			"options":          string(encodedOpts),
			"attempts_made":    0,
			"run_at":           now.UnixMilli(),
			"failed_reason":    "",
			"created_at":       stamp(now),
			"updated_at":       stamp(now),
		})
		pipe.SAdd(ctx, s.indexKey(), id)
		if status == queue.StatusWaiting {
			pipe.RPush(ctx, s.waitKey(flow.Queue), id)
		}
		if node.parentID == "" {
			roots = append(roots, id)
		}
		for i := range flow.Children {
			pending = append(pending, pendingNode{flow: &flow.Children[i], parentID: id})
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("add flows: %w", err)
	}
	return roots, nil
}

// Claim pops the next runnable job of a queue, promoting due retries first.
func (s *Store) Claim(ctx context.Context, queueName string) (*queue.Job, error) {
	now := time.Now()
	res, err := claimScript.Run(ctx, s.client, nil, s.args(queueName, now.UTC().UnixMilli(), stamp(now))...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	fields, ok := res.([]any)
	if !ok {
		return nil, fmt.Errorf("claim job: unexpected reply %T", res)
	}
	values := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		values[fmt.Sprint(fields[i])] = fmt.Sprint(fields[i+1])
	}
	return decodeJob(values)
}

func (s *Store) Complete(ctx context.Context, id string) error {
	now := time.Now()
	if err := completeScript.Run(ctx, s.client, nil, s.args(id, millis(now), stamp(now))...).Err(); err != nil {
		return fmt.Errorf("complete job: %w", translate(err, id))
	}
	return nil
}

func (s *Store) Retry(ctx context.Context, id string, runAt time.Time, reason string) error {
	if err := retryScript.Run(ctx, s.client, nil, s.args(id, millis(runAt), reason, stamp(time.Now()))...).Err(); err != nil {
		return fmt.Errorf("retry job: %w", translate(err, id))
	}
	return nil
}

func (s *Store) Fail(ctx context.Context, id, reason string) ([]*queue.Job, error) {
	ids, err := failScript.Run(ctx, s.client, nil,
		s.args(id, reason, queue.ReasonDependencyFailed, stamp(time.Now()))...).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", translate(err, id))
	}
	ancestors := make([]*queue.Job, 0, len(ids))
	for _, ancestorID := range ids {
		job, err := s.Get(ctx, ancestorID)
		if err != nil {
			return nil, fmt.Errorf("fail job: %w", err)
		}
		if job != nil {
			ancestors = append(ancestors, job)
		}
	}
	return ancestors, nil
}

func (s *Store) Recover(ctx context.Context) (int64, error) {
	n, err := recoverScript.Run(ctx, s.client, nil, s.args(stamp(time.Now()))...).Int64()
	if err != nil {
		return 0, fmt.Errorf("recover active jobs: %w", err)
	}
	return n, nil
}

// Get fetches a job by id. A missing job yields (nil, nil).
func (s *Store) Get(ctx context.Context, id string) (*queue.Job, error) {
	values, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return decodeJob(values)
}

func (s *Store) all(ctx context.Context) ([]*queue.Job, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list job ids: %w", err)
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.jobKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("load jobs: %w", err)
		}
	}
	out := make([]*queue.Job, 0, len(ids))
	for _, cmd := range cmds {
		values := cmd.Val()
		if len(values) == 0 {
			continue
		}
		job, err := decodeJob(values)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// List returns jobs matching the filter ordered by creation.
func (s *Store) List(ctx context.Context, filter queue.ListFilter) ([]*queue.Job, error) {
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*queue.Job, 0, len(all))
	for _, job := range all {
		if filter.Queue != "" && job.Queue != filter.Queue {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, job.Status) {
			continue
		}
		out = append(out, job)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Stats counts jobs per queue and status.
func (s *Store) Stats(ctx context.Context) (map[string]queue.Counts, error) {
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	stats := make(map[string]queue.Counts)
	for _, job := range all {
		if stats[job.Queue] == nil {
			stats[job.Queue] = make(queue.Counts)
		}
		stats[job.Queue][job.Status]++
	}
	return stats, nil
}

// Clear deletes jobs with the given statuses, or every job when none are
// given.
func (s *Store) Clear(ctx context.Context, statuses ...queue.Status) (int64, error) {
	all, err := s.all(ctx)
	if err != nil {
		return 0, err
	}
	pipe := s.client.TxPipeline()
	var removed int64
	for _, job := range all {
		if len(statuses) > 0 && !hasStatus(statuses, job.Status) {
			continue
		}
		pipe.Del(ctx, s.jobKey(job.ID))
		pipe.SRem(ctx, s.indexKey(), job.ID)
		pipe.LRem(ctx, s.waitKey(job.Queue), 0, job.ID)
		pipe.ZRem(ctx, s.delayedKey(job.Queue), job.ID)
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return removed, nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func hasStatus(statuses []queue.Status, status queue.Status) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func decodeJob(values map[string]string) (*queue.Job, error) {
	job := &queue.Job{
		ID:           values["id"],
		Name:         jobs.Name(values["name"]),
		Queue:        values["queue"],
		Status:       queue.Status(values["status"]),
		ParentID:     values["parent_id"],
		Data:         json.RawMessage(values["data"]),
		FailedReason: values["failed_reason"],
	}
	job.PendingChildren, _ = strconv.Atoi(values["pending_children"])
	job.AttemptsMade, _ = strconv.Atoi(values["attempts_made"])
	if ms, err := strconv.ParseInt(values["run_at"], 10, 64); err == nil {
		job.RunAt = time.UnixMilli(ms).UTC()
	}
	if err := json.Unmarshal([]byte(values["options"]), &job.Options); err != nil {
		return nil, fmt.Errorf("decode job %s options: %w", job.ID, err)
	}
	job.CreatedAt = parseStamp(values["created_at"])
	job.UpdatedAt = parseStamp(values["updated_at"])
	if t := parseStamp(values["started_at"]); !t.IsZero() {
		job.StartedAt = &t
	}
	if t := parseStamp(values["finished_at"]); !t.IsZero() {
		job.FinishedAt = &t
	}
	return job, nil
}

func parseStamp(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
