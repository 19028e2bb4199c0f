package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
)

var (
	ErrTrackerNotFound = errors.New("tracker not found")
	ErrNilTracker      = errors.New("tracker is nil")
)

const (
	defaultStoreKeyPrefix = "coco:tracker:"
	defaultStoreTTL       = 24 * time.Hour
	maxResponseSizeBytes  = 2 << 20
	eventsKeySuffix       = ":events"
)

// Store is the tracker persistence contract used by the host runtime.
type Store interface {
	Load(ctx context.Context, senderID string) (*Tracker, error)
	Save(ctx context.Context, t *Tracker) error
	Delete(ctx context.Context, senderID string) error
}

// StoreOption customizes UpstashRedisStore.
type StoreOption func(*UpstashRedisStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) {
		s.ttl = ttl
	}
}

// WithMaxEvents bounds the history list kept per sender. Zero keeps everything.
func WithMaxEvents(n int) StoreOption {
	return func(s *UpstashRedisStore) {
		s.maxEvents = n
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashRedisStore keeps trackers in Upstash Redis over its REST API.
// The tracker state lives in a string key; the event history is a capped
// list next to it that only receives the events added since the last save.
type UpstashRedisStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
	maxEvents  int
}

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

type redisReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type redisCommand []any

type trackerKeys struct {
	state  string
	events string
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &UpstashRedisStore{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultStoreKeyPrefix,
		ttl:        defaultStoreTTL,
		maxEvents:  DefaultMaxEvents,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	switch {
	case store.ttl < 0:
		return nil, errors.New("ttl must be >= 0")
	case store.maxEvents < 0:
		return nil, errors.New("max events must be >= 0")
	}
	return store, nil
}

// Load reads the tracker state and its event history in one pipeline.
func (s *UpstashRedisStore) Load(ctx context.Context, senderID string) (*Tracker, error) {
	keys, err := s.keys(senderID)
	if err != nil {
		return nil, err
	}

	replies, err := s.pipeline(ctx,
		redisCommand{"GET", keys.state},
		redisCommand{"LRANGE", keys.events, 0, -1},
	)
	if err != nil {
		return nil, err
	}

	state := bytes.TrimSpace(replies[0].Result)
	if len(state) == 0 || bytes.Equal(state, []byte("null")) {
		return nil, ErrTrackerNotFound
	}
	var encoded string
	if err := json.Unmarshal(state, &encoded); err != nil {
		return nil, fmt.Errorf("decode tracker payload: %w", err)
	}

	var t Tracker
	if err := json.Unmarshal([]byte(encoded), &t); err != nil {
		return nil, fmt.Errorf("unmarshal tracker: %w", err)
	}
	if t.Events, err = decodeHistory(replies[1].Result); err != nil {
		return nil, err
	}
	t.markPersisted()

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker loaded from store: %w", err)
	}
	return &t, nil
}

// Save overwrites the state key, appends unsaved events to the history list
// and trims the list to the configured bound.
func (s *UpstashRedisStore) Save(ctx context.Context, t *Tracker) error {
	if t == nil {
		return ErrNilTracker
	}
	keys, err := s.keys(t.ID)
	if err != nil {
		return err
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}

	state, err := t.marshalState()
	if err != nil {
		return fmt.Errorf("marshal tracker: %w", err)
	}

	set := redisCommand{"SET", keys.state, string(state)}
	if s.ttl > 0 {
		set = append(set, "EX", ttlSeconds(s.ttl))
	}
	cmds := []redisCommand{set}

	// a tracker that never came from this store replaces any stale history
	if t.persisted == 0 {
		cmds = append(cmds, redisCommand{"DEL", keys.events})
	}

	if pending := t.pendingEvents(); len(pending) > 0 {
		push := redisCommand{"RPUSH", keys.events}
		for _, ev := range pending {
			rec, err := newEventRecord(ev)
			if err != nil {
				return err
			}
			raw, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal event record: %w", err)
			}
			push = append(push, string(raw))
		}
		cmds = append(cmds, push)
	}
	if s.maxEvents > 0 {
		cmds = append(cmds, redisCommand{"LTRIM", keys.events, -s.maxEvents, -1})
	}
	if s.ttl > 0 {
		cmds = append(cmds, redisCommand{"EXPIRE", keys.events, ttlSeconds(s.ttl)})
	}

	if _, err := s.pipeline(ctx, cmds...); err != nil {
		return err
	}
	t.markPersisted()
	return nil
}

func (s *UpstashRedisStore) Delete(ctx context.Context, senderID string) error {
	keys, err := s.keys(senderID)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, redisCommand{"DEL", keys.state, keys.events})
	return err
}

func (s *UpstashRedisStore) keys(senderID string) (trackerKeys, error) {
	if strings.TrimSpace(senderID) == "" {
		return trackerKeys{}, ErrInvalidSender
	}
	prefix := strings.TrimSpace(s.keyPrefix)
	if prefix == "" {
		prefix = defaultStoreKeyPrefix
	}
	state := prefix + senderID
	return trackerKeys{state: state, events: state + eventsKeySuffix}, nil
}

func (s *UpstashRedisStore) exec(ctx context.Context, cmd redisCommand) (*redisReply, error) {
	var reply redisReply
	if err := s.post(ctx, s.baseURL, cmd, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}
	return &reply, nil
}

// pipeline sends commands through the REST /pipeline endpoint. Redis still
// runs every command when one fails, so the first error is reported.
func (s *UpstashRedisStore) pipeline(ctx context.Context, cmds ...redisCommand) ([]redisReply, error) {
	if len(cmds) == 0 {
		return nil, errors.New("empty redis pipeline")
	}

	var replies []redisReply
	if err := s.post(ctx, s.baseURL+"/pipeline", cmds, &replies); err != nil {
		return nil, err
	}
	if len(replies) != len(cmds) {
		return nil, fmt.Errorf("redis pipeline returned %d replies for %d commands", len(replies), len(cmds))
	}
	for i, reply := range replies {
		if reply.Error != "" {
			return nil, fmt.Errorf("redis %v: %s", cmds[i][0], reply.Error)
		}
	}
	return replies, nil
}

func (s *UpstashRedisStore) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes+1))
	if err != nil {
		return fmt.Errorf("read redis response: %w", err)
	}
	if len(raw) > maxResponseSizeBytes {
		return fmt.Errorf("redis response exceeds %d bytes", maxResponseSizeBytes)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode redis response: %w", err)
	}
	return nil
}

func decodeHistory(result json.RawMessage) ([]contractx.Event, error) {
	var items []string
	if trimmed := bytes.TrimSpace(result); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode event history: %w", err)
		}
	}

	events := make([]contractx.Event, 0, len(items))
	for _, item := range items {
		var rec eventRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode event record: %w", err)
		}
		ev, err := decodeEvent(rec)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
