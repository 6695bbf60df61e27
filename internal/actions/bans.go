// Package actions implements the built-in runbook action handlers: IP bans,
// notifications, incident reports, and service commands.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"threat-sentinel/internal/runbook"
)

const banKeyPrefix = "sentinel:ban:"

// BanRecord describes one active IP ban.
type BanRecord struct {
	IPAddress string    `json:"ip_address"`
	Reason    string    `json:"reason"`
	Runbook   string    `json:"runbook,omitempty"`
	BannedAt  time.Time `json:"banned_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrBanNotFound is returned when no active ban exists for an IP.
var ErrBanNotFound = errors.New("ban not found")

// BanStore persists active bans with a TTL.
type BanStore interface {
	Put(ctx context.Context, record BanRecord, ttl time.Duration) error
	Get(ctx context.Context, ip string) (BanRecord, error)
	Remove(ctx context.Context, ip string) error
	Active(ctx context.Context) ([]BanRecord, error)
}

// RedisBanStore keeps bans in Redis so every enforcement point sees the same
// set and expiry is handled by the server.
type RedisBanStore struct {
	client *redis.Client
}

// RedisBanConfig configures the Redis connection for the ban store.
type RedisBanConfig struct {
	Addr        string        `json:"addr" yaml:"addr"`
	Password    string        `json:"password,omitempty" yaml:"password,omitempty"`
	DB          int           `json:"db" yaml:"db"`
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
}

// NewRedisBanStore connects to Redis and verifies the connection.
func NewRedisBanStore(cfg RedisBanConfig) (*RedisBanStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisBanStore{client: client}, nil
}

func (s *RedisBanStore) Put(ctx context.Context, record BanRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal ban record: %w", err)
	}
	return s.client.Set(ctx, banKeyPrefix+record.IPAddress, data, ttl).Err()
}

func (s *RedisBanStore) Get(ctx context.Context, ip string) (BanRecord, error) {
	val, err := s.client.Get(ctx, banKeyPrefix+ip).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return BanRecord{}, ErrBanNotFound
		}
		return BanRecord{}, err
	}
	var record BanRecord
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return BanRecord{}, fmt.Errorf("failed to unmarshal ban record: %w", err)
	}
	return record, nil
}

func (s *RedisBanStore) Remove(ctx context.Context, ip string) error {
	return s.client.Del(ctx, banKeyPrefix+ip).Err()
}

func (s *RedisBanStore) Active(ctx context.Context) ([]BanRecord, error) {
	var records []BanRecord
	iter := s.client.Scan(ctx, 0, banKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ip := strings.TrimPrefix(iter.Val(), banKeyPrefix)
		record, err := s.Get(ctx, ip)
		if err != nil {
			if errors.Is(err, ErrBanNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, record)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan bans: %w", err)
	}
	return records, nil
}

// Close closes the Redis connection.
func (s *RedisBanStore) Close() error {
	return s.client.Close()
}

// MemoryBanStore is an in-process BanStore for tests and single-node setups.
type MemoryBanStore struct {
	mu      sync.RWMutex
	records map[string]BanRecord
}

// NewMemoryBanStore creates an empty in-memory ban store.
func NewMemoryBanStore() *MemoryBanStore {
	return &MemoryBanStore{records: make(map[string]BanRecord)}
}

func (s *MemoryBanStore) Put(ctx context.Context, record BanRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.IPAddress] = record
	return nil
}

func (s *MemoryBanStore) Get(ctx context.Context, ip string) (BanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[ip]
	if !ok || time.Now().After(record.ExpiresAt) {
		return BanRecord{}, ErrBanNotFound
	}
	return record, nil
}

func (s *MemoryBanStore) Remove(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, ip)
	return nil
}

func (s *MemoryBanStore) Active(ctx context.Context) ([]BanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	records := make([]BanRecord, 0, len(s.records))
	for _, record := range s.records {
		if now.Before(record.ExpiresAt) {
			records = append(records, record)
		}
	}
	return records, nil
}

// IPBanHandler bans the alert's source IP for a configurable duration.
//
// Params:
//
//	duration_seconds - ban TTL, default 3600
//	reason           - free-form reason recorded with the ban
type IPBanHandler struct {
	store BanStore
}

// NewIPBanHandler creates an ip_ban handler backed by the given store.
func NewIPBanHandler(store BanStore) *IPBanHandler {
	return &IPBanHandler{store: store}
}

func (h *IPBanHandler) Type() runbook.ActionType {
	return runbook.ActionIPBan
}

func (h *IPBanHandler) Execute(ctx context.Context, action runbook.Action, alert *runbook.Alert, execCtx runbook.ExecContext) (map[string]any, error) {
	ip := alert.Label("ip_address")
	if ip == "" {
		ip = alert.Label("ip")
	}
	if ip == "" {
		return nil, errors.New("alert has no ip_address label")
	}

	seconds, ok := action.FloatParam("duration_seconds")
	if !ok || seconds <= 0 {
		seconds = 3600
	}
	ttl := time.Duration(seconds * float64(time.Second))

	reason, _ := action.StringParam("reason")
	if reason == "" {
		reason = alert.Label("alertname")
	}

	now := time.Now().UTC()
	record := BanRecord{
		IPAddress: ip,
		Reason:    reason,
		Runbook:   execCtx.Runbook,
		BannedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := h.store.Put(ctx, record, ttl); err != nil {
		return nil, fmt.Errorf("failed to store ban for %s: %w", ip, err)
	}

	slog.Info("banned IP",
		"ip", ip,
		"duration", ttl,
		"reason", reason)

	return map[string]any{
		"ip_address": ip,
		"expires_at": record.ExpiresAt,
	}, nil
}
