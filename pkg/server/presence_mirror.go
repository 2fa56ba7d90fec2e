package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const mirrorWriteTimeout = 3 * time.Second

// RedisPresenceMirror copies each online set into a Redis set and publishes
// it on a channel. Writes happen on a background goroutine and only the
// newest set is kept when Redis falls behind.
type RedisPresenceMirror struct {
	client  *redis.Client
	key     string
	channel string

	write   func(ctx context.Context, ids []int64) error
	pending chan []int64
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewRedisPresenceMirror creates a mirror writing through client
func NewRedisPresenceMirror(client *redis.Client, key, channel string) *RedisPresenceMirror {
	m := &RedisPresenceMirror{
		client:  client,
		key:     key,
		channel: channel,
		pending: make(chan []int64, 1),
		done:    make(chan struct{}),
	}
	m.write = m.writeRedis
	return m
}

// DialRedisPresenceMirror connects to Redis and verifies the connection with a PING
func DialRedisPresenceMirror(addr, password string, db int, key, channel string) (*RedisPresenceMirror, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewRedisPresenceMirror(client, key, channel), nil
}

// Start launches the background writer
func (m *RedisPresenceMirror) Start() {
	m.wg.Add(1)
	go m.loop()
}

// PublishOnline records the newest online set, replacing any set not yet written
func (m *RedisPresenceMirror) PublishOnline(ids []int64) {
	snapshot := append([]int64(nil), ids...)
	for {
		select {
		case m.pending <- snapshot:
			return
		default:
		}
		// Drop the stale set and retry
		select {
		case <-m.pending:
		default:
		}
	}
}

func (m *RedisPresenceMirror) loop() {
	defer m.wg.Done()
	for {
		select {
		case ids := <-m.pending:
			ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
			if err := m.write(ctx, ids); err != nil {
				errorLog.Printf("Presence mirror: failed to write online set: %v", err)
			}
			cancel()
		case <-m.done:
			return
		}
	}
}

func (m *RedisPresenceMirror) writeRedis(ctx context.Context, ids []int64) error {
	payload, err := json.Marshal(ids)
	if err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	pipe.Del(ctx, m.key)
	if len(ids) > 0 {
		members := make([]any, len(ids))
		for i, id := range ids {
			members[i] = id
		}
		pipe.SAdd(ctx, m.key, members...)
	}
	pipe.Publish(ctx, m.channel, payload)
	_, err = pipe.Exec(ctx)
	return err
}

// Close stops the writer, clears the mirrored set and closes the client
func (m *RedisPresenceMirror) Close() error {
	close(m.done)
	m.wg.Wait()

	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()
	if err := m.client.Del(ctx, m.key).Err(); err != nil {
		errorLog.Printf("Presence mirror: failed to clear %s: %v", m.key, err)
	}
	return m.client.Close()
}
