package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// FakeRedis keeps values in a map and serves the commands the payment cache
// sends. Eval does not interpret the script: it stores args[0] under keys[0]
// unless keys[1] exists, which is what the snapshot script does.
type FakeRedis struct {
	GetErr error
	// BeforeEval runs ahead of every script, outside the lock.
	BeforeEval func()

	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	deleted []string
}

func NewFakeRedis() *FakeRedis {
	return &FakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *FakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.GetErr != nil {
		return redis.NewStringResult("", f.GetErr)
	}
	value, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *FakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.values[key] = stringify(value)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *FakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, key := range keys {
		delete(f.values, key)
		f.deleted = append(f.deleted, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (f *FakeRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	if hook := f.BeforeEval; hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, fenced := f.values[keys[1]]; fenced {
		return redis.NewCmdResult(int64(0), nil)
	}
	f.values[keys[0]] = stringify(args[0])
	if ms, ok := args[1].(int64); ok {
		f.ttls[keys[0]] = time.Duration(ms) * time.Millisecond
	}
	return redis.NewCmdResult(int64(1), nil)
}

func (f *FakeRedis) Has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.values[key]
	return ok
}

func (f *FakeRedis) TTL(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttls[key]
}

func (f *FakeRedis) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return ""
	}
}
