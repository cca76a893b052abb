package redis

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestKeyNamespacing(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	assert.Equal(t, "chainbandit:lock:bandit:arms", NewFromClient(rdb, "").key("lock", "bandit:arms"))
	assert.Equal(t, "staging:lock:x", NewFromClient(rdb, "staging").key("lock", "x"))
}

func TestNewSignalBusDefaultsMaxLen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	c := NewFromClient(rdb, "")
	assert.Equal(t, defaultStreamMaxLen, NewSignalBus(c, 0).maxLen)
	assert.Equal(t, int64(500), NewSignalBus(c, 500).maxLen)
}
