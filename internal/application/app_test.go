package application

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JonMunkholm/catalogsync/internal/config"
)

func TestRedisOpt(t *testing.T) {
	opt := RedisOpt(config.RedisConfig{Addr: "cache:6379", Password: "pw", DB: 2})
	assert.Equal(t, "cache:6379", opt.Addr)
	assert.Equal(t, "pw", opt.Password)
	assert.Equal(t, 2, opt.DB)
}
