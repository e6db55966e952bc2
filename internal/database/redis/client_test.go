package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNewKeys(t *testing.T) {
	tests := []struct {
		prefix string
		stats  string
	}{
		{"", "gominer:stats"},
		{"gominer:wallet1", "gominer:wallet1:stats"},
		{"gominer:wallet1:", "gominer:wallet1:stats"},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			k := NewKeys(tt.prefix)
			if k.Stats != tt.stats {
				t.Errorf("Stats = %q, want %q", k.Stats, tt.stats)
			}
		})
	}
}

func TestAverageMembers(t *testing.T) {
	members := []string{
		hashrateMember(100, 1000),
		hashrateMember(102, 3000),
		"garbage",
		"104:nan-ish",
	}
	if got := averageMembers(members); got != 2000 {
		t.Errorf("averageMembers() = %v, want 2000", got)
	}
	if got := averageMembers(nil); got != 0 {
		t.Errorf("averageMembers(nil) = %v, want 0", got)
	}
}

func TestHashrateMember_Unique(t *testing.T) {
	if hashrateMember(1, 50) == hashrateMember(2, 50) {
		t.Error("samples with equal hashrate collapse into one member")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	c := newClient(rdb, &Config{KeyPrefix: "p"})
	if c.statsTTL != time.Minute || c.window != 10*time.Minute {
		t.Errorf("defaults = %v, %v", c.statsTTL, c.window)
	}
	if c.keys.Shares != "p:shares" {
		t.Errorf("Shares key = %q", c.keys.Shares)
	}
}
