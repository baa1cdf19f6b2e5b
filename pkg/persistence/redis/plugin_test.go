package redis

import (
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/falconandrea/FileSolvers/pkg/persistence"
	"github.com/falconandrea/FileSolvers/pkg/persistence/storetest"
)

func TestRedisPlugin(t *testing.T) {
	storetest.Run(t, func(t *testing.T) persistence.PluginPersistence {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis start: %v", err)
		}
		t.Cleanup(mr.Close)

		raw, _ := json.Marshal(Config{Addr: mr.Addr(), KeyPrefix: "test"})
		p, err := persistence.NewPersistence(persistence.ProviderConfig{Type: "redis", Config: raw}, persistence.PluginConfig{MaxRetries: 64})
		if err != nil {
			t.Fatalf("NewPersistence: %v", err)
		}
		return p
	})
}

func TestRedisPluginRequiresAddr(t *testing.T) {
	if _, err := NewPlugin(persistence.PluginConfig{Config: []byte(`{}`)}); err == nil {
		t.Fatal("expected error without addr")
	}
}
