package main

import (
	"testing"

	"github.com/smallbiznis/creditmeter/internal/config"
)

func TestCommandsRegistered(t *testing.T) {
	for _, cmd := range []struct {
		use  string
		subs int
	}{
		{use: newServeCommand().Use},
		{use: newMigrateCommand().Use, subs: len(newMigrateCommand().Commands())},
		{use: newSeedTiersCommand().Use},
	} {
		if cmd.use == "" {
			t.Fatalf("command without a name")
		}
		if cmd.use == "migrate" && cmd.subs != 1 {
			t.Fatalf("migrate should expose a version subcommand, got %d", cmd.subs)
		}
	}
}

func TestRegisterSnowflakeRejectsBadNode(t *testing.T) {
	if _, err := RegisterSnowflake(config.Config{NodeID: 1}); err != nil {
		t.Fatalf("node 1: %v", err)
	}
	if _, err := RegisterSnowflake(config.Config{NodeID: 4096}); err == nil {
		t.Fatalf("expected error for out of range node")
	}
}
