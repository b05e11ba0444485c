package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-crmsync/core"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// secretEnv lists the settings that are read from the environment so they
// stay out of config files.
var secretEnv = map[string][]string{
	"CRMSYNC_WEBHOOK_SECRET": {"webhook_secret"},
	"CRMSYNC_API_KEY":        {"api", "api_key"},
	"CRMSYNC_LOCATION_ID":    {"api", "location_id"},
}

func loadConfig(ctx *cli.Context) (core.SyncConfig, error) {
	values := map[string]any{}
	if path := strings.TrimSpace(ctx.String("config")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return core.SyncConfig{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &values); err != nil {
			return core.SyncConfig{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return core.LoadConfig(ctx.Context, core.StaticConfigLoader{Values: values}, envOverrides(os.LookupEnv))
}

func envOverrides(lookup func(string) (string, bool)) map[string]any {
	runtime := map[string]any{}
	for name, path := range secretEnv {
		value, ok := lookup(name)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		setPath(runtime, path, strings.TrimSpace(value))
	}
	return runtime
}

func setPath(target map[string]any, path []string, value any) {
	for _, key := range path[:len(path)-1] {
		next, ok := target[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			target[key] = next
		}
		target = next
	}
	target[path[len(path)-1]] = value
}

