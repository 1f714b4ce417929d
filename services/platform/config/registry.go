// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianCloud/pkg/secrets"
	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

// reloadDebounce coalesces the burst of fsnotify events an editor save or
// atomic rename produces into one reload.
const reloadDebounce = 200 * time.Millisecond

// snapshot is one immutable view of the tenant definitions. Lookups read
// whichever snapshot was current when they started; reloads swap the whole
// snapshot at once.
type snapshot struct {
	bots     map[string]*datatypes.Bot
	datasets map[string][]datatypes.Dataset
}

// Registry serves bot and dataset lookups from a platform definition file
// and hot-reloads when the file changes.
//
// # Description
//
// Registry implements the pipeline's bot resolution and the retrieval
// engine's dataset catalog from one YAML file. Provider API keys are
// sealed into the secrets vault at load time and revealed per lookup, so
// a returned Bot carries a usable credential without the registry holding
// plain keys long-term.
//
// # Thread Safety
//
// Registry is safe for concurrent use. A failed reload keeps the previous
// snapshot serving.
type Registry struct {
	path  string
	vault *secrets.Manager

	mu   sync.RWMutex
	file *File
	snap *snapshot
}

// NewRegistry loads the definition file at path. Provider keys named by
// api_key_env are sealed into vault; a missing key logs a warning and the
// provider stays configured but will fail at request time.
func NewRegistry(path string, vault *secrets.Manager) (*Registry, error) {
	r := &Registry{path: path, vault: vault}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// File returns the currently loaded definition file.
func (r *Registry) File() *File {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.file
}

// Reload re-reads the definition file and swaps in the new snapshot.
// On error the previous snapshot keeps serving.
func (r *Registry) Reload() error {
	f, err := Load(r.path)
	if err != nil {
		return err
	}
	snap := r.buildSnapshot(f)

	r.mu.Lock()
	r.file = f
	r.snap = snap
	r.mu.Unlock()

	slog.Info("Loaded platform config",
		"path", r.path, "tenants", len(f.Tenants), "bots", len(snap.bots))
	return nil
}

func (r *Registry) buildSnapshot(f *File) *snapshot {
	snap := &snapshot{
		bots:     make(map[string]*datatypes.Bot),
		datasets: make(map[string][]datatypes.Dataset),
	}

	for _, tenant := range f.Tenants {
		byID := make(map[string]datatypes.Dataset, len(tenant.Datasets))
		for _, d := range tenant.Datasets {
			ds := d.toDataset(tenant.ID)
			byID[ds.ID] = ds
			snap.datasets[tenant.ID] = append(snap.datasets[tenant.ID], ds)
		}

		providers := make(map[string]*datatypes.ProviderConfig, len(tenant.Providers))
		for _, p := range tenant.Providers {
			if p.APIKeyEnv != "" && r.vault != nil && !r.vault.Has(p.APIKeyEnv) {
				if err := r.vault.LoadEnv(p.APIKeyEnv); err != nil {
					slog.Warn("Provider key not available",
						"provider_id", p.ID, "env", p.APIKeyEnv)
				}
			}
			providers[p.ID] = &datatypes.ProviderConfig{
				ID:           p.ID,
				TenantID:     tenant.ID,
				Kind:         datatypes.ProviderKind(p.Kind),
				BaseURL:      p.BaseURL,
				Organization: p.Organization,
				MaxTokens:    p.MaxTokens,
				IsActive:     p.IsActive,
			}
		}

		for _, b := range tenant.Bots {
			bot := &datatypes.Bot{
				ID:           b.ID,
				TenantID:     tenant.ID,
				Name:         b.Name,
				SystemPrompt: b.SystemPrompt,
				Model:        b.Model,
				Temperature:  b.Temperature,
				MaxTokens:    b.MaxTokens,
				IsActive:     b.IsActive,
				IsPublic:     b.IsPublic,
				Provider:     providers[b.ProviderID],
			}
			for _, dsID := range b.DatasetIDs {
				if ds, ok := byID[dsID]; ok {
					bot.Datasets = append(bot.Datasets, ds)
				}
			}
			for _, s := range b.Scopes {
				bot.Scopes = append(bot.Scopes, s.toScope(b.ID))
			}
			snap.bots[bot.ID] = bot
		}
	}
	return snap
}

// keyEnvFor finds the api_key_env declared for a provider id.
func (r *Registry) keyEnvFor(providerID string) string {
	for _, tenant := range r.file.Tenants {
		for _, p := range tenant.Providers {
			if p.ID == providerID {
				return p.APIKeyEnv
			}
		}
	}
	return ""
}

// Bot returns the bot with its provider credential attached. The returned
// value is a copy; callers may not mutate shared state through it.
func (r *Registry) Bot(_ context.Context, id string) (*datatypes.Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bot, ok := r.snap.bots[id]
	if !ok {
		return nil, fmt.Errorf("bot %q not found", id)
	}

	out := *bot
	if bot.Provider != nil {
		provider := *bot.Provider
		if env := r.keyEnvFor(provider.ID); env != "" && r.vault != nil {
			if key, err := r.vault.Reveal(env); err == nil {
				provider.APIKey = key
			}
		}
		out.Provider = &provider
	}
	return &out, nil
}

// ActiveDatasets returns the tenant's active datasets.
func (r *Registry) ActiveDatasets(_ context.Context, tenantID string) ([]datatypes.Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.snap.datasets[tenantID]
	active := make([]datatypes.Dataset, 0, len(all))
	for _, ds := range all {
		if ds.IsActive {
			active = append(active, ds)
		}
	}
	return active, nil
}

// Watch hot-reloads the registry when the definition file changes. Blocks
// until ctx is canceled. Watches the parent directory because editors and
// config mounts replace the file by rename.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch config dir %s: %w", dir, err)
	}

	var debounce *time.Timer
	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			if err := r.Reload(); err != nil {
				slog.Warn("Config reload failed, keeping previous snapshot",
					"path", r.path, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Config watcher error", "error", err)
		}
	}
}
