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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCloud/pkg/secrets"
	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

const sampleConfig = `
server:
  addr: ":9090"
tenants:
  - id: tenant-1
    name: Acme
    providers:
      - id: prov-openai
        kind: openai
        api_key_env: TEST_OPENAI_KEY
        is_active: true
    datasets:
      - id: ds-docs
        name: Product Docs
        tags: [docs, public]
        is_active: true
      - id: ds-internal
        name: Internal Wiki
        metadata:
          team: support
        is_active: true
      - id: ds-archived
        name: Old Docs
        is_active: false
    bots:
      - id: bot-support
        name: Support Bot
        system_prompt: You help customers.
        model: gpt-4o-mini
        temperature: 0.4
        is_active: true
        provider_id: prov-openai
        dataset_ids: [ds-docs]
        scopes:
          - id: scope-support
            name: support
            is_active: true
            guardrails:
              strictness: moderate
              allowed_topics: [billing, support]
              refusal_message: Please keep questions on topic.
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "platform.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	f, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", f.Server.Addr)
	require.Len(t, f.Tenants, 1)
	assert.Len(t, f.Tenants[0].Datasets, 3)

	// Defaults fill unset fields.
	assert.Equal(t, "http", f.Weaviate.Scheme)
	assert.NotZero(t, f.Server.ShutdownTimeout)
}

func TestLoad_RejectsDanglingProvider(t *testing.T) {
	bad := `
tenants:
  - id: t1
    bots:
      - id: b1
        model: gpt-4o-mini
        provider_id: nope
`
	_, err := Load(writeConfig(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestLoad_RejectsDuplicateIDs(t *testing.T) {
	bad := `
tenants:
  - id: t1
    datasets:
      - id: same
        name: a
      - id: same
        name: b
`
	_, err := Load(writeConfig(t, bad))
	assert.Error(t, err)
}

func TestRegistry_Bot(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test-abc")

	r, err := NewRegistry(writeConfig(t, sampleConfig), secrets.NewManager())
	require.NoError(t, err)

	bot, err := r.Bot(context.Background(), "bot-support")
	require.NoError(t, err)
	assert.Equal(t, "Support Bot", bot.Name)
	assert.Equal(t, "tenant-1", bot.TenantID)
	assert.Equal(t, float32(0.4), bot.Temperature)

	require.NotNil(t, bot.Provider)
	assert.Equal(t, datatypes.ProviderOpenAI, bot.Provider.Kind)
	assert.Equal(t, "sk-test-abc", bot.Provider.APIKey)

	require.Len(t, bot.Datasets, 1)
	assert.Equal(t, "ds-docs", bot.Datasets[0].ID)

	require.Len(t, bot.Scopes, 1)
	assert.Equal(t, datatypes.StrictnessModerate, bot.Scopes[0].Guardrails.Strictness)
	assert.Equal(t, "bot-support", bot.Scopes[0].BotID)
}

func TestRegistry_BotNotFound(t *testing.T) {
	r, err := NewRegistry(writeConfig(t, sampleConfig), nil)
	require.NoError(t, err)

	_, err = r.Bot(context.Background(), "missing")
	assert.Error(t, err)
}

func TestRegistry_ActiveDatasets(t *testing.T) {
	r, err := NewRegistry(writeConfig(t, sampleConfig), nil)
	require.NoError(t, err)

	active, err := r.ActiveDatasets(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, ds := range active {
		assert.True(t, ds.IsActive)
	}

	empty, err := r.ActiveDatasets(context.Background(), "other-tenant")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRegistry_ReloadSwapsSnapshot(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	r, err := NewRegistry(path, nil)
	require.NoError(t, err)

	updated := sampleConfig + `
  - id: tenant-2
    name: Beta
    providers:
      - id: prov-2
        kind: openai
        is_active: true
    bots:
      - id: bot-beta
        name: Beta Bot
        model: gpt-4o-mini
        is_active: true
        provider_id: prov-2
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, r.Reload())

	_, err = r.Bot(context.Background(), "bot-beta")
	assert.NoError(t, err)
}

func TestRegistry_FailedReloadKeepsSnapshot(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	r, err := NewRegistry(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{{not yaml"), 0o644))
	require.Error(t, r.Reload())

	// Previous definitions still serve.
	_, err = r.Bot(context.Background(), "bot-support")
	assert.NoError(t, err)
}
