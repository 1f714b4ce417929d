// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the platform definition file: server settings plus
// the tenants, bots, scopes, and datasets the chat pipeline serves.
//
// Provider API keys never appear in the file; each provider names the
// environment variable holding its key and the loader seals the value into
// the secrets vault.
package config

import (
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

// File is the root of platform.yaml.
type File struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Weaviate  WeaviateConfig  `yaml:"weaviate"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Titles    TitlesConfig    `yaml:"titles"`
	Tenants   []TenantDef     `yaml:"tenants"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	Path       string        `yaml:"path"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

type WeaviateConfig struct {
	Host   string `yaml:"host"`
	Scheme string `yaml:"scheme"`
	// APIKeyEnv names the environment variable with the Weaviate key.
	// Empty means anonymous access.
	APIKeyEnv string `yaml:"api_key_env"`
}

type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC collector address. Empty falls back to
	// stdout trace export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

type TitlesConfig struct {
	Workers int           `yaml:"workers"`
	Buffer  int           `yaml:"buffer"`
	Delay   time.Duration `yaml:"delay"`
}

// TenantDef declares one tenant with its credentials, corpus, and bots.
type TenantDef struct {
	ID        string        `yaml:"id"`
	Name      string        `yaml:"name"`
	Providers []ProviderDef `yaml:"providers"`
	Datasets  []DatasetDef  `yaml:"datasets"`
	Bots      []BotDef      `yaml:"bots"`
}

// ProviderDef is a tenant LLM credential. APIKeyEnv names the environment
// variable holding the key; the value itself never appears in config.
type ProviderDef struct {
	ID           string `yaml:"id"`
	Kind         string `yaml:"kind"`
	APIKeyEnv    string `yaml:"api_key_env"`
	BaseURL      string `yaml:"base_url"`
	Organization string `yaml:"organization"`
	MaxTokens    int    `yaml:"max_tokens"`
	IsActive     bool   `yaml:"is_active"`
}

type DatasetDef struct {
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name"`
	Tags     []string          `yaml:"tags"`
	Metadata map[string]string `yaml:"metadata"`
	IsActive bool              `yaml:"is_active"`
	Priority int               `yaml:"priority"`
}

type BotDef struct {
	ID           string     `yaml:"id"`
	Name         string     `yaml:"name"`
	SystemPrompt string     `yaml:"system_prompt"`
	Model        string     `yaml:"model"`
	Temperature  float32    `yaml:"temperature"`
	MaxTokens    int        `yaml:"max_tokens"`
	IsActive     bool       `yaml:"is_active"`
	IsPublic     bool       `yaml:"is_public"`
	ProviderID   string     `yaml:"provider_id"`
	DatasetIDs   []string   `yaml:"dataset_ids"`
	Scopes       []ScopeDef `yaml:"scopes"`
}

type ScopeDef struct {
	ID             string        `yaml:"id"`
	Name           string        `yaml:"name"`
	Description    string        `yaml:"description"`
	DatasetFilters []FilterDef   `yaml:"dataset_filters"`
	Guardrails     GuardrailsDef `yaml:"guardrails"`
	IsActive       bool          `yaml:"is_active"`
}

type FilterDef struct {
	Tags     []string          `yaml:"tags"`
	Metadata map[string]string `yaml:"metadata"`
}

type GuardrailsDef struct {
	Strictness      string   `yaml:"strictness"`
	AllowedTopics   []string `yaml:"allowed_topics"`
	ForbiddenTopics []string `yaml:"forbidden_topics"`
	StrictKnowledge bool     `yaml:"strict_knowledge"`
	AllowedSources  []string `yaml:"allowed_sources"`

	RequireCitations     bool `yaml:"require_citations"`
	MaintainFriendlyTone bool `yaml:"maintain_friendly_tone"`
	MaxResponseLength    int  `yaml:"max_response_length"`
	MaxHistory           int  `yaml:"max_history"`

	RefusalMessage string `yaml:"refusal_message"`
}

// applyDefaults fills unset server and scheduler settings.
func (f *File) applyDefaults() {
	if f.Server.Addr == "" {
		f.Server.Addr = ":8080"
	}
	if f.Server.ShutdownTimeout == 0 {
		f.Server.ShutdownTimeout = 10 * time.Second
	}
	if f.Store.Path == "" && !f.Store.InMemory {
		f.Store.Path = "./data/conversations"
	}
	if f.Weaviate.Scheme == "" {
		f.Weaviate.Scheme = "http"
	}
	if f.Telemetry.ServiceName == "" {
		f.Telemetry.ServiceName = "aleutian-platform"
	}
}

// Validate rejects files a running platform could not serve: duplicate
// IDs, dangling provider or dataset references, and bots without a model.
func (f *File) Validate() error {
	seen := make(map[string]string)
	claim := func(id, kind string) error {
		if id == "" {
			return fmt.Errorf("%s is missing an id", kind)
		}
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("%s %q collides with %s id", kind, id, prev)
		}
		seen[id] = kind
		return nil
	}

	for ti := range f.Tenants {
		tenant := &f.Tenants[ti]
		if err := claim(tenant.ID, "tenant"); err != nil {
			return err
		}

		providers := make(map[string]bool, len(tenant.Providers))
		for _, p := range tenant.Providers {
			if err := claim(p.ID, "provider"); err != nil {
				return err
			}
			if p.Kind == "" {
				return fmt.Errorf("provider %q has no kind", p.ID)
			}
			providers[p.ID] = true
		}

		datasets := make(map[string]bool, len(tenant.Datasets))
		for _, d := range tenant.Datasets {
			if err := claim(d.ID, "dataset"); err != nil {
				return err
			}
			datasets[d.ID] = true
		}

		for _, b := range tenant.Bots {
			if err := claim(b.ID, "bot"); err != nil {
				return err
			}
			if b.Model == "" {
				return fmt.Errorf("bot %q has no model", b.ID)
			}
			if b.ProviderID == "" {
				return fmt.Errorf("bot %q has no provider_id", b.ID)
			}
			if !providers[b.ProviderID] {
				return fmt.Errorf("bot %q references unknown provider %q", b.ID, b.ProviderID)
			}
			for _, dsID := range b.DatasetIDs {
				if !datasets[dsID] {
					return fmt.Errorf("bot %q references unknown dataset %q", b.ID, dsID)
				}
			}
		}
	}
	return nil
}

func (d DatasetDef) toDataset(tenantID string) datatypes.Dataset {
	return datatypes.Dataset{
		ID:       d.ID,
		TenantID: tenantID,
		Name:     d.Name,
		Tags:     d.Tags,
		Metadata: d.Metadata,
		IsActive: d.IsActive,
		Priority: d.Priority,
	}
}

func (s ScopeDef) toScope(botID string) datatypes.Scope {
	filters := make([]datatypes.DatasetFilter, 0, len(s.DatasetFilters))
	for _, f := range s.DatasetFilters {
		filters = append(filters, datatypes.DatasetFilter{Tags: f.Tags, Metadata: f.Metadata})
	}

	g := datatypes.Guardrails{
		Strictness:      datatypes.Strictness(s.Guardrails.Strictness),
		AllowedTopics:   s.Guardrails.AllowedTopics,
		ForbiddenTopics: s.Guardrails.ForbiddenTopics,
		KnowledgeBoundaries: datatypes.KnowledgeBoundaries{
			StrictMode:     s.Guardrails.StrictKnowledge,
			AllowedSources: s.Guardrails.AllowedSources,
		},
		RefusalMessage: s.Guardrails.RefusalMessage,
	}
	if s.Guardrails.RequireCitations || s.Guardrails.MaintainFriendlyTone || s.Guardrails.MaxResponseLength > 0 {
		g.ResponseGuidelines = &datatypes.ResponseGuidelines{
			MaxResponseLength:    s.Guardrails.MaxResponseLength,
			RequireCitations:     s.Guardrails.RequireCitations,
			MaintainFriendlyTone: s.Guardrails.MaintainFriendlyTone,
		}
	}
	if s.Guardrails.MaxHistory > 0 {
		g.ContextSettings = &datatypes.ContextSettings{MaxConversationHistory: s.Guardrails.MaxHistory}
	}

	return datatypes.Scope{
		ID:             s.ID,
		BotID:          botID,
		Name:           s.Name,
		Description:    s.Description,
		DatasetFilters: filters,
		Guardrails:     g,
		IsActive:       s.IsActive,
	}
}
