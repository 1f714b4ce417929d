// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets holds tenant provider credentials in locked memory.
//
// Values are sealed into memguard enclaves at load time so API keys never
// sit in plain heap memory between requests. Secret values are never
// logged; log lines carry the secret name only.
package secrets

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrSecretNotFound is returned when a requested secret does not exist in
// the vault or its environment variable is unset.
var ErrSecretNotFound = errors.New("secret not found")

// initOnce guards process-wide memguard setup.
var initOnce sync.Once

func initMemguard() {
	initOnce.Do(func() {
		// Wipe locked buffers on SIGINT/SIGTERM before exiting.
		go memguard.CatchInterrupt()
	})
}

// Manager is an in-process vault of named secrets.
//
// # Thread Safety
//
// Manager is safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	vault   map[string]*memguard.Enclave
	envFunc func(string) string
}

// NewManager creates an empty vault.
func NewManager() *Manager {
	initMemguard()
	return &Manager{
		vault:   make(map[string]*memguard.Enclave),
		envFunc: os.Getenv,
	}
}

// Seal stores a secret value under name, replacing any previous value.
// The caller's copy of value is not wiped; prefer LoadEnv where possible.
func (m *Manager) Seal(name, value string) error {
	if name == "" {
		return fmt.Errorf("secret name cannot be empty")
	}
	if value == "" {
		return fmt.Errorf("secret %q cannot be empty", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vault[name] = memguard.NewEnclave([]byte(value))
	return nil
}

// LoadEnv reads the environment variable name and seals its value. Returns
// ErrSecretNotFound when the variable is unset or empty.
func (m *Manager) LoadEnv(name string) error {
	value := m.envFunc(name)
	if value == "" {
		slog.Warn("Secret environment variable is not set", "name", name)
		return fmt.Errorf("environment variable %s: %w", name, ErrSecretNotFound)
	}
	return m.Seal(name, value)
}

// Reveal returns a plain-text copy of the secret. The returned string lives
// on the regular heap; callers should keep its lifetime short.
func (m *Manager) Reveal(name string) (string, error) {
	m.mu.RLock()
	enclave, ok := m.vault[name]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("secret %s: %w", name, ErrSecretNotFound)
	}

	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open secret %s: %w", name, err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// Has reports whether a secret is sealed under name.
func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.vault[name]
	return ok
}

// Names returns the sealed secret names, values excluded.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.vault))
	for name := range m.vault {
		names = append(names, name)
	}
	return names
}

// Purge drops all sealed secrets and wipes the session's locked memory.
func (m *Manager) Purge() {
	m.mu.Lock()
	m.vault = make(map[string]*memguard.Enclave)
	m.mu.Unlock()
	memguard.Purge()
}
