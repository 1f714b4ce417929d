// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Key layout:
//
//	conv:<conversation_id>           -> Conversation JSON
//	sess:<bot_id>:<session_id>       -> conversation_id
//	msg:<conversation_id>:<seq %010d> -> StoredMessage JSON
//
// The zero-padded decimal sequence keeps message keys in chronological
// order under Badger's lexicographic iteration.
func convKey(id string) []byte { return []byte("conv:" + id) }

func sessKey(botID, sessionID string) []byte {
	return []byte("sess:" + botID + ":" + sessionID)
}

func msgKey(convID string, seq int) []byte {
	return []byte(fmt.Sprintf("msg:%s:%010d", convID, seq))
}

func msgPrefix(convID string) []byte { return []byte("msg:" + convID + ":") }

// ConversationStore persists conversations and their messages.
//
// # Description
//
// Sequence numbers are assigned inside the append transaction from the
// conversation record's LastSequence counter, which the same transaction
// rewrites. Every appender therefore reads and writes the conversation
// key, so Badger fails the later of two colliding commits with
// ErrConflict and the loser retries against the new counter. Sequence
// numbers stay monotonic and gapless per conversation under concurrent
// appends.
//
// # Thread Safety
//
// Safe for concurrent use.
type ConversationStore struct {
	db *badger.DB
}

// NewConversationStore wraps an open database.
func NewConversationStore(db *badger.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// GetOrCreate resolves the conversation for a session, creating one when
// the session is unknown.
//
// A supplied session ID is reused only when it resolves to an active
// conversation owned by the same bot; otherwise a fresh conversation is
// created under that session ID. An empty session ID always creates a new
// conversation with a generated session ID.
func (s *ConversationStore) GetOrCreate(ctx context.Context, bot *datatypes.Bot, sessionID string) (*datatypes.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if sessionID != "" {
		conv, err := s.bySession(bot.ID, sessionID)
		if err == nil && conv.IsActive {
			return conv, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	conv := &datatypes.Conversation{
		ID:        datatypes.NewID(),
		BotID:     bot.ID,
		SessionID: sessionID,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if conv.SessionID == "" {
		conv.SessionID = datatypes.NewID()
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, convKey(conv.ID), conv); err != nil {
			return err
		}
		return txn.Set(sessKey(bot.ID, conv.SessionID), []byte(conv.ID))
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// Get loads a conversation by ID.
func (s *ConversationStore) Get(ctx context.Context, id string) (*datatypes.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var conv datatypes.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, convKey(id), &conv)
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *ConversationStore) bySession(botID, sessionID string) (*datatypes.Conversation, error) {
	var conv datatypes.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessKey(botID, sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var convID string
		if err := item.Value(func(val []byte) error {
			convID = string(val)
			return nil
		}); err != nil {
			return err
		}
		return getJSON(txn, convKey(convID), &conv)
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendExchange appends the given messages to a conversation in order,
// assigning IDs, timestamps, and sequence numbers inside one transaction.
//
// The second return is true when the conversation had no prior messages,
// which is the trigger for title generation.
func (s *ConversationStore) AppendExchange(ctx context.Context, conversationID string, messages []datatypes.StoredMessage) ([]datatypes.StoredMessage, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if len(messages) == 0 {
		return nil, false, errors.New("no messages to append")
	}

	var (
		saved []datatypes.StoredMessage
		first bool
	)

	for {
		saved = make([]datatypes.StoredMessage, len(messages))
		copy(saved, messages)

		err := s.db.Update(func(txn *badger.Txn) error {
			var conv datatypes.Conversation
			if err := getJSON(txn, convKey(conversationID), &conv); err != nil {
				return err
			}
			first = conv.LastSequence == 0

			now := time.Now().UTC()
			for i := range saved {
				saved[i].ConversationID = conversationID
				saved[i].SequenceNumber = conv.LastSequence + i + 1
				if saved[i].ID == "" {
					saved[i].ID = datatypes.NewID()
				}
				if saved[i].CreatedAt.IsZero() {
					saved[i].CreatedAt = now
				}
				if err := setJSON(txn, msgKey(conversationID, saved[i].SequenceNumber), &saved[i]); err != nil {
					return err
				}
			}

			// The counter rewrite puts the conversation key in every
			// appender's read-write set; message keys alone are never
			// shared between appenders, so without it Badger would let
			// colliding commits both succeed.
			conv.LastSequence += len(saved)
			return setJSON(txn, convKey(conversationID), &conv)
		})
		if err == nil {
			return saved, first, nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return nil, false, fmt.Errorf("append messages: %w", err)
		}
		// Every conflict means another append committed, so the retry
		// loop makes global progress.
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
	}
}

// History returns up to limit most recent messages in chronological order.
// A non-positive limit returns the full history.
func (s *ConversationStore) History(ctx context.Context, conversationID string, limit int) ([]datatypes.StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var messages []datatypes.StoredMessage
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = msgPrefix(conversationID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var msg datatypes.StoredMessage
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// SetTitleOnce sets the conversation title if it is still empty. Returns
// true when this call set it.
func (s *ConversationStore) SetTitleOnce(ctx context.Context, conversationID, title string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	set := false
	for {
		set = false
		err := s.db.Update(func(txn *badger.Txn) error {
			var conv datatypes.Conversation
			if err := getJSON(txn, convKey(conversationID), &conv); err != nil {
				return err
			}
			if conv.Title != "" {
				return nil
			}
			conv.Title = title
			set = true
			return setJSON(txn, convKey(conversationID), &conv)
		})
		if err == nil {
			return set, nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return false, fmt.Errorf("set title: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
	}
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}
