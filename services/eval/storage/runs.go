// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianEval/services/eval/report"
)

var (
	// ErrNotFound is returned when a run ID is not in the store.
	ErrNotFound = errors.New("run not found")

	// ErrInvalidReport is returned when saving a report without a run ID.
	ErrInvalidReport = errors.New("report must have a run id")
)

// Key layout:
//
//	run/<id>                 -> report JSON
//	idx/<inverted ts>/<id>   -> RunSummary JSON
//
// The inverted start time makes a forward prefix scan return the newest
// run first.
const (
	runPrefix = "run/"
	idxPrefix = "idx/"
)

// RunSummary is the listing entry of a stored run.
type RunSummary struct {
	RunID          string      `json:"run_id"`
	Kind           report.Kind `json:"kind"`
	Dataset        string      `json:"dataset"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
	Configs        []string    `json:"configs"`
	Accuracy       []float64   `json:"accuracy"`
	Recommendation string      `json:"recommendation,omitempty"`
}

// Summarize builds the listing entry of r.
func Summarize(r *report.Report) RunSummary {
	s := RunSummary{
		RunID:      r.RunID,
		Kind:       r.Kind,
		Dataset:    r.Dataset,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	for _, b := range r.Batches {
		s.Configs = append(s.Configs, b.ConfigName)
		s.Accuracy = append(s.Accuracy, b.Accuracy)
	}
	if r.Comparison != nil {
		s.Recommendation = r.Comparison.Recommendation.String()
	}
	return s
}

// RunStore persists finished run reports.
//
// Thread Safety: Safe for concurrent use; Badger serializes conflicting
// transactions.
type RunStore struct {
	db *DB
}

// NewRunStore creates a store over db. The caller keeps ownership of db.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

func runKey(id string) []byte { return []byte(runPrefix + id) }

func indexKey(startedAt time.Time, id string) []byte {
	inverted := uint64(math.MaxInt64 - startedAt.UnixNano())
	return []byte(fmt.Sprintf("%s%020d/%s", idxPrefix, inverted, id))
}

// Save stores r, replacing any earlier report with the same run ID.
func (s *RunStore) Save(ctx context.Context, r *report.Report) error {
	if r == nil || r.RunID == "" {
		return ErrInvalidReport
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", r.RunID, err)
	}
	summary, err := json.Marshal(Summarize(r))
	if err != nil {
		return fmt.Errorf("encode summary %s: %w", r.RunID, err)
	}

	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if prev, err := getReport(txn, r.RunID); err == nil {
			if err := txn.Delete(indexKey(prev.StartedAt, prev.RunID)); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := txn.Set(runKey(r.RunID), body); err != nil {
			return err
		}
		return txn.Set(indexKey(r.StartedAt, r.RunID), summary)
	})
}

// Get loads the report of run id.
//
// Outputs:
//   - *report.Report: The stored report.
//   - error: ErrNotFound if no such run exists.
func (s *RunStore) Get(ctx context.Context, id string) (*report.Report, error) {
	var out *report.Report
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		r, err := getReport(txn, id)
		out = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns up to limit run summaries, newest first. A limit of zero
// or less returns every run.
func (s *RunStore) List(ctx context.Context, limit int) ([]RunSummary, error) {
	var out []RunSummary
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(idxPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			var sum RunSummary
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &sum)
			}); err != nil {
				return fmt.Errorf("decode summary %s: %w", it.Item().Key(), err)
			}
			out = append(out, sum)
		}
		return nil
	})
	return out, err
}

// Delete removes run id.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		prev, err := getReport(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(indexKey(prev.StartedAt, id)); err != nil {
			return err
		}
		return txn.Delete(runKey(id))
	})
}

func getReport(txn *badger.Txn, id string) (*report.Report, error) {
	item, err := txn.Get(runKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var r report.Report
	if err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &r)
	}); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", id, err)
	}
	return &r, nil
}
