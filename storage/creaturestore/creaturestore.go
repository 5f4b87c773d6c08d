// Copyright 2025 The arena Authors
// This file is part of the arena library.
//
// The arena library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The arena library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the arena library. If not, see <http://www.gnu.org/licenses/>.

// Package creaturestore persists finished creature documents past the result
// cache's TTL. Documents are owned by this adapter once the pipeline commits
// them; the queue never mutates a stored document.
package creaturestore

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	levelstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned when no document exists for a job id.
var ErrNotFound = errors.New("creaturestore: not found")

var keyPrefix = []byte("creature:")

// Store is a leveldb-backed document store keyed by job id.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if missing) the store under the given directory.
func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenInMemory backs the store with volatile memory, for tests.
func OpenInMemory() (*Store, error) {
	db, err := leveldb.Open(levelstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close flushes and releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores the document for a job id, overwriting any previous version.
func (s *Store) Put(jobID string, doc []byte) error {
	return s.db.Put(append(keyPrefix, jobID...), doc, nil)
}

// Get returns the document for a job id.
func (s *Store) Get(jobID string) ([]byte, error) {
	doc, err := s.db.Get(append(keyPrefix, jobID...), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return doc, err
}

// Delete removes the document for a job id. Missing documents are not an
// error: deletes are idempotent.
func (s *Store) Delete(jobID string) error {
	return s.db.Delete(append(keyPrefix, jobID...), nil)
}

// Each calls fn for every stored document until fn returns false.
func (s *Store) Each(fn func(jobID string, doc []byte) bool) error {
	iter := s.db.NewIterator(util.BytesPrefix(keyPrefix), nil)
	defer iter.Release()
	for iter.Next() {
		id := string(iter.Key()[len(keyPrefix):])
		doc := make([]byte, len(iter.Value()))
		copy(doc, iter.Value())
		if !fn(id, doc) {
			break
		}
	}
	return iter.Error()
}
