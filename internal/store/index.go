// Package store provides the durable source-URL cache ("brain") and its in-memory key index.
package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"nexstream/internal/core"
)

// KeyIndex answers "is this source URL definitely not stored?" without touching the backend, and
// keeps recently read records in memory.
type KeyIndex struct {
	bloom        *bloom.BloomFilter
	hot          *lru.Cache[string, core.CacheRecord]
	keys         map[string]struct{}
	mutex        sync.RWMutex
	expectedKeys int
	fpRate       float64
}

// NewKeyIndex creates an index sized for expectedKeys with the given bloom false positive rate.
// hotSize bounds the number of records kept in memory.
func NewKeyIndex(expectedKeys, hotSize int, fpRate float64) *KeyIndex {
	if expectedKeys < 1 || expectedKeys > int(^uint(0)>>1) {
		panic("expectedKeys value out of range for uint conversion")
	}
	if hotSize < 1 {
		hotSize = 1
	}
	hot, _ := lru.New[string, core.CacheRecord](hotSize)

	return &KeyIndex{
		bloom:        bloom.NewWithEstimates(uint(expectedKeys), fpRate),
		hot:          hot,
		keys:         make(map[string]struct{}),
		expectedKeys: expectedKeys,
		fpRate:       fpRate,
	}
}

// MayContain reports whether key might be stored. A false result is certain.
func (ki *KeyIndex) MayContain(key string) bool {
	ki.mutex.RLock()
	defer ki.mutex.RUnlock()
	return ki.bloom.TestString(key)
}

// Add marks key as stored.
func (ki *KeyIndex) Add(key string) {
	ki.mutex.Lock()
	defer ki.mutex.Unlock()
	ki.add(key)
}

// Remember marks the record's key as stored and caches the record.
func (ki *KeyIndex) Remember(record *core.CacheRecord) {
	if record == nil || record.SourceURL == "" {
		return
	}
	ki.mutex.Lock()
	defer ki.mutex.Unlock()
	ki.add(record.SourceURL)
	ki.hot.Add(record.SourceURL, *record)
}

// Lookup returns a copy of a cached record.
func (ki *KeyIndex) Lookup(key string) (*core.CacheRecord, bool) {
	record, ok := ki.hot.Get(key)
	if !ok {
		return nil, false
	}
	return &record, true
}

// Load clears the index and marks every non-empty key as stored.
func (ki *KeyIndex) Load(keys []string) {
	ki.mutex.Lock()
	defer ki.mutex.Unlock()

	ki.clear()
	for _, key := range keys {
		if key != "" {
			ki.add(key)
		}
	}
}

// Size returns the number of keys marked as stored.
func (ki *KeyIndex) Size() int {
	ki.mutex.RLock()
	defer ki.mutex.RUnlock()
	return len(ki.keys)
}

// Clear forgets every key and cached record.
func (ki *KeyIndex) Clear() {
	ki.mutex.Lock()
	defer ki.mutex.Unlock()
	ki.clear()
}

func (ki *KeyIndex) add(key string) {
	if _, exists := ki.keys[key]; exists {
		return
	}
	ki.keys[key] = struct{}{}
	ki.bloom.AddString(key)
}

func (ki *KeyIndex) clear() {
	ki.keys = make(map[string]struct{})
	ki.bloom = bloom.NewWithEstimates(uint(ki.expectedKeys), ki.fpRate)
	ki.hot.Purge()
}
