package dbsp

import (
	"fmt"
	"sort"
	"strings"
)

// ZSetError is returned by Z-set operations.
type ZSetError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ZSetError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *ZSetError) Unwrap() error { return e.Cause }

func newZSetError(message string, cause error) error {
	return &ZSetError{Message: message, Cause: cause}
}

// DocumentZSet implements Z-sets for atomic documents: a map from records to integer
// multiplicities. Records with zero multiplicity are never stored.
type DocumentZSet struct {
	docs   map[string]Document // canonical key -> document
	counts map[string]int      // canonical key -> multiplicity
}

// DocumentEntry represents a document with its multiplicity in a Z-set.
type DocumentEntry struct {
	Key          string
	Document     Document
	Multiplicity int
}

// NewDocumentZSet creates an empty DocumentZSet.
func NewDocumentZSet() *DocumentZSet {
	return &DocumentZSet{
		docs:   make(map[string]Document),
		counts: make(map[string]int),
	}
}

// SingletonZSet creates a Z-set containing a single document with multiplicity 1.
func SingletonZSet(doc Document) (*DocumentZSet, error) {
	zset := NewDocumentZSet()
	if err := zset.AddDocumentMutate(doc, 1); err != nil {
		return nil, err
	}
	return zset, nil
}

// FromDocuments creates a Z-set from a slice of documents (each with multiplicity 1).
func FromDocuments(docs []Document) (*DocumentZSet, error) {
	ret := NewDocumentZSet()
	for i, doc := range docs {
		if err := ret.AddDocumentMutate(doc, 1); err != nil {
			return nil, newZSetError(fmt.Sprintf("failed to add document at index %d", i), err)
		}
	}
	return ret, nil
}

// AddDocumentMutate adds a document with the given multiplicity in place.
func (dz *DocumentZSet) AddDocumentMutate(doc Document, count int) error {
	if count == 0 {
		return nil
	}
	key, err := Key(doc)
	if err != nil {
		return err
	}
	dz.addKeyed(key, doc, count)
	return nil
}

func (dz *DocumentZSet) addKeyed(key string, doc Document, count int) {
	if count == 0 {
		return
	}
	n := dz.counts[key] + count
	if n == 0 {
		delete(dz.counts, key)
		delete(dz.docs, key)
		return
	}
	if _, ok := dz.docs[key]; !ok {
		dz.docs[key] = doc
	}
	dz.counts[key] = n
}

// Add performs Z-set addition.
func (dz *DocumentZSet) Add(other *DocumentZSet) *DocumentZSet {
	ret := dz.ShallowCopy()
	ret.AddMutate(other)
	return ret
}

// AddMutate adds another Z-set in place.
func (dz *DocumentZSet) AddMutate(other *DocumentZSet) {
	if other == nil {
		return
	}
	for key, count := range other.counts {
		dz.addKeyed(key, other.docs[key], count)
	}
}

// Subtract performs Z-set subtraction.
func (dz *DocumentZSet) Subtract(other *DocumentZSet) *DocumentZSet {
	ret := dz.ShallowCopy()
	if other == nil {
		return ret
	}
	for key, count := range other.counts {
		ret.addKeyed(key, other.docs[key], -count)
	}
	return ret
}

// Distinct converts the Z-set to set semantics: positive multiplicities become 1, the rest is
// dropped.
func (dz *DocumentZSet) Distinct() *DocumentZSet {
	ret := NewDocumentZSet()
	for key, count := range dz.counts {
		if count > 0 {
			ret.addKeyed(key, dz.docs[key], 1)
		}
	}
	return ret
}

// ShallowCopy copies the maps of the Z-set but shares the documents.
func (dz *DocumentZSet) ShallowCopy() *DocumentZSet {
	ret := &DocumentZSet{
		docs:   make(map[string]Document, len(dz.docs)),
		counts: make(map[string]int, len(dz.counts)),
	}
	for key, doc := range dz.docs {
		ret.docs[key] = doc
		ret.counts[key] = dz.counts[key]
	}
	return ret
}

// List returns all entries (including negative ones) ordered by canonical key.
func (dz *DocumentZSet) List() []DocumentEntry {
	ret := make([]DocumentEntry, 0, len(dz.counts))
	for _, key := range dz.Keys() {
		ret = append(ret, DocumentEntry{
			Key:          key,
			Document:     DeepCopyDocument(dz.docs[key]),
			Multiplicity: dz.counts[key],
		})
	}
	return ret
}

// Keys returns the canonical keys of the stored documents in sorted order.
func (dz *DocumentZSet) Keys() []string {
	keys := make([]string, 0, len(dz.counts))
	for key := range dz.counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// GetUniqueDocuments returns all documents with positive multiplicity, ignoring multiplicities.
func (dz *DocumentZSet) GetUniqueDocuments() []Document {
	ret := []Document{}
	for _, key := range dz.Keys() {
		if dz.counts[key] > 0 {
			ret = append(ret, DeepCopyDocument(dz.docs[key]))
		}
	}
	return ret
}

// IsZero checks if the Z-set is empty.
func (dz *DocumentZSet) IsZero() bool {
	return len(dz.counts) == 0
}

// Size returns the number of documents counting only positive multiplicities.
func (dz *DocumentZSet) Size() int {
	total := 0
	for _, count := range dz.counts {
		if count > 0 {
			total += count
		}
	}
	return total
}

// UniqueCount returns number of documents with positive multiplicity.
func (dz *DocumentZSet) UniqueCount() int {
	n := 0
	for _, count := range dz.counts {
		if count > 0 {
			n++
		}
	}
	return n
}

// HasNegative reports whether any multiplicity is negative.
func (dz *DocumentZSet) HasNegative() bool {
	for _, count := range dz.counts {
		if count < 0 {
			return true
		}
	}
	return false
}

// GetMultiplicity returns the multiplicity of a specific document.
func (dz *DocumentZSet) GetMultiplicity(doc Document) (int, error) {
	key, err := Key(doc)
	if err != nil {
		return 0, newZSetError("failed to compute document key", err)
	}
	return dz.counts[key], nil
}

// MultiplicityOfKey returns the multiplicity of a document given by its canonical key.
func (dz *DocumentZSet) MultiplicityOfKey(key string) int {
	return dz.counts[key]
}

// Contains checks if a document exists in the Z-set with positive multiplicity.
func (dz *DocumentZSet) Contains(doc Document) (bool, error) {
	n, err := dz.GetMultiplicity(doc)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ContainsKey checks if the document with the given canonical key has positive multiplicity.
func (dz *DocumentZSet) ContainsKey(key string) bool {
	return dz.counts[key] > 0
}

// String returns a string representation of the Z-set for debugging.
func (dz *DocumentZSet) String() string {
	if dz.IsZero() {
		return "∅"
	}
	parts := make([]string, 0, len(dz.counts))
	for _, key := range dz.Keys() {
		parts = append(parts, fmt.Sprintf("%s×%d", key, dz.counts[key]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
