package datastore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Max lengths of the important key parts. Collection, id and field together
// fit in 255 characters: collection 32 + id 16 + field 207.
const (
	MaxCollectionLength      = 32
	MaxFqidLength            = 48
	MaxCollectionFieldLength = 239
)

// Fqid is a validated fully-qualified model identifier of the form "collection/id".
type Fqid string

// NewFqid validates raw input and returns an Fqid.
func NewFqid(rawInput string) (Fqid, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: fqid is empty", ErrInvalidFormat)
	}
	if len(trimmed) > MaxFqidLength {
		return "", fmt.Errorf("%w: fqid %s is too long (max: %d)", ErrInvalidFormat, trimmed, MaxFqidLength)
	}
	collection, rawID, found := strings.Cut(trimmed, "/")
	if !found {
		return "", fmt.Errorf("%w: fqid %s is missing a collection separator", ErrInvalidFormat, trimmed)
	}
	if _, err := NewCollection(collection); err != nil {
		return "", err
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return "", fmt.Errorf("%w: fqid %s has an invalid id part", ErrInvalidFormat, trimmed)
	}
	return Fqid(trimmed), nil
}

// String returns the underlying string identifier.
func (f Fqid) String() string {
	return string(f)
}

// Collection returns the collection part of the fqid.
func (f Fqid) Collection() Collection {
	collection, _, _ := strings.Cut(string(f), "/")
	return Collection(collection)
}

// ID returns the numeric id part of the fqid.
func (f Fqid) ID() int64 {
	_, rawID, _ := strings.Cut(string(f), "/")
	id, _ := strconv.ParseInt(rawID, 10, 64)
	return id
}

// Collection is a validated collection name.
type Collection string

// collectionPattern keeps collection names to lowercase letters with inner
// underscores. Collection names reach SQL LIKE patterns, so metacharacters
// must never validate.
var collectionPattern = regexp.MustCompile(`^[a-z]([a-z_]*[a-z])?$`)

// NewCollection validates raw input and returns a Collection.
func NewCollection(rawInput string) (Collection, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" || len(trimmed) > MaxCollectionLength {
		return "", fmt.Errorf("%w: collection length must be between 1 and %d", ErrInvalidFormat, MaxCollectionLength)
	}
	if !collectionPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: collection %s contains invalid characters", ErrInvalidFormat, trimmed)
	}
	return Collection(trimmed), nil
}

// String returns the underlying string identifier.
func (c Collection) String() string {
	return string(c)
}

// FqidFromCollectionAndID joins a collection and id into an fqid string.
func FqidFromCollectionAndID(collection Collection, id int64) Fqid {
	return Fqid(fmt.Sprintf("%s/%d", collection, id))
}

// CollectionFieldKey indexes the last position at which a specific field of a
// specific model changed. Its string form is "fqid/field".
type CollectionFieldKey string

// NewCollectionFieldKey joins an fqid and field and validates the result.
func NewCollectionFieldKey(fqid Fqid, field string) (CollectionFieldKey, error) {
	joined := fmt.Sprintf("%s/%s", fqid, field)
	if len(joined) > MaxCollectionFieldLength {
		return "", fmt.Errorf("%w: collection field %s is too long (max: %d)", ErrInvalidFormat, joined, MaxCollectionFieldLength)
	}
	return CollectionFieldKey(joined), nil
}

// String returns the underlying string key.
func (k CollectionFieldKey) String() string {
	return string(k)
}
