// Package store persists verification records: the last code issued to a
// portal client together with the query parameters it arrived with.
package store

import (
	"context"
	"errors"
	"maps"
	"time"
)

const (
	FieldCode     = "code"
	FieldIssuedAt = "issued_at"
)

var ErrNotFound = errors.New("verification record not found")

// Record is an open set of scalar fields. It always carries FieldCode once
// written by the portal.
type Record map[string]string

// NewRecord merges fields with the issued code. The code and issue time win
// over query parameters of the same name.
func NewRecord(fields map[string]string, code string, issuedAt time.Time) Record {
	rec := make(Record, len(fields)+2)
	maps.Copy(rec, fields)
	rec[FieldCode] = code
	rec[FieldIssuedAt] = issuedAt.UTC().Format(time.RFC3339)
	return rec
}

func (r Record) Code() string { return r[FieldCode] }

// Store is a single-key get/put collaborator. Put fully replaces any previous
// record under key.
type Store interface {
	Put(ctx context.Context, key string, rec Record) error
	Get(ctx context.Context, key string) (Record, error)
	Ping(ctx context.Context) error
	Close() error
}
