package seen

import (
	"context"
	"fmt"
)

// Backend kinds accepted by NewBackend.
const (
	KindFile     = "file"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

// NewBackend builds the backend named by kind. path feeds the file backend,
// dsn the SQL ones.
func NewBackend(ctx context.Context, kind, path, dsn string) (Backend, error) {
	switch kind {
	case "", KindFile:
		return NewFileBackend(path), nil
	case KindSQLite:
		b, err := NewSQLiteBackend(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return b, nil
	case KindPostgres:
		b, err := NewPostgresBackend(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown seen store %q", kind)
	}
}
