package store

import (
	"context"
	"fmt"
)

// Supported values for Options.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Driver      string
	DatabaseURL string
	BadgerPath  string
}

// Open constructs the Store named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return NewSQLiteStore(opts.DatabaseURL)
	case DriverBadger:
		return NewBadgerStore(opts.BadgerPath)
	case DriverPostgres:
		return NewPostgresStore(ctx, opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
