package db

import "context"

// Database is the minimal database abstraction used by repositories.
// It allows swapping drivers without touching business logic.
type Database interface {
	Querier

	// Transaction executes fn within a transaction, committing on nil
	// and rolling back on error.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	// BeginTx starts a new transaction.
	BeginTx(ctx context.Context) (Transaction, error)

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error

	// Close closes the underlying connection pool.
	Close() error
}

// Transaction abstracts an in-flight database transaction.
type Transaction interface {
	Querier

	Commit() error
	Rollback() error
}

// Rows abstracts an iterable query result.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Scanner abstracts row scanning shared by Row and Rows.
type Scanner interface {
	Scan(dest ...interface{}) error
}

// Row abstracts a single-row query result.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result abstracts the result of an Exec call.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
