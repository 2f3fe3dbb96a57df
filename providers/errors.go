package providers

import "errors"

var (
	// ErrDatabaseIsNotReadyYet returns if you are trying to access
	// an offline provider but it haven't opened a database yet.
	ErrDatabaseIsNotReadyYet = errors.New("database is not initialized yet")

	// ErrUnexpectedDatabaseType is returned if a database file is not
	// the one provider expects. For example, ASN database is given
	// instead of City.
	ErrUnexpectedDatabaseType = errors.New("unexpected database type")

	// ErrNoProviders is returned if chain is created without any
	// provider.
	ErrNoProviders = errors.New("no providers are given")
)
