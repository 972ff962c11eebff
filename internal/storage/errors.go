package storage

import "errors"

// Storage errors shared by every backend.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose key already exists.
	// The escrow registry is insert-if-absent; events are append-only.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStateConflict is returned by a conditional state update whose expected
	// current state does not match the stored one.
	ErrStateConflict = errors.New("state conflict")

	// ErrInsufficientBalance is returned when a transfer batch would debit
	// more than an owner holds. No transfer of the batch is applied.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOverflow is returned when a credit would exceed the balance range.
	ErrOverflow = errors.New("balance overflow")
)
