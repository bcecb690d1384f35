// Package errors classifies failures as transient or permanent and provides
// bounded exponential-backoff retry on top of that classification. It also
// re-exports the stdlib helpers so callers need a single import.
package errors

import "errors"

func New(text string) error { return errors.New(text) }

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Unwrap(err error) error { return errors.Unwrap(err) }
