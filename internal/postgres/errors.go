package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
	codeInvalidText         = "22P02"
)

func IsForeignKeyViolation(err error) bool { return hasCode(err, codeForeignKeyViolation) }

func IsUniqueViolation(err error) bool { return hasCode(err, codeUniqueViolation) }

// IsInvalidText reports a malformed literal, e.g. a non-uuid string bound to a uuid column.
func IsInvalidText(err error) bool { return hasCode(err, codeInvalidText) }

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
