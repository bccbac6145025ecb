package repo

import "errors"

// Ошибки хранилищ runs и истории.
var (
	// ErrNotFound — run не найден.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — run с таким ID уже создан.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — проекция run не может быть изменена в текущем состоянии.
	ErrInvalidState = errors.New("invalid state")
)
