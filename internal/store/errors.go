package store

import "github.com/pypeaday/soonish/internal/modkit"

func notFound(what string) error {
	return modkit.NewError(modkit.KindNotFound, what+" not found")
}

func conflict(what string) error {
	return modkit.NewError(modkit.KindConflict, what)
}
