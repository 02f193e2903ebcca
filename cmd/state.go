package cmd

import (
	"fmt"
	"io"

	"github.com/nextlevelbuilder/zalouser/internal/bindings"
	"github.com/nextlevelbuilder/zalouser/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// bindingState is the binding store wired to the configured backend.
type bindingState struct {
	store     *bindings.Store
	persister bindings.Persister
	file      *bindings.FilePersister // nil for the sqlite backend
	closer    io.Closer
}

func openBindingState(cfg *config.Config, opts ...bindings.Option) (*bindingState, error) {
	st := &bindingState{closer: nopCloser{}}
	switch cfg.State.Backend {
	case "sqlite":
		db, err := bindings.OpenSQLite(cfg.StatePath(bindings.DefaultDBName))
		if err != nil {
			return nil, fmt.Errorf("open binding database: %w", err)
		}
		st.persister = db
		st.closer = db
	default:
		st.file = bindings.NewFilePersister(cfg.StatePath(bindings.DefaultFileName))
		st.persister = st.file
	}
	st.store = bindings.NewStore(append(opts, bindings.WithPersister(st.persister))...)
	return st, nil
}

func (s *bindingState) location(cfg *config.Config) string {
	if s.file != nil {
		return s.file.Path()
	}
	return cfg.StatePath(bindings.DefaultDBName)
}
