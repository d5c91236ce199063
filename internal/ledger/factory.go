package ledger

import (
	"strings"

	"github.com/ecoscout/ecoscout-go/internal/conf"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
)

// Backend names accepted by ledger.backend.
const (
	BackendJSON     = "json"
	BackendSQLite   = "sqlite"
	BackendMySQL    = "mysql"
	BackendPostgres = "postgres"
)

// OpenBackend creates the backend selected in settings.
func OpenBackend(settings *conf.Settings) (Backend, error) {
	cfg := settings.Ledger
	name := strings.ToLower(cfg.Backend)
	GetLogger().Info("opening ledger", logger.String("backend", name))

	var (
		backend Backend
		err     error
	)
	switch name {
	case BackendJSON, "":
		var b *JSONBackend
		if b, err = NewJSONBackend(settings.ResolvePath(cfg.Path)); err == nil {
			backend = b
		}
	case BackendSQLite:
		var b *GormBackend
		if b, err = OpenSQLite(settings.ResolvePath(cfg.SQLite.Path)); err == nil {
			backend = b
		}
	case BackendMySQL:
		var b *GormBackend
		if b, err = OpenMySQL(cfg.MySQL); err == nil {
			backend = b
		}
	case BackendPostgres:
		var b *GormBackend
		if b, err = OpenPostgres(cfg.Postgres); err == nil {
			backend = b
		}
	default:
		err = errors.Newf("unknown ledger backend %q", cfg.Backend).
			Component("ledger").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, err
	}
	return backend, nil
}
