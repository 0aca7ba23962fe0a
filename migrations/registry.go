package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	integrations "github.com/goliatone/go-integrations"
	persistence "github.com/goliatone/go-persistence-bun"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	DefaultSourceLabel = "go-integrations"

	rootPath = "data/sql/migrations"
)

// Source is the migration tree for one dialect. Versions lists the
// migration names (without the .up.sql/.down.sql suffix) in apply order.
type Source struct {
	Dialect  string
	Path     string
	FS       fs.FS
	Versions []string
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type options struct {
	label    string
	dialects []string
	root     fs.FS
}

type Option func(*options)

func WithSourceLabel(label string) Option {
	return func(o *options) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			o.label = trimmed
		}
	}
}

// WithDialects limits registration to the given dialects.
func WithDialects(dialects ...string) Option {
	return func(o *options) {
		var next []string
		for _, dialect := range dialects {
			dialect = normalizeDialect(dialect)
			if dialect != "" && !slices.Contains(next, dialect) {
				next = append(next, dialect)
			}
		}
		if len(next) > 0 {
			o.dialects = next
		}
	}
}

// WithRoot replaces the embedded migrations, mainly for tests.
func WithRoot(root fs.FS) Option {
	return func(o *options) {
		if root != nil {
			o.root = root
		}
	}
}

// Sources loads the postgres and sqlite trees from root (the embedded
// migrations when nil). Every up migration needs a down migration and both
// dialects must carry the same versions.
func Sources(root fs.FS) ([]Source, error) {
	if root == nil {
		root = integrations.GetMigrationsFS()
	}
	postgresFS, err := fs.Sub(root, rootPath)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", rootPath, err)
	}
	sqlitePath := path.Join(rootPath, DialectSQLite)
	sqliteFS, err := fs.Sub(root, sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", sqlitePath, err)
	}

	sources := []Source{
		{Dialect: DialectPostgres, Path: rootPath, FS: postgresFS},
		{Dialect: DialectSQLite, Path: sqlitePath, FS: sqliteFS},
	}
	for i := range sources {
		versions, err := scanVersions(sources[i].FS)
		if err != nil {
			return nil, fmt.Errorf("migrations: %s: %w", sources[i].Path, err)
		}
		sources[i].Versions = versions
	}
	if !slices.Equal(sources[0].Versions, sources[1].Versions) {
		return nil, fmt.Errorf("migrations: dialect versions differ: postgres=%v sqlite=%v",
			sources[0].Versions, sources[1].Versions)
	}
	return sources, nil
}

// Register hands each selected dialect tree to registerFn and returns the
// sources that were registered.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) ([]Source, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	cfg := options{
		label:    DefaultSourceLabel,
		dialects: []string{DialectPostgres, DialectSQLite},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	sources, err := Sources(cfg.root)
	if err != nil {
		return nil, err
	}

	registered := make([]Source, 0, len(cfg.dialects))
	for _, source := range sources {
		if !slices.Contains(cfg.dialects, source.Dialect) {
			continue
		}
		if err := registerFn(ctx, source.Dialect, cfg.label, source.FS); err != nil {
			return registered, fmt.Errorf("migrations: register %s: %w", source.Dialect, err)
		}
		registered = append(registered, source)
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("migrations: no migrations for dialects %v", cfg.dialects)
	}
	return registered, nil
}

// RegisterClient loads the migrations of one dialect into a
// go-persistence-bun client. Call client.Migrate afterwards to apply them.
func RegisterClient(ctx context.Context, client *persistence.Client, dialect string, opts ...Option) error {
	if client == nil {
		return fmt.Errorf("migrations: persistence client is required")
	}
	dialect = normalizeDialect(dialect)
	opts = append(opts, WithDialects(dialect))
	_, err := Register(ctx, func(_ context.Context, _ string, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, opts...)
	return err
}

func scanVersions(fsys fs.FS) ([]string, error) {
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("no *.up.sql files")
	}
	downs, err := fs.Glob(fsys, "*.down.sql")
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(ups))
	for _, name := range ups {
		version := strings.TrimSuffix(name, ".up.sql")
		if !slices.Contains(downs, version+".down.sql") {
			return nil, fmt.Errorf("%s has no down migration", name)
		}
		versions = append(versions, version)
	}
	if len(downs) != len(ups) {
		return nil, fmt.Errorf("found %d down migrations for %d up migrations", len(downs), len(ups))
	}
	slices.Sort(versions)
	return versions, nil
}

func normalizeDialect(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "sqlite3" {
		return DialectSQLite
	}
	if value == "postgresql" || value == "pgx" {
		return DialectPostgres
	}
	return value
}
