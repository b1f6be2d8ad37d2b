package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratedatabase "github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"github.com/spf13/cobra"
)

const (
	migrateDatabaseURLEnv     = "OPENGUARD_MIGRATE_DATABASE_URL"
	migrateMigrationsTableEnv = "OPENGUARD_MIGRATE_MIGRATIONS_TABLE"

	defaultMigrationsTable = "openguard.schema_migrations"
	defaultMigrationsPath  = "pkg/storage/postgres/migrations"
)

type migrateOptions struct {
	DatabaseURL     string
	MigrationsTable string
	MigrationsPath  string
}

// migrationRun is an open runner plus what it was opened against.
type migrationRun struct {
	runner    *migrate.Migrate
	sourceURL string
	table     migrationsTable
}

func init() {
	rootCmd.AddCommand(newMigrateCommand())
}

func newMigrateCommand() *cobra.Command {
	var opts migrateOptions

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres identity schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := migrateCmd.PersistentFlags()
	flags.StringVar(&opts.DatabaseURL, "database-url", "", "Database connection URL. Falls back to "+migrateDatabaseURLEnv+", then storage.postgres.dsn.")
	flags.StringVar(&opts.MigrationsTable, "migrations-table", "", "Version table as table or schema.table. Falls back to "+migrateMigrationsTableEnv+", then "+defaultMigrationsTable+".")
	flags.StringVar(&opts.MigrationsPath, "migrations-path", defaultMigrationsPath, "Directory or source URL holding the migration files.")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up [steps]",
		Short: "Apply pending migrations, or only the given number of steps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, limited, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}

			return withMigrationRun(cmd, opts, func(run migrationRun) error {
				if !limited {
					err := run.runner.Up()
					if isNoChangeBoundaryError(err) {
						cmd.Println("No schema changes to apply.")
						return nil
					}
					if err != nil {
						return fmt.Errorf("apply migrations: %w", err)
					}
					cmd.Printf("Applied all pending migrations from %s\n", run.sourceURL)
					return nil
				}

				applied, err := stepsCompleted(steps, run.runner.Steps(steps))
				if err != nil {
					return fmt.Errorf("apply migrations: %w", err)
				}
				reportSteps(cmd, "Applied", "apply", applied, steps, run.sourceURL)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back the given number of migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}

			return withMigrationRun(cmd, opts, func(run migrationRun) error {
				err := run.runner.Steps(-steps)
				if isDroppedMigrationsTableError(err, run.table) {
					cmd.Printf("Rolled back %d migration step(s) from %s\n", steps, run.sourceURL)
					cmd.Println("The version table was dropped with the schema and is recreated on the next run.")
					return nil
				}

				rolledBack, err := stepsCompleted(steps, err)
				if err != nil {
					return fmt.Errorf("rollback migrations: %w", err)
				}
				reportSteps(cmd, "Rolled back", "rollback", rolledBack, steps, run.sourceURL)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationRun(cmd, opts, func(run migrationRun) error {
				version, dirty, err := run.runner.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					cmd.Println("No migrations applied.")
					return nil
				}
				if err != nil {
					return fmt.Errorf("read schema version: %w", err)
				}
				if dirty {
					cmd.Printf("%d (dirty)\n", version)
					return nil
				}
				cmd.Printf("%d\n", version)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force the recorded schema version (-1 clears it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersionArg(args[0])
			if err != nil {
				return err
			}

			return withMigrationRun(cmd, opts, func(run migrationRun) error {
				if err := run.runner.Force(version); err != nil {
					return fmt.Errorf("force schema version: %w", err)
				}
				if version == -1 {
					cmd.Println("Cleared the recorded schema version.")
					return nil
				}
				cmd.Printf("Forced schema version to %d.\n", version)
				return nil
			})
		},
	})

	return migrateCmd
}

func withMigrationRun(cmd *cobra.Command, opts migrateOptions, fn func(migrationRun) error) error {
	databaseURL, err := resolveDatabaseURL(opts.DatabaseURL)
	if err != nil {
		return err
	}

	run, err := openMigrationRun(databaseURL, opts)
	if err != nil {
		return err
	}
	defer func() {
		sourceErr, databaseErr := run.runner.Close()
		if closeErr := errors.Join(sourceErr, databaseErr); closeErr != nil {
			cmd.PrintErrf("warning: failed to close migration runner cleanly: %v\n", closeErr)
		}
	}()

	return fn(run)
}

// resolveDatabaseURL prefers the flag, then the migrate-specific variable,
// then the storage DSN from the regular configuration layers.
func resolveDatabaseURL(flagValue string) (string, error) {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value, nil
	}
	if value := strings.TrimSpace(os.Getenv(migrateDatabaseURLEnv)); value != "" {
		return value, nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return "", err
	}
	if dsn := strings.TrimSpace(cfg.Storage.Postgres.DSN); dsn != "" {
		return dsn, nil
	}
	return "", errors.New("missing database URL: set --database-url, " + migrateDatabaseURLEnv + " or storage.postgres.dsn")
}

func resolveMigrationsTable(flagValue string) (migrationsTable, error) {
	value := strings.TrimSpace(flagValue)
	if value == "" {
		value = strings.TrimSpace(os.Getenv(migrateMigrationsTableEnv))
	}
	if value == "" {
		value = defaultMigrationsTable
	}
	return parseMigrationsTable(value)
}

func openMigrationRun(databaseURL string, opts migrateOptions) (migrationRun, error) {
	table, err := resolveMigrationsTable(opts.MigrationsTable)
	if err != nil {
		return migrationRun{}, err
	}
	if err := ensureSchema(databaseURL, table); err != nil {
		return migrationRun{}, err
	}
	databaseURL, err = withMigrationsTable(databaseURL, table)
	if err != nil {
		return migrationRun{}, err
	}
	sourceURL, err := migrationsSourceURL(opts.MigrationsPath)
	if err != nil {
		return migrationRun{}, err
	}

	runner, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return migrationRun{}, fmt.Errorf("create migrate runner: %w", err)
	}
	return migrationRun{runner: runner, sourceURL: sourceURL, table: table}, nil
}

func parseMigrationStepsArg(args []string) (int, bool, error) {
	if len(args) == 0 {
		return 0, false, nil
	}
	steps, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || steps <= 0 {
		return 0, false, fmt.Errorf("invalid migration steps %q: expected a positive integer", args[0])
	}
	return steps, true, nil
}

func parseForceVersionArg(arg string) (int, error) {
	version, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || version < -1 {
		return 0, fmt.Errorf("invalid force version %q: expected an integer >= -1", arg)
	}
	return version, nil
}

// stepsCompleted converts the result of runner.Steps into the number of steps
// that actually ran. Hitting the first or last migration is not an error.
func stepsCompleted(requested int, err error) (int, error) {
	if err == nil {
		return requested, nil
	}
	if isNoChangeBoundaryError(err) {
		return 0, nil
	}
	var shortLimit migrate.ErrShortLimit
	if errors.As(err, &shortLimit) {
		return max(requested-int(shortLimit.Short), 0), nil
	}
	return 0, err
}

func reportSteps(cmd *cobra.Command, verb string, noun string, completed int, requested int, sourceURL string) {
	switch {
	case completed == 0:
		cmd.Printf("No schema changes to %s.\n", noun)
	case completed < requested:
		cmd.Printf("%s %d migration step(s) from %s (requested %d, reached migration boundary)\n", verb, completed, sourceURL, requested)
	default:
		cmd.Printf("%s %d migration step(s) from %s\n", verb, completed, sourceURL)
	}
}

type migrationsTable struct {
	Schema string
	Table  string
}

// quoted renders the table the way postgres error messages and statements
// reference it.
func (t migrationsTable) quoted() string {
	if t.Schema == "" {
		return pq.QuoteIdentifier(t.Table)
	}
	return pq.QuoteIdentifier(t.Schema) + "." + pq.QuoteIdentifier(t.Table)
}

var quotedIdentifierRegexp = regexp.MustCompile(`"(.*?)"`)

func parseMigrationsTable(value string) (migrationsTable, error) {
	raw := strings.TrimSpace(value)
	invalid := fmt.Errorf("invalid migrations table %q: expected table or schema.table", value)

	var parts []string
	if strings.Contains(raw, `"`) {
		for _, match := range quotedIdentifierRegexp.FindAllStringSubmatch(raw, -1) {
			parts = append(parts, match[1])
		}
	} else {
		parts = strings.Split(raw, ".")
	}

	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return migrationsTable{}, invalid
		}
	}

	switch len(parts) {
	case 1:
		return migrationsTable{Table: parts[0]}, nil
	case 2:
		return migrationsTable{Schema: parts[0], Table: parts[1]}, nil
	default:
		return migrationsTable{}, invalid
	}
}

// withMigrationsTable points golang-migrate at the configured version table
// unless the URL already names one.
func withMigrationsTable(databaseURL string, table migrationsTable) (string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}

	query := parsed.Query()
	if strings.TrimSpace(query.Get("x-migrations-table")) != "" {
		return databaseURL, nil
	}
	if table.Schema == "" {
		query.Set("x-migrations-table", table.Table)
	} else {
		query.Set("x-migrations-table", table.quoted())
		query.Set("x-migrations-table-quoted", "true")
	}

	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// ensureSchema creates the version table's schema; golang-migrate only
// creates the table itself.
func ensureSchema(databaseURL string, table migrationsTable) error {
	if table.Schema == "" {
		return nil
	}

	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}

	db, err := sql.Open("postgres", migrate.FilterCustomQuery(parsed).String())
	if err != nil {
		return fmt.Errorf("open database for schema bootstrap: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(table.Schema)); err != nil {
		return fmt.Errorf("ensure schema %q exists: %w", table.Schema, err)
	}
	return nil
}

func migrationsSourceURL(pathOrURL string) (string, error) {
	pathOrURL = strings.TrimSpace(pathOrURL)
	if pathOrURL == "" {
		pathOrURL = defaultMigrationsPath
	}
	if strings.Contains(pathOrURL, "://") {
		return pathOrURL, nil
	}

	absPath, err := filepath.Abs(pathOrURL)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path %q: %w", pathOrURL, err)
	}
	return "file://" + filepath.ToSlash(absPath), nil
}

func isNoChangeBoundaryError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return true
	}
	// Steps returns a bare os.ErrNotExist at the first or last migration.
	return err == os.ErrNotExist
}

// isDroppedMigrationsTableError reports whether a rollback removed the schema
// holding the version table, which makes the final TRUNCATE fail.
func isDroppedMigrationsTableError(err error, table migrationsTable) bool {
	var dbErr *migratedatabase.Error
	if !errors.As(err, &dbErr) || dbErr == nil {
		return false
	}

	query := strings.TrimSpace(string(dbErr.Query))
	if !strings.HasPrefix(strings.ToUpper(query), "TRUNCATE ") || !strings.Contains(query, table.quoted()) {
		return false
	}

	var pqErr *pq.Error
	if errors.As(dbErr.OrigErr, &pqErr) && string(pqErr.Code) == "3F000" {
		return true
	}

	message := strings.ToLower(dbErr.Error())
	return strings.Contains(message, "schema") && strings.Contains(message, "does not exist")
}
