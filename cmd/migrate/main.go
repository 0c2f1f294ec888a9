package main

import (
	"database/sql"
	"errors"
	"log/slog"
	"os"

	"squarecrop/internal/config"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/pflag"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	flags := pflag.NewFlagSet("migrate", pflag.ExitOnError)
	flags.String("crop_db_dsn", "", "MySQL DSN of the crop ledger")
	flags.String("migrations_path", "migrations", "directory holding the SQL migrations")
	down := flags.Bool("down", false, "roll back every migration instead of applying them")
	flags.SetNormalizeFunc(config.NormalizeFlagName)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fatal("invalid configuration", "err", err)
	}
	if !cfg.LedgerEnabled() {
		fatal("CROP_DB_DSN is required")
	}

	db, err := sql.Open("mysql", cfg.CropDBDSN)
	if err != nil {
		fatal("failed to open crop db", "err", err)
	}
	defer db.Close()

	driver, err := mysql.WithInstance(db, &mysql.Config{})
	if err != nil {
		fatal("failed to create migration driver", "err", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+cfg.MigrationsPath, "mysql", driver)
	if err != nil {
		fatal("failed to create migration", "err", err)
	}

	if *down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fatal("migration failed", "err", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		fatal("failed to read migration version", "err", err)
	}
	slog.Info("migration completed", "version", version, "dirty", dirty)
}

func fatal(msg string, attrs ...any) {
	slog.Error(msg, attrs...)
	os.Exit(1)
}
