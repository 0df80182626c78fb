package main

import (
	"context"
	"os"
	"time"

	"starterkit/internal/config"
	"starterkit/internal/db"
	"starterkit/internal/logging"
	"starterkit/internal/repository"
	"starterkit/internal/service"
)

// Creates the administrator account from ADMIN_NAME, ADMIN_EMAIL and
// ADMIN_PASSWORD, or promotes an existing account with that email.
// Roles are never assignable through the API, so this is the only way in.
func main() {
	cfg := config.Load()
	log := logging.New(os.Stdout, cfg.LogLevel)

	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		log.Error("ADMIN_EMAIL and ADMIN_PASSWORD must be set")
		os.Exit(1)
	}

	gormDB, err := db.NewMySQL(cfg.MySQLDSN)
	if err != nil {
		log.Error("connect to database", "err", err)
		os.Exit(1)
	}
	log.Info("connected to database")

	if err := db.Migrate(gormDB, false); err != nil {
		log.Error("run migrations", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users := service.NewUserService(repository.NewUserRepository(gormDB), nil, log)
	admin, created, err := users.EnsureAdmin(ctx, cfg.AdminName, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		log.Error("seed admin", "err", err)
		os.Exit(1)
	}

	if created {
		log.Info("admin account created", "id", admin.ID.String(), "email", admin.Email)
	} else {
		log.Info("existing account promoted to admin", "id", admin.ID.String(), "email", admin.Email)
	}
}
