package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/alert-console/internal/audit"
	"github.com/kiwari-pos/alert-console/internal/auth"
	"github.com/kiwari-pos/alert-console/internal/enum"
	log "github.com/sirupsen/logrus"
)

func main() {
	// CLI flags
	name := flag.String("name", "", "Operator name")
	role := flag.String("role", "", "Operator role (ADMIN or STAFF)")
	password := flag.String("password", "", "Operator password")
	flag.Parse()

	// Fall back to environment variables
	if *name == "" {
		*name = os.Getenv("SEED_NAME")
	}
	if *role == "" {
		*role = os.Getenv("SEED_ROLE")
	}
	if *password == "" {
		*password = os.Getenv("SEED_PASSWORD")
	}

	// Fall back to defaults
	if *name == "" {
		*name = "admin"
	}
	if *role == "" {
		*role = enum.RoleAdmin
	}
	if *password == "" {
		*password = "password123"
		log.Warn("Using default password 'password123'. Change immediately in production!")
	}

	entry, err := operatorEntry(*name, *role, *password)
	if err != nil {
		log.WithError(err).Fatal("Failed to build operator entry")
	}

	// Prepare the audit table when a database is configured
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		ctx := context.Background()
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			log.WithError(err).Fatal("Unable to connect to database")
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.WithError(err).Fatal("Unable to ping database")
		}
		if err := audit.EnsureSchema(ctx, pool); err != nil {
			log.WithError(err).Fatal("Failed to create audit schema")
		}
		log.Info("Audit schema ready")
	}

	log.Info("Seed completed successfully. Add this entry to OPERATORS:")
	fmt.Println(entry)
}

// operatorEntry renders a "name:role:bcrypt-hash" entry that ParseOperators accepts.
func operatorEntry(name, role, password string) (string, error) {
	role = strings.ToUpper(role)
	if strings.ContainsAny(name, ":,") {
		return "", fmt.Errorf("operator name %q must not contain ':' or ','", name)
	}
	if role != enum.RoleAdmin && role != enum.RoleStaff {
		return "", fmt.Errorf("invalid role %q", role)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", err
	}
	return name + ":" + role + ":" + hash, nil
}
