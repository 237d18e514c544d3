package database

import (
	"context"
	"database/sql"
)

// DatabaseConfig is a subset of the configuration focusing solely
// on database connection items
type DatabaseConfig struct {
	User     string `yaml:"username" env:"DB_USERNAME" validate:"required"`
	Password string `yaml:"password" env:"DB_PASSWORD" validate:"required"`
	Name     string `yaml:"name" env:"DB_NAME" env-default:"ARCHIVIST_DB" validate:"required"`
	Host     string `yaml:"host" env:"DB_HOST" env-default:"0.0.0.0" validate:"required"`
	Port     string `yaml:"port" env:"DB_PORT" env-default:"5432" validate:"required"`
}

// Queryable is the set of sqlx methods shared by *sqlx.DB and *sqlx.Tx, allowing
// stores to run either inside or outside of a transaction.
type Queryable interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}
