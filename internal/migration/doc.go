// Package migration manages the database schema with golang-migrate.
// Migration files are embedded per dialect (postgres, mysql, sqlite)
// and applied through the migrate subcommand or at startup.
package migration
