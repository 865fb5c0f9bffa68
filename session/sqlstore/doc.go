// Package sqlstore implements session.Repository on database/sql.
//
// Two dialects are supported: "sqlite" (modernc.org/sqlite, pure Go) and "postgres"
// (jackc/pgx/v5/stdlib). Both drivers are registered by importing this package.
// Sessions live in one table, onboard_sessions, keyed by entity id; the context
// column holds the ordered JSON object produced by session.Context.
package sqlstore
