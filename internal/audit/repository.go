package audit

import (
	"context"
	"database/sql"
)

// NOTE: This repository assumes the following table exists:
//
//   CREATE TABLE audit_events (
//     id         uuid PRIMARY KEY,
//     type       text NOT NULL,
//     subject    text,
//     tenant_id  text,
//     kind       text,
//     detail     text,
//     created_at timestamptz NOT NULL
//   );
//
// Grant INSERT only to the application role. No UPDATE or DELETE.

type sqlRepo struct {
	db *sql.DB
}

// NewSQLRepo returns a Postgres-backed append-only repository (pgx stdlib
// driver).
func NewSQLRepo(db *sql.DB) Repository {
	return &sqlRepo{db: db}
}

func (r *sqlRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, subject, tenant_id, kind, detail, created_at)
VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),$7)
`
	_, err := r.db.ExecContext(ctx, q, e.ID, string(e.Type), e.Subject, e.TenantID, e.Kind, e.Detail, e.CreatedAt)
	return err
}
