package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// OwnerDirectory implements vehicleimage.OwnerDirectory against the table holding vehicles
type OwnerDirectory struct {
	db    DBTX
	query string
}

// NewOwnerDirectory looks vehicles up by id in table, "vehicles" when empty.
// The table name may be schema qualified.
func NewOwnerDirectory(db DBTX, table string) *OwnerDirectory {
	if table == "" {
		table = "vehicles"
	}
	ident := pgx.Identifier(splitQualified(table)).Sanitize()
	return &OwnerDirectory{
		db:    db,
		query: fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, ident),
	}
}

func (d *OwnerDirectory) OwnerExists(ctx context.Context, ownerID int64) (bool, error) {
	var exists bool
	if err := d.db.QueryRow(ctx, d.query, ownerID).Scan(&exists); err != nil {
		return false, handlePostgresError("owner exists", err)
	}
	return exists, nil
}

func splitQualified(name string) []string {
	if schema, table, ok := strings.Cut(name, "."); ok {
		return []string{schema, table}
	}
	return []string{name}
}
