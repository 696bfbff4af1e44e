package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/vehicle-images/pkg/vehicleimage"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// DB is a DBTX that can open transactions, such as *pgxpool.Pool or *pgx.Conn
type DB interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository implements vehicleimage.Repository using PostgreSQL
type Repository struct {
	db DB
}

var _ vehicleimage.Repository = (*Repository)(nil)

// New creates a new PostgreSQL repository
func New(db DB) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

const imageColumns = `id, vehicle_id, bucket, key, file_name, content_type, size_bytes, is_primary, created_at`

const displayOrder = `ORDER BY is_primary DESC, created_at ASC, id ASC`

// Error handling helper
func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			switch pgErr.ConstraintName {
			case "vehicle_images_vehicle_file_name_key":
				return vehicleimage.ErrDuplicateFileName
			case "vehicle_images_key_key":
				return vehicleimage.ErrDuplicateKey
			case "vehicle_images_one_primary_idx":
				return fmt.Errorf("%w: concurrent primary update", vehicleimage.ErrPrimaryInvariant)
			}
			return fmt.Errorf("duplicate entry: %s", pgErr.ConstraintName)
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

func scanImage(row pgx.Row) (*vehicleimage.ImageAsset, error) {
	var img vehicleimage.ImageAsset
	err := row.Scan(&img.ID, &img.OwnerID, &img.Bucket, &img.Key, &img.FileName,
		&img.ContentType, &img.Size, &img.IsPrimary, &img.CreatedAt)
	if err != nil {
		return nil, err
	}
	img.CreatedAt = img.CreatedAt.UTC()
	return &img, nil
}

func listImages(ctx context.Context, db DBTX, ownerID int64) ([]*vehicleimage.ImageAsset, error) {
	rows, err := db.Query(ctx, `SELECT `+imageColumns+` FROM vehicle_images WHERE vehicle_id = $1 `+displayOrder, ownerID)
	if err != nil {
		return nil, handlePostgresError("list images", err)
	}
	defer rows.Close()

	var images []*vehicleimage.ImageAsset
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, handlePostgresError("scan image", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list images", err)
	}
	return images, nil
}

func (r *Repository) GetImage(ctx context.Context, id uuid.UUID) (*vehicleimage.ImageAsset, error) {
	img, err := scanImage(r.db.QueryRow(ctx, `SELECT `+imageColumns+` FROM vehicle_images WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, vehicleimage.ErrImageNotFound
		}
		return nil, handlePostgresError("get image", err)
	}
	return img, nil
}

func (r *Repository) ListImages(ctx context.Context, ownerID int64) ([]*vehicleimage.ImageAsset, error) {
	return listImages(ctx, r.db, ownerID)
}

func (r *Repository) FileNameExists(ctx context.Context, ownerID int64, fileName string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM vehicle_images WHERE vehicle_id = $1 AND file_name = $2)`,
		ownerID, fileName).Scan(&exists)
	if err != nil {
		return false, handlePostgresError("file name exists", err)
	}
	return exists, nil
}

func (r *Repository) KeyExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM vehicle_images WHERE key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, handlePostgresError("key exists", err)
	}
	return exists, nil
}

func (r *Repository) ListOwners(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT vehicle_id FROM vehicle_images ORDER BY vehicle_id`)
	if err != nil {
		return nil, handlePostgresError("list owners", err)
	}
	owners, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, handlePostgresError("list owners", err)
	}
	return owners, nil
}

// WithOwnerLock runs fn in a transaction holding a transaction-scoped advisory
// lock keyed by the vehicle id.
func (r *Repository) WithOwnerLock(ctx context.Context, ownerID int64, fn func(ctx context.Context, tx vehicleimage.ImageTx) error) error {
	pgTx, err := r.db.Begin(ctx)
	if err != nil {
		return handlePostgresError("begin", err)
	}
	defer pgTx.Rollback(ctx)

	if _, err := pgTx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ownerID); err != nil {
		return handlePostgresError("owner lock", err)
	}

	if err := fn(ctx, &imageTx{tx: pgTx, ownerID: ownerID}); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return handlePostgresError("commit", err)
	}
	return nil
}

// imageTx implements vehicleimage.ImageTx on an open transaction
type imageTx struct {
	tx      pgx.Tx
	ownerID int64
}

func (t *imageTx) ListImages(ctx context.Context) ([]*vehicleimage.ImageAsset, error) {
	return listImages(ctx, t.tx, t.ownerID)
}

func (t *imageTx) CreateImage(ctx context.Context, image *vehicleimage.ImageAsset) error {
	if image.OwnerID != t.ownerID {
		return vehicleimage.ErrKeyOwnershipMismatch
	}
	if image.ID == uuid.Nil {
		image.ID = uuid.New()
	}

	if image.CreatedAt.IsZero() {
		image.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO vehicle_images (` + imageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := t.tx.Exec(ctx, query,
		image.ID, image.OwnerID, image.Bucket, image.Key, image.FileName,
		image.ContentType, image.Size, image.IsPrimary, image.CreatedAt)
	if err != nil {
		return handlePostgresError("create image", err)
	}
	return nil
}

// SetPrimary applies demotions before promotions so the one-primary index
// never sees two primaries.
func (t *imageTx) SetPrimary(ctx context.Context, flags []vehicleimage.PrimaryFlag) error {
	ordered := append([]vehicleimage.PrimaryFlag(nil), flags...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return !ordered[i].IsPrimary && ordered[j].IsPrimary
	})

	for _, f := range ordered {
		tag, err := t.tx.Exec(ctx,
			`UPDATE vehicle_images SET is_primary = $3 WHERE id = $1 AND vehicle_id = $2`,
			f.ImageID, t.ownerID, f.IsPrimary)
		if err != nil {
			return handlePostgresError("set primary", err)
		}
		if tag.RowsAffected() == 0 {
			return vehicleimage.ErrImageNotFound
		}
	}
	return nil
}

func (t *imageTx) DeleteImage(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM vehicle_images WHERE id = $1 AND vehicle_id = $2`, id, t.ownerID)
	if err != nil {
		return handlePostgresError("delete image", err)
	}
	if tag.RowsAffected() == 0 {
		return vehicleimage.ErrImageNotFound
	}
	return nil
}
