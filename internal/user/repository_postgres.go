package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

const (
	createUsersTableQuery = `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			"clerkId" TEXT NOT NULL UNIQUE,
			"firstName" TEXT NOT NULL,
			"lastName" TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			instagram TEXT NOT NULL DEFAULT '',
			"photoUrl" TEXT NOT NULL DEFAULT '',
			likes TEXT[] NOT NULL DEFAULT '{}',
			dislikes TEXT[] NOT NULL DEFAULT '{}',
			matches TEXT[] NOT NULL DEFAULT '{}',
			"updateNeeded" BOOLEAN NOT NULL DEFAULT TRUE,
			"createdAt" TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`

	selectUserColumns = `
		SELECT id, "clerkId", "firstName", "lastName", phone, instagram, "photoUrl", likes, dislikes, matches, "updateNeeded", "createdAt"
		FROM users
	`
	listUsersQuery         = selectUserColumns + ` ORDER BY "createdAt", id`
	listUsersByIDsQuery    = selectUserColumns + ` WHERE id = ANY($1) ORDER BY "createdAt", id`
	getUserByIDQuery       = selectUserColumns + ` WHERE id = $1`
	getUserByExternalQuery = selectUserColumns + ` WHERE "clerkId" = $1`

	insertUserQuery = `
		INSERT INTO users (id, "clerkId", "firstName", "lastName", phone, instagram, "photoUrl", likes, dislikes, matches, "updateNeeded", "createdAt")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	updateProfileQuery = `
		UPDATE users
		SET "firstName" = $1,
			"lastName" = $2,
			phone = $3,
			instagram = $4,
			"photoUrl" = $5,
			"updateNeeded" = $6
		WHERE id = $7
	`
	setProfileIncompleteQuery = `UPDATE users SET "updateNeeded" = $1 WHERE "clerkId" = $2`
	updateRelationsQuery      = `
		UPDATE users
		SET likes = $1,
			dislikes = $2,
			matches = $3
		WHERE id = $4
	`
)

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the users table when it does not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createUsersTableQuery); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, listUsersQuery)
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

func (r *PostgresRepository) ListByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return []User{}, nil
	}
	rows, err := r.db.QueryContext(ctx, listUsersByIDsQuery, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (User, error) {
	return scanOne(r.db.QueryRowContext(ctx, getUserByIDQuery, id))
}

func (r *PostgresRepository) GetByExternalID(ctx context.Context, externalID string) (User, error) {
	return scanOne(r.db.QueryRowContext(ctx, getUserByExternalQuery, externalID))
}

func (r *PostgresRepository) Create(ctx context.Context, user User) (User, error) {
	user = user.normalize()
	_, err := r.db.ExecContext(
		ctx,
		insertUserQuery,
		user.ID,
		user.ExternalID,
		user.FirstName,
		user.LastName,
		user.Phone,
		user.Instagram,
		user.PhotoURL,
		pq.Array(user.Likes),
		pq.Array(user.Dislikes),
		pq.Array(user.Matches),
		user.ProfileIncomplete,
		user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrExternalIDTaken
		}
		return User{}, err
	}
	return user, nil
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, update User) (User, error) {
	result, err := r.db.ExecContext(
		ctx,
		updateProfileQuery,
		update.FirstName,
		update.LastName,
		update.Phone,
		update.Instagram,
		update.PhotoURL,
		update.ProfileIncomplete,
		update.ID,
	)
	if err != nil {
		return User{}, err
	}
	if err := requireAffected(result); err != nil {
		return User{}, err
	}
	return r.GetByID(ctx, update.ID)
}

func (r *PostgresRepository) SetProfileIncomplete(ctx context.Context, externalID string, incomplete bool) error {
	result, err := r.db.ExecContext(ctx, setProfileIncompleteQuery, incomplete, externalID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// SaveRelations updates the relationship columns of all users in one transaction.
func (r *PostgresRepository) SaveRelations(ctx context.Context, users ...User) error {
	if len(users) == 0 {
		return errEmptyRelationSave
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin relations tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, u := range users {
		u = u.normalize()
		result, err := tx.ExecContext(ctx, updateRelationsQuery, pq.Array(u.Likes), pq.Array(u.Dislikes), pq.Array(u.Matches), u.ID)
		if err != nil {
			return fmt.Errorf("update relations of %s: %w", u.ID, err)
		}
		if err := requireAffected(result); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit relations tx: %w", err)
	}
	return nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOne(scanner rowScanner) (User, error) {
	u, err := scanUser(scanner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

func scanUsers(rows *sql.Rows) ([]User, error) {
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func scanUser(scanner rowScanner) (User, error) {
	u := User{}
	if err := scanner.Scan(
		&u.ID,
		&u.ExternalID,
		&u.FirstName,
		&u.LastName,
		&u.Phone,
		&u.Instagram,
		&u.PhotoURL,
		pq.Array(&u.Likes),
		pq.Array(&u.Dislikes),
		pq.Array(&u.Matches),
		&u.ProfileIncomplete,
		&u.CreatedAt,
	); err != nil {
		return User{}, err
	}
	return u.normalize(), nil
}
