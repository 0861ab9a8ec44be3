package user

import (
	"context"

	"studyconnect/internal/database"
)

const userColumns = `id, username, email, birthday, faculty, created_at, updated_at`

// Datastore handles database operations for users.
type Datastore struct {
	db database.DBTX
}

// NewDatastore creates a new user datastore. db may be a pool or a transaction.
func NewDatastore(db database.DBTX) *Datastore {
	return &Datastore{db: db}
}

// Insert creates the user unless the id already exists. On conflict no row is
// returned and the error is sql.ErrNoRows.
func (ds *Datastore) Insert(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (id, username, email, birthday, faculty, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at, updated_at`

	return ds.db.QueryRowContext(ctx, query,
		u.ID, u.Username, u.Email, u.Birthday, u.Faculty,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
}

// GetByID retrieves a user by subject id.
func (ds *Datastore) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u := &User{}
	err := ds.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.Email, &u.Birthday, &u.Faculty, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Exists reports whether a user with the given id is mirrored locally.
func (ds *Datastore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := ds.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// Update writes the mutable profile columns of u.
func (ds *Datastore) Update(ctx context.Context, u *User) error {
	query := `
		UPDATE users
		SET username = $2, email = $3, birthday = $4, faculty = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	return ds.db.QueryRowContext(ctx, query,
		u.ID, u.Username, u.Email, u.Birthday, u.Faculty,
	).Scan(&u.UpdatedAt)
}
