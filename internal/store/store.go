package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/facemorph/internal/assets"
	"github.com/jackc/pgx/v5"
)

// Store is a PostgreSQL-backed catalog of average faces.
type Store struct {
	conn *pgx.Conn
}

var _ assets.Catalog = (*Store)(nil)

// Average is one catalog row.
type Average struct {
	Key        string
	Profile    assets.Profile
	ImagePath  string
	PointsPath string
	Landmarks  int
	AddedAt    time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS average_faces (
			key TEXT PRIMARY KEY,
			gender TEXT NOT NULL,
			ethnicity TEXT NOT NULL,
			age_group TEXT NOT NULL,
			image_path TEXT NOT NULL,
			points_path TEXT NOT NULL,
			landmarks INT NOT NULL,
			added_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS average_faces_profile_idx ON average_faces (gender, ethnicity);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// AddAverage registers an average face. Re-adding a profile replaces its files.
func (s *Store) AddAverage(ctx context.Context, p assets.Profile, imagePath, pointsPath string, landmarks int) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO average_faces (key, gender, ethnicity, age_group, image_path, points_path, landmarks, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (key) DO UPDATE SET
			image_path = EXCLUDED.image_path,
			points_path = EXCLUDED.points_path,
			landmarks = EXCLUDED.landmarks,
			added_at = NOW()
	`, p.Key(), p.Gender, p.Ethnicity, p.AgeGroup, imagePath, pointsPath, landmarks)
	return err
}

// FindAverage returns the row for key, or an error wrapping assets.ErrNotFound.
func (s *Store) FindAverage(ctx context.Context, key string) (Average, error) {
	var a Average
	err := s.conn.QueryRow(ctx, `
		SELECT key, gender, ethnicity, age_group, image_path, points_path, landmarks, added_at
		FROM average_faces WHERE key = $1
	`, key).Scan(&a.Key, &a.Profile.Gender, &a.Profile.Ethnicity, &a.Profile.AgeGroup,
		&a.ImagePath, &a.PointsPath, &a.Landmarks, &a.AddedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Average{}, fmt.Errorf("%w: %q", assets.ErrNotFound, key)
	}
	return a, err
}

// Lookup implements assets.Catalog.
func (s *Store) Lookup(ctx context.Context, key string) (assets.Entry, error) {
	a, err := s.FindAverage(ctx, key)
	if err != nil {
		return assets.Entry{}, err
	}
	return assets.Entry{Key: a.Key, ImagePath: a.ImagePath, PointsPath: a.PointsPath}, nil
}

// ListAverages returns every registered average face ordered by key.
func (s *Store) ListAverages(ctx context.Context) ([]Average, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT key, gender, ethnicity, age_group, image_path, points_path, landmarks, added_at
		FROM average_faces ORDER BY key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Average
	for rows.Next() {
		var a Average
		if err := rows.Scan(&a.Key, &a.Profile.Gender, &a.Profile.Ethnicity, &a.Profile.AgeGroup,
			&a.ImagePath, &a.PointsPath, &a.Landmarks, &a.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RemoveAverage deletes one profile. It reports whether a row existed.
func (s *Store) RemoveAverage(ctx context.Context, key string) (bool, error) {
	tag, err := s.conn.Exec(ctx, "DELETE FROM average_faces WHERE key = $1", key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Reset drops the catalog table. The next New recreates it empty.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS average_faces CASCADE;`)
	return err
}
