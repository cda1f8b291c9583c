package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/keagan/storyreel/internal/pipeline"
	"github.com/keagan/storyreel/pkg/util"
)

// Run statuses
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// ErrNotFound is returned when a run id is unknown
var ErrNotFound = errors.New("run not found")

// Record is one storyboard run
type Record struct {
	ID          string
	Storyboard  string
	StylePreset string
	Status      string
	OutputPath  string
	Error       string
	SceneCount  int
	StartedAt   time.Time
	FinishedAt  time.Time
	Scenes      []SceneRecord
}

// SceneRecord is one scene's outcome within a run
type SceneRecord struct {
	SceneID          int
	Title            string
	ImageURL         string
	VideoURL         string
	ClipPath         string
	RequestedSeconds int
	TargetSeconds    float64
	Error            string
}

// Store provides SQLite-backed run history
type Store struct {
	db *sql.DB
}

// Open creates or opens the ledger at path
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := util.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun writes a run and its scenes in one transaction
func (s *Store) SaveRun(ctx context.Context, rec Record) (err error) {
	if rec.ID == "" {
		return fmt.Errorf("run id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	sceneCount := rec.SceneCount
	if sceneCount == 0 {
		sceneCount = len(rec.Scenes)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, storyboard, style_preset, status, output_path, error, scene_count, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Storyboard,
		rec.StylePreset,
		rec.Status,
		rec.OutputPath,
		rec.Error,
		sceneCount,
		rec.StartedAt.UTC(),
		rec.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, sc := range rec.Scenes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO scene_results (run_id, scene_id, title, image_url, video_url, clip_path, requested_seconds, target_seconds, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rec.ID,
			sc.SceneID,
			sc.Title,
			sc.ImageURL,
			sc.VideoURL,
			sc.ClipPath,
			sc.RequestedSeconds,
			sc.TargetSeconds,
			sc.Error,
		)
		if err != nil {
			return fmt.Errorf("insert scene %d: %w", sc.SceneID, err)
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs first, without scene rows
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, storyboard, style_preset, status, output_path, error, scene_count, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Record
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *rec)
	}
	return runs, rows.Err()
}

// GetRun returns a run with its scenes
func (s *Store) GetRun(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, storyboard, style_preset, status, output_path, error, scene_count, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)

	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Scenes, err = s.SceneResults(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SceneResults returns a run's scenes ordered by scene id
func (s *Store) SceneResults(ctx context.Context, runID string) ([]SceneRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scene_id, title, image_url, video_url, clip_path, requested_seconds, target_seconds, error
		FROM scene_results WHERE run_id = ? ORDER BY scene_id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scenes []SceneRecord
	for rows.Next() {
		var sc SceneRecord
		var title, imageURL, videoURL, clipPath, errMsg sql.NullString
		var requested sql.NullInt64
		var target sql.NullFloat64
		if err := rows.Scan(&sc.SceneID, &title, &imageURL, &videoURL, &clipPath, &requested, &target, &errMsg); err != nil {
			return nil, err
		}
		sc.Title = title.String
		sc.ImageURL = imageURL.String
		sc.VideoURL = videoURL.String
		sc.ClipPath = clipPath.String
		sc.RequestedSeconds = int(requested.Int64)
		sc.TargetSeconds = target.Float64
		sc.Error = errMsg.String
		scenes = append(scenes, sc)
	}
	return scenes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Record, error) {
	var rec Record
	var stylePreset, outputPath, errMsg sql.NullString

	err := row.Scan(&rec.ID, &rec.Storyboard, &stylePreset, &rec.Status, &outputPath, &errMsg, &rec.SceneCount, &rec.StartedAt, &rec.FinishedAt)
	if err != nil {
		return nil, err
	}
	rec.StylePreset = stylePreset.String
	rec.OutputPath = outputPath.String
	rec.Error = errMsg.String
	return &rec, nil
}

// FromRun builds a record from a finished pipeline run. runErr is the
// error Run returned, if any.
func FromRun(storyboardPath, stylePreset string, res *pipeline.RunResult, runErr error, started, finished time.Time) Record {
	rec := Record{
		Storyboard:  storyboardPath,
		StylePreset: stylePreset,
		Status:      StatusDone,
		StartedAt:   started,
		FinishedAt:  finished,
	}
	if runErr != nil {
		rec.Status = StatusFailed
		rec.Error = runErr.Error()
	}
	if res == nil {
		rec.ID = uuid.NewString()
		return rec
	}

	rec.ID = res.RunID
	rec.OutputPath = res.OutputPath
	rec.SceneCount = len(res.Scenes)
	for _, s := range res.Scenes {
		sc := SceneRecord{
			SceneID:          s.Scene.SceneID,
			Title:            s.Scene.Title,
			ImageURL:         s.ImageURL,
			VideoURL:         s.VideoURL,
			ClipPath:         s.ClipPath,
			RequestedSeconds: s.RequestedSeconds,
			TargetSeconds:    s.TargetSeconds,
		}
		if s.Err != nil {
			sc.Error = s.Err.Error()
		}
		rec.Scenes = append(rec.Scenes, sc)
	}
	return rec
}
