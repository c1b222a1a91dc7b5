// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store implements the Paper Store (C7): idempotent SQLite
// persistence for StoredPaper, deduped by paper_id. Every write is a
// single transaction.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/research-engine/internal/pipeline"
	"github.com/pdiddy/research-engine/pkg/types"
)

const dbFile = "gather.db"

// Store manages the paper-store SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the database at dataDir/gather.db and ensures
// the schema exists.
func NewStore(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) createSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS papers (
		paper_id TEXT PRIMARY KEY,
		title TEXT,
		abstract TEXT,
		categories TEXT,
		authors TEXT,
		published_date TEXT,
		pdf_url TEXT,
		abstract_score REAL,
		abstract_justification TEXT,
		full_score REAL,
		full_justification TEXT,
		processing_status TEXT NOT NULL,
		deep_analysis_status TEXT NOT NULL,
		deep_analysis_result TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		analyzed_at TEXT,
		task_name TEXT,
		task_id TEXT,
		metadata TEXT,
		external_kb_id TEXT
	)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_papers_task_id ON papers(task_id)`)
	return err
}

// GetByPaperID returns the stored paper, or (nil, nil) if none exists.
func (s *Store) GetByPaperID(ctx context.Context, paperID string) (*types.StoredPaper, error) {
	row := s.db.QueryRowContext(ctx, `SELECT paper_id, title, abstract, categories, authors,
		published_date, pdf_url, abstract_score, abstract_justification, full_score,
		full_justification, processing_status, deep_analysis_status, deep_analysis_result,
		created_at, updated_at, analyzed_at, task_name, task_id, metadata, external_kb_id
		FROM papers WHERE paper_id = ?`, paperID)

	p, err := scanPaper(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pipeline.Wrap(pipeline.PersistFailed, err)
	}
	return p, nil
}

// Create inserts a new stored paper. Returns false (not an error) if
// paper_id already exists, satisfying idempotency under a concurrent
// duplicate.
func (s *Store) Create(ctx context.Context, p types.StoredPaper) (bool, error) {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	categoriesJSON, _ := json.Marshal(p.Categories)
	authorsJSON, _ := json.Marshal(p.Authors)
	metadataJSON, _ := json.Marshal(p.Metadata)

	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO papers (
		paper_id, title, abstract, categories, authors, published_date, pdf_url,
		abstract_score, abstract_justification, full_score, full_justification,
		processing_status, deep_analysis_status, deep_analysis_result,
		created_at, updated_at, analyzed_at, task_name, task_id, metadata, external_kb_id
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.PaperID, p.Title, p.Abstract, string(categoriesJSON), string(authorsJSON),
		formatTime(p.PublishedDate), p.PDFURL,
		p.AbstractScore, p.AbstractJustification, p.FullScore, p.FullJustification,
		string(p.ProcessingStatus), string(p.DeepAnalysisStatus), p.DeepAnalysisResult,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt), formatTime(p.AnalyzedAt),
		p.TaskName, p.TaskID, string(metadataJSON), p.ExternalKBID,
	)
	if err != nil {
		return false, pipeline.Wrap(pipeline.PersistFailed, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, pipeline.Wrap(pipeline.PersistFailed, err)
	}
	return n > 0, nil
}

// UpdateStatus updates processing_status and, when non-empty, deep_analysis_status.
func (s *Store) UpdateStatus(ctx context.Context, paperID string, processing types.ProcessingStatus, deep types.DeepAnalysisStatus) error {
	now := formatTime(time.Now().UTC())
	var err error
	if deep != "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE papers SET processing_status = ?, deep_analysis_status = ?, updated_at = ? WHERE paper_id = ?`,
			string(processing), string(deep), now, paperID)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE papers SET processing_status = ?, updated_at = ? WHERE paper_id = ?`,
			string(processing), now, paperID)
	}
	if err != nil {
		return pipeline.Wrap(pipeline.PersistFailed, err)
	}
	return nil
}

// SaveAnalysisResult stores the finalized deep-analysis markdown, sets
// deep_analysis_status=completed, and stamps analyzed_at.
func (s *Store) SaveAnalysisResult(ctx context.Context, paperID, markdown string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE papers SET deep_analysis_result = ?, deep_analysis_status = ?, analyzed_at = ?, updated_at = ? WHERE paper_id = ?`,
		markdown, string(types.DeepAnalysisCompleted), formatTime(now), formatTime(now), paperID)
	if err != nil {
		return pipeline.Wrap(pipeline.PersistFailed, err)
	}
	return nil
}

// List returns stored papers, most recently updated first, capped at limit.
func (s *Store) List(ctx context.Context, limit int) ([]types.StoredPaper, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT paper_id, title, abstract, categories, authors,
		published_date, pdf_url, abstract_score, abstract_justification, full_score,
		full_justification, processing_status, deep_analysis_status, deep_analysis_result,
		created_at, updated_at, analyzed_at, task_name, task_id, metadata, external_kb_id
		FROM papers ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.PersistFailed, err)
	}
	defer rows.Close()

	var papers []types.StoredPaper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, pipeline.Wrap(pipeline.PersistFailed, err)
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

// Search returns stored papers whose title or abstract contains query
// (case-insensitive), capped at limit.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]types.StoredPaper, error) {
	if limit <= 0 {
		limit = 100
	}
	like := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT paper_id, title, abstract, categories, authors,
		published_date, pdf_url, abstract_score, abstract_justification, full_score,
		full_justification, processing_status, deep_analysis_status, deep_analysis_result,
		created_at, updated_at, analyzed_at, task_name, task_id, metadata, external_kb_id
		FROM papers WHERE lower(title) LIKE ? OR lower(abstract) LIKE ?
		ORDER BY updated_at DESC LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.PersistFailed, err)
	}
	defer rows.Close()

	var papers []types.StoredPaper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, pipeline.Wrap(pipeline.PersistFailed, err)
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

// Delete removes a stored paper. Not an error if it does not exist.
func (s *Store) Delete(ctx context.Context, paperID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM papers WHERE paper_id = ?`, paperID)
	if err != nil {
		return pipeline.Wrap(pipeline.PersistFailed, err)
	}
	return nil
}

// BulkReassignTask reassigns a set of papers to a new task_name/task_id in
// a single transaction.
func (s *Store) BulkReassignTask(ctx context.Context, paperIDs []string, newTaskName, newTaskID string) error {
	if len(paperIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pipeline.Wrap(pipeline.PersistFailed, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE papers SET task_name = ?, task_id = ?, updated_at = ? WHERE paper_id = ?`)
	if err != nil {
		return pipeline.Wrap(pipeline.PersistFailed, err)
	}
	defer stmt.Close()

	now := formatTime(time.Now().UTC())
	for _, id := range paperIDs {
		if _, err := stmt.ExecContext(ctx, newTaskName, newTaskID, now, id); err != nil {
			return pipeline.Wrap(pipeline.PersistFailed, fmt.Errorf("reassigning %s: %w", id, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return pipeline.Wrap(pipeline.PersistFailed, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPaper(row scanner) (*types.StoredPaper, error) {
	var p types.StoredPaper
	var categoriesJSON, authorsJSON, metadataJSON string
	var publishedDate, createdAt, updatedAt, analyzedAt sql.NullString

	err := row.Scan(
		&p.PaperID, &p.Title, &p.Abstract, &categoriesJSON, &authorsJSON,
		&publishedDate, &p.PDFURL, &p.AbstractScore, &p.AbstractJustification,
		&p.FullScore, &p.FullJustification, &p.ProcessingStatus, &p.DeepAnalysisStatus,
		&p.DeepAnalysisResult, &createdAt, &updatedAt, &analyzedAt,
		&p.TaskName, &p.TaskID, &metadataJSON, &p.ExternalKBID,
	)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(categoriesJSON), &p.Categories)
	json.Unmarshal([]byte(authorsJSON), &p.Authors)
	if metadataJSON != "" {
		json.Unmarshal([]byte(metadataJSON), &p.Metadata)
	}
	p.PublishedDate = parseTime(publishedDate.String)
	p.CreatedAt = parseTime(createdAt.String)
	p.UpdatedAt = parseTime(updatedAt.String)
	p.AnalyzedAt = parseTime(analyzedAt.String)

	return &p, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
