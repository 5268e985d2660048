/**
 * PostgreSQL Client for the PDF Extraction Worker
 *
 * Handles job persistence and storage of extraction results.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Status           string
	Progress         int
	Method           string
	PageCount        int
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// ExtractionRecord is the stored outcome of one document extraction
type ExtractionRecord struct {
	JobID      string
	Source     string
	Method     string
	Pages      interface{} // marshalled to JSONB
	PageCount  int
	TotalChars int
	Warnings   []string
	Error      string
	DurationMs int64
}

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS pdfextract;

	CREATE TABLE IF NOT EXISTS pdfextract.extraction_jobs (
		id                 TEXT PRIMARY KEY,
		filename           TEXT,
		file_size          BIGINT,
		status             TEXT NOT NULL,
		progress           INTEGER NOT NULL DEFAULT 0,
		extraction_method  TEXT,
		page_count         INTEGER,
		processing_time_ms BIGINT,
		error_code         TEXT,
		error_message      TEXT,
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS pdfextract.extraction_results (
		job_id            TEXT PRIMARY KEY REFERENCES pdfextract.extraction_jobs(id) ON DELETE CASCADE,
		source            TEXT NOT NULL,
		extraction_method TEXT NOT NULL,
		pages             JSONB NOT NULL,
		page_count        INTEGER NOT NULL,
		total_chars       INTEGER NOT NULL,
		warnings          TEXT[] NOT NULL DEFAULT '{}',
		error             TEXT,
		duration_ms       BIGINT NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
`

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the schema and tables if they do not exist
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row so the first status update creates it
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update == nil || update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metadataJSON = sanitizeJSONForPostgres(metadataJSON)

	var filename string
	var fileSize int64
	if update.Metadata != nil {
		if fn, ok := update.Metadata["filename"].(string); ok {
			filename = fn
		}
		if fs, ok := update.Metadata["fileSize"].(int64); ok {
			fileSize = fs
		} else if fs, ok := update.Metadata["fileSize"].(float64); ok {
			fileSize = int64(fs)
		}
	}

	query := `
		INSERT INTO pdfextract.extraction_jobs (
			id, filename, file_size, status, progress,
			extraction_method, page_count, processing_time_ms,
			error_code, error_message, metadata, created_at, updated_at
		) VALUES (
			$1, NULLIF($2, ''), NULLIF($3, 0), $4, $5,
			NULLIF($6, ''), NULLIF($7, 0), NULLIF($8, 0),
			NULLIF($9, ''), NULLIF($10, ''),
			COALESCE($11::jsonb, '{}'::jsonb), NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			filename = COALESCE(EXCLUDED.filename, pdfextract.extraction_jobs.filename),
			file_size = COALESCE(EXCLUDED.file_size, pdfextract.extraction_jobs.file_size),
			extraction_method = COALESCE(EXCLUDED.extraction_method, pdfextract.extraction_jobs.extraction_method),
			page_count = COALESCE(EXCLUDED.page_count, pdfextract.extraction_jobs.page_count),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, pdfextract.extraction_jobs.processing_time_ms),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = pdfextract.extraction_jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1
		filename,                // $2
		fileSize,                // $3
		update.Status,           // $4
		update.Progress,         // $5
		update.Method,           // $6
		update.PageCount,        // $7
		update.ProcessingTimeMs, // $8
		update.ErrorCode,        // $9
		update.ErrorMessage,     // $10
		metadataJSON,            // $11
	).Scan(&returnedID)

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w", update.JobID, update.Status, err)
	}

	return nil
}

// StoreExtraction stores (or replaces) the extraction result of a job
func (p *PostgresClient) StoreExtraction(ctx context.Context, record *ExtractionRecord) error {
	if record == nil || record.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	pagesJSON, err := json.Marshal(record.Pages)
	if err != nil {
		return fmt.Errorf("failed to marshal pages: %w", err)
	}
	pagesJSON = sanitizeJSONForPostgres(pagesJSON)

	warnings := record.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	query := `
		INSERT INTO pdfextract.extraction_results (
			job_id, source, extraction_method, pages, page_count,
			total_chars, warnings, error, duration_ms, created_at
		) VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, NULLIF($8, ''), $9, NOW())
		ON CONFLICT (job_id) DO UPDATE SET
			source = EXCLUDED.source,
			extraction_method = EXCLUDED.extraction_method,
			pages = EXCLUDED.pages,
			page_count = EXCLUDED.page_count,
			total_chars = EXCLUDED.total_chars,
			warnings = EXCLUDED.warnings,
			error = EXCLUDED.error,
			duration_ms = EXCLUDED.duration_ms,
			created_at = NOW()
	`

	_, err = p.db.ExecContext(
		ctx,
		query,
		record.JobID,
		record.Source,
		record.Method,
		pagesJSON,
		record.PageCount,
		record.TotalChars,
		pq.Array(warnings),
		record.Error,
		record.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to store extraction (job=%s): %w", record.JobID, err)
	}

	return nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id,
			filename,
			file_size,
			status,
			progress,
			extraction_method,
			page_count,
			processing_time_ms,
			error_code,
			error_message,
			metadata,
			created_at,
			updated_at
		FROM pdfextract.extraction_jobs
		WHERE id = $1
	`

	var (
		id, status                 string
		progress                   int
		filename, method           sql.NullString
		fileSize, processingTimeMs sql.NullInt64
		pageCount                  sql.NullInt64
		errorCode, errorMessage    sql.NullString
		metadataJSON               []byte
		createdAt, updatedAt       time.Time
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &filename, &fileSize, &status, &progress,
		&method, &pageCount, &processingTimeMs,
		&errorCode, &errorMessage, &metadataJSON,
		&createdAt, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":        id,
		"status":    status,
		"progress":  progress,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
		"metadata":  metadata,
	}

	if filename.Valid {
		result["filename"] = filename.String
	}
	if fileSize.Valid {
		result["fileSize"] = fileSize.Int64
	}
	if method.Valid {
		result["extractionMethod"] = method.String
	}
	if pageCount.Valid {
		result["pageCount"] = pageCount.Int64
	}
	if processingTimeMs.Valid {
		result["processingTimeMs"] = processingTimeMs.Int64
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorMessage.Valid {
		result["errorMessage"] = errorMessage.String
	}

	return result, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres removes escapes JSONB rejects.
// \u0000 is dropped; other control-character escapes become a space.
// OCR output and broken text layers both produce these.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
