package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/routeharness/routeharness/pkg/types"
)

// DBBackend reads the router's job store directly. It answers faster than
// the protocol query once a job row exists, at the price of coupling to the
// router's schema: a jobs table keyed by study UID and a tag table holding
// the stored attribute values per job.
type DBBackend struct {
	pool *pgxpool.Pool
}

// NewDBBackend connects to the router database using the supplied connection
// string and verifies the connection once.
func NewDBBackend(ctx context.Context, connString string) (*DBBackend, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DBBackend{pool: pool}, nil
}

// Close releases database resources.
func (b *DBBackend) Close() {
	b.pool.Close()
}

func (b *DBBackend) Name() string { return "database" }

func (b *DBBackend) Available(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

// Query finds the most recent job for the study UID and merges its stored
// tags into the returned attribute set. Base job columns are exposed under
// their DICOM attribute names so the comparison logic treats both sources
// uniformly.
func (b *DBBackend) Query(ctx context.Context, studyUID string, filter []string) (bool, types.AttributeSet, error) {
	const jobQuery = `
SELECT job_id, study_uid, patient_id, accession_number, modality,
       calling_aet, destination_aet, status
  FROM jobs
 WHERE study_uid = $1
 ORDER BY created_at DESC
 LIMIT 1;
`
	row := b.pool.QueryRow(ctx, jobQuery, studyUID)
	var jobID int64
	var uid, patientID, accession, modality, callingAET, destAET, status string
	if err := row.Scan(&jobID, &uid, &patientID, &accession, &modality, &callingAET, &destAET, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("query job %s: %w", studyUID, err)
	}

	attrs := types.AttributeSet{
		{Name: "StudyInstanceUID", Value: uid},
		{Name: "PatientID", Value: patientID},
		{Name: "AccessionNumber", Value: accession},
		{Name: "Modality", Value: modality},
		{Name: "CallingAET", Value: callingAET},
		{Name: "DestinationAET", Value: destAET},
		{Name: "Status", Value: status},
	}

	const tagQuery = `
SELECT tag_name, tag_value
  FROM dicom_tags
 WHERE job_id = $1
 ORDER BY tag_group, tag_element;
`
	rows, err := b.pool.Query(ctx, tagQuery, jobID)
	if err != nil {
		return false, nil, fmt.Errorf("query tags for job %d: %w", jobID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return false, nil, fmt.Errorf("scan tag row: %w", err)
		}
		attrs = attrs.Set(name, value)
	}
	if err := rows.Err(); err != nil {
		return false, nil, fmt.Errorf("read tag rows: %w", err)
	}
	return true, attrs, nil
}

var _ Backend = (*DBBackend)(nil)
