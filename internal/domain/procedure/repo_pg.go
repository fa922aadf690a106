package procedure

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medanchor/medanchor/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func conn(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// -- Patients --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, patient_hash, first_name_hash, last_name_hash, birth_date_hash, created_at, updated_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO patient (id, patient_hash, first_name_hash, last_name_hash, birth_date_hash)
		VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.PatientHash, p.FirstNameHash, p.LastNameHash, p.BirthDateHash,
	)
	return err
}

func (r *patientRepoPG) GetByHash(ctx context.Context, patientHash string) (*Patient, error) {
	return scanPatient(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE patient_hash = $1`, patientHash))
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+patientCols+` FROM patient ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func scanPatient(row rowScanner) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.PatientHash, &p.FirstNameHash, &p.LastNameHash, &p.BirthDateHash,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// -- Procedures --

type procedureRepoPG struct {
	pool *pgxpool.Pool
}

func NewProcedureRepo(pool *pgxpool.Pool) ProcedureRepository {
	return &procedureRepoPG{pool: pool}
}

const procedureCols = `id, ledger_id, patient_hash, practitioner_id, procedure_type, duration,
	consent_hash, metadata, ledger_tx_hash, created_at, updated_at`

func (r *procedureRepoPG) Create(ctx context.Context, p *Procedure) error {
	p.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO procedure (id, patient_hash, practitioner_id, procedure_type, duration, consent_hash, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.PatientHash, p.PractitionerID, p.ProcedureType, p.Duration, p.ConsentHash, p.Metadata,
	)
	return err
}

func (r *procedureRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Procedure, error) {
	return scanProcedure(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+procedureCols+` FROM procedure WHERE id = $1`, id))
}

func (r *procedureRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Procedure, int, error) {
	where := ` WHERE ($1 = '' OR patient_hash = $1) AND ($2::uuid IS NULL OR practitioner_id = $2)`

	var practitionerID interface{}
	if f.PractitionerID != nil {
		practitionerID = *f.PractitionerID
	}

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM procedure`+where, f.PatientHash, practitionerID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+procedureCols+` FROM procedure`+where+` ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		f.PatientHash, practitionerID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	procs, err := collectProcedures(rows)
	if err != nil {
		return nil, 0, err
	}
	return procs, total, nil
}

func (r *procedureRepoPG) ListByPatient(ctx context.Context, patientHash string) ([]*Procedure, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+procedureCols+` FROM procedure WHERE patient_hash = $1 ORDER BY created_at DESC`,
		patientHash,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectProcedures(rows)
}

func (r *procedureRepoPG) SetLedgerOutcome(ctx context.Context, id uuid.UUID, ledgerID, txHash string) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE procedure SET ledger_id = $2, ledger_tx_hash = $3, updated_at = NOW()
		WHERE id = $1`,
		id, ledgerID, txHash,
	)
	return err
}

func (r *procedureRepoPG) SetConsentHash(ctx context.Context, id uuid.UUID, consentHash string) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE procedure SET consent_hash = $2, updated_at = NOW()
		WHERE id = $1`,
		id, consentHash,
	)
	return err
}

func (r *procedureRepoPG) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ProcedureTypes: make(map[string]int)}

	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT patient_hash),
		       COUNT(ledger_tx_hash)
		FROM procedure`,
	).Scan(&stats.TotalProcedures, &stats.UniquePatients, &stats.AnchoredOnLedger)
	if err != nil {
		return nil, err
	}

	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT procedure_type, COUNT(*) FROM procedure GROUP BY procedure_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		stats.ProcedureTypes[t] = n
	}
	return stats, rows.Err()
}

func (r *procedureRepoPG) CountByPractitioner(ctx context.Context, practitionerID uuid.UUID) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM procedure WHERE practitioner_id = $1`, practitionerID,
	).Scan(&n)
	return n, err
}

func collectProcedures(rows pgx.Rows) ([]*Procedure, error) {
	var out []*Procedure
	for rows.Next() {
		p, err := scanProcedure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProcedure(row rowScanner) (*Procedure, error) {
	var p Procedure
	err := row.Scan(
		&p.ID, &p.LedgerID, &p.PatientHash, &p.PractitionerID, &p.ProcedureType, &p.Duration,
		&p.ConsentHash, &p.Metadata, &p.LedgerTxHash, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// -- Consents --

type consentRepoPG struct {
	pool *pgxpool.Pool
}

func NewConsentRepo(pool *pgxpool.Pool) ConsentRepository {
	return &consentRepoPG{pool: pool}
}

func (r *consentRepoPG) Create(ctx context.Context, c *Consent) error {
	c.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO consent (id, procedure_id, consent_hash, file_path, signed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.ProcedureID, c.ConsentHash, c.FilePath, c.SignedAt, c.ExpiresAt,
	)
	return err
}

func (r *consentRepoPG) GetByProcedure(ctx context.Context, procedureID uuid.UUID) (*Consent, error) {
	var c Consent
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, procedure_id, consent_hash, file_path, signed_at, expires_at, created_at
		FROM consent WHERE procedure_id = $1
		ORDER BY created_at DESC LIMIT 1`,
		procedureID,
	).Scan(&c.ID, &c.ProcedureID, &c.ConsentHash, &c.FilePath, &c.SignedAt, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
