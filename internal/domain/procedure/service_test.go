package procedure

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medanchor/medanchor/internal/platform/apperr"
	"github.com/medanchor/medanchor/internal/platform/blobstore"
	"github.com/medanchor/medanchor/internal/platform/ledger"
)

// -- Mock repositories --

type mockPatientRepo struct {
	patients map[string]*Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[string]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	m.patients[p.PatientHash] = p
	return nil
}

func (m *mockPatientRepo) GetByHash(_ context.Context, hash string) (*Patient, error) {
	p, ok := m.patients[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return p, nil
}

func (m *mockPatientRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	var out []*Patient
	for _, p := range m.patients {
		out = append(out, p)
	}
	return out, len(out), nil
}

type mockProcedureRepo struct {
	procedures map[uuid.UUID]*Procedure
	failCreate bool
	failStamp  bool
}

func newMockProcedureRepo() *mockProcedureRepo {
	return &mockProcedureRepo{procedures: make(map[uuid.UUID]*Procedure)}
}

func (m *mockProcedureRepo) Create(_ context.Context, p *Procedure) error {
	if m.failCreate {
		return errors.New("connection refused")
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	stored := *p
	m.procedures[p.ID] = &stored
	return nil
}

func (m *mockProcedureRepo) GetByID(_ context.Context, id uuid.UUID) (*Procedure, error) {
	p, ok := m.procedures[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return p, nil
}

func (m *mockProcedureRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Procedure, int, error) {
	var out []*Procedure
	for _, p := range m.procedures {
		if f.PatientHash != "" && p.PatientHash != f.PatientHash {
			continue
		}
		if f.PractitionerID != nil && p.PractitionerID != *f.PractitionerID {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func (m *mockProcedureRepo) ListByPatient(_ context.Context, hash string) ([]*Procedure, error) {
	var out []*Procedure
	for _, p := range m.procedures {
		if p.PatientHash == hash {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockProcedureRepo) SetLedgerOutcome(_ context.Context, id uuid.UUID, ledgerID, txHash string) error {
	if m.failStamp {
		return errors.New("connection refused")
	}
	p, ok := m.procedures[id]
	if !ok {
		return errors.New("not found")
	}
	p.LedgerID = &ledgerID
	p.LedgerTxHash = &txHash
	return nil
}

func (m *mockProcedureRepo) SetConsentHash(_ context.Context, id uuid.UUID, consentHash string) error {
	p, ok := m.procedures[id]
	if !ok {
		return errors.New("not found")
	}
	p.ConsentHash = &consentHash
	return nil
}

func (m *mockProcedureRepo) Stats(_ context.Context) (*Stats, error) {
	stats := &Stats{ProcedureTypes: make(map[string]int)}
	seen := make(map[string]bool)
	for _, p := range m.procedures {
		stats.TotalProcedures++
		stats.ProcedureTypes[p.ProcedureType]++
		if !seen[p.PatientHash] {
			seen[p.PatientHash] = true
			stats.UniquePatients++
		}
		if p.Anchored() {
			stats.AnchoredOnLedger++
		}
	}
	return stats, nil
}

func (m *mockProcedureRepo) CountByPractitioner(_ context.Context, pid uuid.UUID) (int, error) {
	n := 0
	for _, p := range m.procedures {
		if p.PractitionerID == pid {
			n++
		}
	}
	return n, nil
}

type mockConsentRepo struct {
	consents map[uuid.UUID]*Consent
}

func newMockConsentRepo() *mockConsentRepo {
	return &mockConsentRepo{consents: make(map[uuid.UUID]*Consent)}
}

func (m *mockConsentRepo) Create(_ context.Context, c *Consent) error {
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	m.consents[c.ProcedureID] = c
	return nil
}

func (m *mockConsentRepo) GetByProcedure(_ context.Context, procedureID uuid.UUID) (*Consent, error) {
	c, ok := m.consents[procedureID]
	if !ok {
		return nil, errors.New("not found")
	}
	return c, nil
}

// -- Mock ledger gateway --

type mockGateway struct {
	receipt  *ledger.Receipt
	err      *ledger.SubmitError
	submits  int
	lastReq  ledger.SubmitRequest
	records  map[string]*ledger.Record
}

func (m *mockGateway) Submit(_ context.Context, req ledger.SubmitRequest, _ string) (*ledger.Receipt, error) {
	m.submits++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.receipt, nil
}

func (m *mockGateway) GetProcedure(_ context.Context, id string) (*ledger.Record, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return rec, nil
}

func (m *mockGateway) GetPatientProcedures(_ context.Context, hash string) []ledger.Record {
	var out []ledger.Record
	for _, rec := range m.records {
		if rec.PatientHash == hash {
			out = append(out, *rec)
		}
	}
	return out
}

// -- Fixtures --

type fixture struct {
	svc      *Service
	patients *mockPatientRepo
	procs    *mockProcedureRepo
	consents *mockConsentRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		patients: newMockPatientRepo(),
		procs:    newMockProcedureRepo(),
		consents: newMockConsentRepo(),
	}
	f.svc = NewService(f.patients, f.procs, f.consents, blobstore.NewInMemoryStore())
	return f
}

func (f *fixture) seedPatient(t *testing.T, hash string) {
	t.Helper()
	if err := f.svc.CreatePatient(context.Background(), &Patient{PatientHash: hash}); err != nil {
		t.Fatalf("seed patient: %v", err)
	}
}

// -- Patient tests --

func TestCreatePatient_RejectsDuplicateHash(t *testing.T) {
	f := newFixture(t)
	f.seedPatient(t, "hash-1")

	err := f.svc.CreatePatient(context.Background(), &Patient{PatientHash: "hash-1"})
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("duplicate CreatePatient error = %v, want ValidationError", err)
	}
}

// -- Coordinator tests --

func TestCreateProcedure_Validation(t *testing.T) {
	f := newFixture(t)
	f.seedPatient(t, "hash-1")

	tests := []struct {
		name string
		p    *Procedure
	}{
		{"unsupported type", &Procedure{PatientHash: "hash-1", ProcedureType: "trepanation", Duration: 30}},
		{"non-positive duration", &Procedure{PatientHash: "hash-1", ProcedureType: "stent", Duration: 0}},
		{"unknown patient", &Procedure{PatientHash: "hash-unknown", ProcedureType: "stent", Duration: 30}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.CreateProcedure(context.Background(), tt.p)
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("CreateProcedure error = %v, want ValidationError", err)
			}
			if len(f.procs.procedures) != 0 {
				t.Error("no partial writes expected on validation failure")
			}
		})
	}
}

func TestCreateProcedure_NoSigningKey_StaysLocal(t *testing.T) {
	f := newFixture(t)
	f.seedPatient(t, "hash-1")
	gw := &mockGateway{receipt: &ledger.Receipt{TxHash: "0xabc"}}
	f.svc.SetLedger(gw, "", time.Second)

	p := &Procedure{PatientHash: "hash-1", ProcedureType: "stent", Duration: 45}
	if err := f.svc.CreateProcedure(context.Background(), p); err != nil {
		t.Fatalf("CreateProcedure() error: %v", err)
	}
	if gw.submits != 0 {
		t.Errorf("submits = %d, want 0 without signing key", gw.submits)
	}
	if p.Anchored() || p.LedgerID != nil {
		t.Error("record should carry no ledger fields")
	}
}

func TestCreateProcedure_LedgerFailureDoesNotFailCreate(t *testing.T) {
	f := newFixture(t)
	f.seedPatient(t, "hash-1")
	gw := &mockGateway{err: &ledger.SubmitError{Stage: "transport", Cause: "connection refused"}}
	f.svc.SetLedger(gw, "key", time.Second)

	p := &Procedure{PatientHash: "hash-1", ProcedureType: "embolisation", Duration: 60}
	if err := f.svc.CreateProcedure(context.Background(), p); err != nil {
		t.Fatalf("CreateProcedure() error: %v, want success despite ledger failure", err)
	}
	if gw.submits != 1 {
		t.Errorf("submits = %d, want exactly one attempt", gw.submits)
	}
	if p.Anchored() {
		t.Error("record must stay un-anchored after ledger failure")
	}
	if _, err := f.svc.GetProcedure(context.Background(), p.ID); err != nil {
		t.Errorf("local record should exist: %v", err)
	}
}

func TestCreateProcedure_LedgerSuccessStampsReceipt(t *testing.T) {
	f := newFixture(t)
	f.seedPatient(t, "hash-1")
	gw := &mockGateway{receipt: &ledger.Receipt{TxHash: "0xabc123", BlockNumber: 42, GasUsed: 21000}}
	f.svc.SetLedger(gw, "key", time.Second)

	p := &Procedure{PatientHash: "hash-1", ProcedureType: "stent", Duration: 45}
	if err := f.svc.CreateProcedure(context.Background(), p); err != nil {
		t.Fatalf("CreateProcedure() error: %v", err)
	}

	if p.LedgerTxHash == nil || *p.LedgerTxHash != "0xabc123" {
		t.Fatalf("tx hash = %v, want 0xabc123", p.LedgerTxHash)
	}
	// The ledger-side id reuses the local id.
	if p.LedgerID == nil || *p.LedgerID != p.ID.String() {
		t.Errorf("ledger id = %v, want local id %s", p.LedgerID, p.ID)
	}
	if gw.lastReq.ProcedureID != p.ID.String() {
		t.Errorf("submitted procedure id = %s, want %s", gw.lastReq.ProcedureID, p.ID)
	}

	stored, _ := f.svc.GetProcedure(context.Background(), p.ID)
	if !stored.Anchored() {
		t.Error("stored record should carry the receipt")
	}
}

func TestCreateProcedure_StampFailureKeepsLocalRecord(t *testing.T) {
	f := newFixture(t)
	f.seedPatient(t, "hash-1")
	f.procs.failStamp = true
	gw := &mockGateway{receipt: &ledger.Receipt{TxHash: "0xabc"}}
	f.svc.SetLedger(gw, "key", time.Second)

	p := &Procedure{PatientHash: "hash-1", ProcedureType: "stent", Duration: 45}
	if err := f.svc.CreateProcedure(context.Background(), p); err != nil {
		t.Fatalf("CreateProcedure() error: %v", err)
	}
	if p.Anchored() {
		t.Error("returned record must reflect durable state when the stamp commit fails")
	}
}

func TestCreateProcedure_PersistenceFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.seedPatient(t, "hash-1")
	f.procs.failCreate = true
	gw := &mockGateway{receipt: &ledger.Receipt{TxHash: "0xabc"}}
	f.svc.SetLedger(gw, "key", time.Second)

	p := &Procedure{PatientHash: "hash-1", ProcedureType: "stent", Duration: 45}
	err := f.svc.CreateProcedure(context.Background(), p)
	var pe *apperr.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("CreateProcedure error = %v, want PersistenceError", err)
	}
	if gw.submits != 0 {
		t.Error("ledger must not be touched when local persistence fails")
	}
}

// -- Consent tests --

func TestUploadConsent(t *testing.T) {
	f := newFixture(t)
	f.seedPatient(t, "hash-1")
	pid := uuid.New()

	p := &Procedure{PatientHash: "hash-1", PractitionerID: pid, ProcedureType: "biopsie", Duration: 20}
	if err := f.svc.CreateProcedure(context.Background(), p); err != nil {
		t.Fatalf("CreateProcedure() error: %v", err)
	}

	consent, err := f.svc.UploadConsent(context.Background(), p.ID, pid,
		strings.NewReader("%PDF-1.4 signed consent"), nil, nil)
	if err != nil {
		t.Fatalf("UploadConsent() error: %v", err)
	}
	if consent.ConsentHash == "" {
		t.Error("consent hash should be derived from content")
	}
	wantPrefix := "consent_" + p.ID.String() + "_"
	if !strings.HasPrefix(consent.FilePath, wantPrefix) || !strings.HasSuffix(consent.FilePath, ".pdf") {
		t.Errorf("file path = %s, want %s<hash8>.pdf", consent.FilePath, wantPrefix)
	}

	stored, _ := f.svc.GetProcedure(context.Background(), p.ID)
	if stored.ConsentHash == nil || *stored.ConsentHash != consent.ConsentHash {
		t.Error("procedure should be stamped with the consent hash")
	}
}

func TestUploadConsent_OwnershipEnforced(t *testing.T) {
	f := newFixture(t)
	f.seedPatient(t, "hash-1")
	owner := uuid.New()

	p := &Procedure{PatientHash: "hash-1", PractitionerID: owner, ProcedureType: "biopsie", Duration: 20}
	if err := f.svc.CreateProcedure(context.Background(), p); err != nil {
		t.Fatalf("CreateProcedure() error: %v", err)
	}

	_, err := f.svc.UploadConsent(context.Background(), p.ID, uuid.New(),
		strings.NewReader("body"), nil, nil)
	var ae *apperr.AuthorizationError
	if !errors.As(err, &ae) {
		t.Errorf("UploadConsent error = %v, want AuthorizationError", err)
	}
}

func TestUploadConsent_InvalidWindow(t *testing.T) {
	f := newFixture(t)
	f.seedPatient(t, "hash-1")
	pid := uuid.New()

	p := &Procedure{PatientHash: "hash-1", PractitionerID: pid, ProcedureType: "biopsie", Duration: 20}
	if err := f.svc.CreateProcedure(context.Background(), p); err != nil {
		t.Fatalf("CreateProcedure() error: %v", err)
	}

	signed := time.Now()
	expires := signed.Add(-time.Hour)
	_, err := f.svc.UploadConsent(context.Background(), p.ID, pid,
		strings.NewReader("body"), &signed, &expires)
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("UploadConsent error = %v, want ValidationError", err)
	}
}

func TestConsentValidAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	open := &Consent{}
	if !open.ValidAt(now) {
		t.Error("consent without window should always be valid")
	}

	windowed := &Consent{SignedAt: &past, ExpiresAt: &future}
	if !windowed.ValidAt(now) {
		t.Error("consent inside window should be valid")
	}
	if windowed.ValidAt(future.Add(time.Minute)) {
		t.Error("consent past expiry should be invalid")
	}
	if windowed.ValidAt(past.Add(-time.Minute)) {
		t.Error("consent before signature should be invalid")
	}
}

// -- Stats and read-through --

func TestStatsSummary(t *testing.T) {
	f := newFixture(t)
	f.seedPatient(t, "hash-1")
	f.seedPatient(t, "hash-2")
	pid := uuid.New()

	for _, p := range []*Procedure{
		{PatientHash: "hash-1", PractitionerID: pid, ProcedureType: "stent", Duration: 45},
		{PatientHash: "hash-1", PractitionerID: pid, ProcedureType: "biopsie", Duration: 20},
		{PatientHash: "hash-2", PractitionerID: uuid.New(), ProcedureType: "stent", Duration: 30},
	} {
		if err := f.svc.CreateProcedure(context.Background(), p); err != nil {
			t.Fatalf("CreateProcedure() error: %v", err)
		}
	}

	stats, err := f.svc.StatsSummary(context.Background(), pid)
	if err != nil {
		t.Fatalf("StatsSummary() error: %v", err)
	}
	if stats.TotalProcedures != 3 || stats.UserProcedures != 2 || stats.UniquePatients != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ProcedureTypes["stent"] != 2 {
		t.Errorf("stent count = %d, want 2", stats.ProcedureTypes["stent"])
	}
}

func TestLedgerReadThrough(t *testing.T) {
	f := newFixture(t)
	gw := &mockGateway{records: map[string]*ledger.Record{
		"rec-1": {ID: "rec-1", PatientHash: "hash-1", ProcedureType: "stent"},
	}}
	f.svc.SetLedger(gw, "", time.Second)

	rec, err := f.svc.LedgerProcedure(context.Background(), "rec-1")
	if err != nil || rec.ProcedureType != "stent" {
		t.Errorf("LedgerProcedure() = (%+v, %v)", rec, err)
	}

	if _, err := f.svc.LedgerProcedure(context.Background(), "rec-404"); err == nil {
		t.Error("expected NotFound for absent ledger record")
	}

	history := f.svc.LedgerPatientHistory(context.Background(), "hash-1")
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1", len(history))
	}
}
