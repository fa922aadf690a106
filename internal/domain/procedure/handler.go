package procedure

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medanchor/medanchor/internal/platform/apperr"
	"github.com/medanchor/medanchor/internal/platform/auth"
	"github.com/medanchor/medanchor/internal/platform/ledger"
	"github.com/medanchor/medanchor/internal/platform/pseudonym"
	"github.com/medanchor/medanchor/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("practitioner", "admin"))

	g.POST("/patients", h.CreatePatient)
	g.GET("/patients", h.ListPatients)
	g.GET("/patients/:patientHash", h.GetPatient)
	g.GET("/patients/:patientHash/history", h.PatientHistory)

	g.POST("/procedures", h.CreateProcedure)
	g.GET("/procedures", h.ListProcedures)
	g.GET("/procedures/types", h.ProcedureTypes)
	g.GET("/procedures/stats/summary", h.StatsSummary)
	g.GET("/procedures/ledger/:id", h.LedgerProcedure)
	g.GET("/procedures/ledger/patient/:patientHash", h.LedgerPatientHistory)
	g.GET("/procedures/:id", h.GetProcedure)
	g.GET("/procedures/:id/consent", h.GetConsent)
	g.POST("/procedures/:id/consent", h.UploadConsent)
}

func practitionerID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid principal")
	}
	return id, nil
}

// -- Patients --

type createPatientRequest struct {
	PatientHash   string  `json:"patient_hash"`
	FirstNameHash *string `json:"first_name_hash"`
	LastNameHash  *string `json:"last_name_hash"`
	BirthDateHash *string `json:"birth_date_hash"`

	// Raw identity fields are accepted as a convenience and hashed
	// server-side; they are never persisted.
	Identity  string `json:"identity"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	BirthDate string `json:"birth_date"`
}

func (r *createPatientRequest) toPatient() *Patient {
	p := &Patient{
		PatientHash:   r.PatientHash,
		FirstNameHash: r.FirstNameHash,
		LastNameHash:  r.LastNameHash,
		BirthDateHash: r.BirthDateHash,
	}
	if p.PatientHash == "" && r.Identity != "" {
		p.PatientHash = pseudonym.HashIdentity(r.Identity)
	}
	if p.FirstNameHash == nil && r.FirstName != "" {
		h := pseudonym.HashIdentity(r.FirstName)
		p.FirstNameHash = &h
	}
	if p.LastNameHash == nil && r.LastName != "" {
		h := pseudonym.HashIdentity(r.LastName)
		p.LastNameHash = &h
	}
	if p.BirthDateHash == nil && r.BirthDate != "" {
		h := pseudonym.HashIdentity(r.BirthDate)
		p.BirthDateHash = &h
	}
	return p
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req createPatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := req.toPatient()
	if err := h.svc.CreatePatient(c.Request().Context(), p); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("patientHash"))
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Patient{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) PatientHistory(c echo.Context) error {
	procs, err := h.svc.PatientHistory(c.Request().Context(), c.Param("patientHash"))
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	if procs == nil {
		procs = []*Procedure{}
	}
	return c.JSON(http.StatusOK, procs)
}

// -- Procedures --

type createProcedureRequest struct {
	PatientHash   string  `json:"patient_hash"`
	ProcedureType string  `json:"procedure_type"`
	Duration      int     `json:"duration"`
	ConsentHash   *string `json:"consent_hash"`
	Metadata      *string `json:"metadata"`
}

func (h *Handler) CreateProcedure(c echo.Context) error {
	pid, err := practitionerID(c)
	if err != nil {
		return err
	}

	var req createProcedureRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p := &Procedure{
		PatientHash:    req.PatientHash,
		PractitionerID: pid,
		ProcedureType:  req.ProcedureType,
		Duration:       req.Duration,
		ConsentHash:    req.ConsentHash,
		Metadata:       req.Metadata,
	}
	if err := h.svc.CreateProcedure(c.Request().Context(), p); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetProcedure(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetProcedure(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProcedures(c echo.Context) error {
	pg := pagination.FromContext(c)

	f := Filter{PatientHash: c.QueryParam("patient_hash")}
	if v := c.QueryParam("practitioner_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid practitioner_id")
		}
		f.PractitionerID = &pid
	}

	procs, total, err := h.svc.ListProcedures(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if procs == nil {
		procs = []*Procedure{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(procs, total, pg.Limit, pg.Offset))
}

func (h *Handler) ProcedureTypes(c echo.Context) error {
	types := Types()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"procedure_types": types,
		"count":           len(types),
	})
}

func (h *Handler) StatsSummary(c echo.Context) error {
	pid, err := practitionerID(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.StatsSummary(c.Request().Context(), pid)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

// -- Consents --

func (h *Handler) UploadConsent(c echo.Context) error {
	pid, err := practitionerID(c)
	if err != nil {
		return err
	}
	procID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	file, err := c.FormFile("consent_file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "consent_file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
	}
	defer src.Close()

	signedAt, err := timeForm(c, "signed_at")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid signed_at")
	}
	expiresAt, err := timeForm(c, "expires_at")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid expires_at")
	}

	consent, err := h.svc.UploadConsent(c.Request().Context(), procID, pid, src, signedAt, expiresAt)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":      "consent stored",
		"consent_hash": consent.ConsentHash,
		"file_path":    consent.FilePath,
	})
}

func (h *Handler) GetConsent(c echo.Context) error {
	procID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	consent, err := h.svc.GetConsent(c.Request().Context(), procID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, consent)
}

func timeForm(c echo.Context, field string) (*time.Time, error) {
	v := c.FormValue(field)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// -- Ledger read-through --

func (h *Handler) LedgerProcedure(c echo.Context) error {
	rec, err := h.svc.LedgerProcedure(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) LedgerPatientHistory(c echo.Context) error {
	recs := h.svc.LedgerPatientHistory(c.Request().Context(), c.Param("patientHash"))
	if recs == nil {
		recs = []ledger.Record{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"procedures": recs})
}
