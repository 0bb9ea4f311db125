package prescription

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/validation"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	reg      *Register
	validate *validator.Validate
}

func NewHandler(reg *Register, validate *validator.Validate) *Handler {
	if validate == nil {
		validate = validation.New()
	}
	return &Handler{reg: reg, validate: validate}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/prescriptions", h.List)
	api.GET("/prescriptions/:id", h.Get)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	writeGroup.POST("/prescriptions", h.Create)
	writeGroup.PUT("/prescriptions/:id", h.Update)
	writeGroup.DELETE("/prescriptions/:id", h.Delete)
}

type response struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	Prescription *Prescription `json:"prescription,omitempty"`
}

var medicationMessages = map[string]string{
	"patient_id":  "Patient requis",
	"medications": "Au moins un médicament est requis",
	"name":        "Nom du médicament requis",
	"dosage":      "Posologie requise",
	"frequency":   "Fréquence requise",
	"duration":    "Durée requise",
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, validation.Message(err, medicationMessages, "Ordonnance invalide"))
	}

	ctx := c.Request().Context()
	if !auth.HasAnyRole(ctx, auth.RoleSecretary) {
		req.DoctorID = auth.UserIDFromContext(ctx)
	}
	p, err := h.reg.Create(ctx, req.PatientID, req.DoctorID, req.Medications, req.Instructions)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, response{Success: true, Message: createdMessage(p.ID), Prescription: p})
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	h.reg.Reload(ctx)

	var items []Prescription
	switch {
	case c.QueryParam("patient_id") != "":
		items = h.reg.ForPatient(c.QueryParam("patient_id"))
	case c.QueryParam("doctor_id") != "":
		items = h.reg.ForDoctor(c.QueryParam("doctor_id"))
	default:
		items = h.reg.All()
	}

	out := make([]Prescription, 0, len(items))
	for _, p := range items {
		if auth.CanActFor(ctx, p.PatientID, p.DoctorID) {
			out = append(out, p)
		}
	}
	return c.JSON(http.StatusOK, pagination.Page(out, pagination.FromContext(c)))
}

// load fetches :id for a caller who wrote it or is its patient.
func (h *Handler) load(c echo.Context) (*Prescription, error) {
	p, err := h.reg.Get(c.Param("id"))
	if err != nil {
		return nil, apperr.HTTP(err)
	}
	if !auth.CanActFor(c.Request().Context(), p.PatientID, p.DoctorID) {
		return nil, echo.NewHTTPError(http.StatusForbidden, "Accès refusé")
	}
	return p, nil
}

func (h *Handler) Get(c echo.Context) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Update(c echo.Context) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	if !auth.CanActFor(c.Request().Context(), p.DoctorID) {
		return echo.NewHTTPError(http.StatusForbidden, "Seul le médecin prescripteur peut modifier l'ordonnance")
	}

	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, validation.Message(err, medicationMessages, "Ordonnance invalide"))
	}

	p, err = h.reg.Update(c.Request().Context(), p.ID, req.Medications, req.Instructions)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, response{Success: true, Message: updatedMessage(p.ID), Prescription: p})
}

func (h *Handler) Delete(c echo.Context) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	if !auth.CanActFor(c.Request().Context(), p.DoctorID) {
		return echo.NewHTTPError(http.StatusForbidden, "Seul le médecin prescripteur peut supprimer l'ordonnance")
	}
	if err := h.reg.Delete(c.Request().Context(), p.ID); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, response{Success: true, Message: deletedMessage(p.ID)})
}
