package scheduling

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/validation"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	sched    *Scheduler
	slots    *ScheduleStore
	validate *validator.Validate
}

func NewHandler(sched *Scheduler, slots *ScheduleStore, validate *validator.Validate) *Handler {
	if validate == nil {
		validate = validation.New()
	}
	return &Handler{sched: sched, slots: slots, validate: validate}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Reads: any authenticated caller, filtered to what they may see
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/:id", h.GetAppointment)
	api.GET("/doctors/:doctor_id/availability", h.GetAvailability)
	api.GET("/doctors/:doctor_id/schedule", h.GetSchedule)

	bookGroup := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleSecretary))
	bookGroup.POST("/appointments", h.BookAppointment)

	cancelGroup := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleSecretary, auth.RoleDoctor))
	cancelGroup.POST("/appointments/:id/cancel", h.CancelAppointment)

	staffGroup := api.Group("", auth.RequireRole(auth.RoleSecretary, auth.RoleDoctor))
	staffGroup.PUT("/appointments/:id/status", h.UpdateStatus)
	staffGroup.POST("/doctors/:doctor_id/availability", h.AddAvailability)
	staffGroup.POST("/doctors/:doctor_id/slots/block", h.BlockSlots)
	staffGroup.POST("/doctors/:doctor_id/slots/unblock", h.UnblockSlot)

	secretaryGroup := api.Group("", auth.RequireRole(auth.RoleSecretary))
	secretaryGroup.POST("/appointments/:id/validate", h.ValidateAppointment)
	secretaryGroup.DELETE("/appointments/:id", h.DeleteAppointment)
}

type appointmentResponse struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message"`
	Appointment *Appointment `json:"appointment,omitempty"`
}

type slotResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Count   int       `json:"count"`
	Slot    *TimeSlot `json:"slot,omitempty"`
}

var errForbidden = echo.NewHTTPError(http.StatusForbidden, "Accès refusé")

// -- Appointments --

func (h *Handler) BookAppointment(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Tous les champs sont requis")
	}

	ctx := c.Request().Context()
	staff := auth.HasAnyRole(ctx, auth.RoleSecretary)
	if !staff {
		// patients always book for themselves
		req.PatientID = auth.UserIDFromContext(ctx)
	}
	autoConfirm := !staff
	if req.AutoConfirm != nil {
		autoConfirm = *req.AutoConfirm
	}
	if req.EndTime.IsZero() {
		req.EndTime = req.StartTime.Add(h.slotLength())
	}

	a, err := h.sched.BookAppointment(ctx, req.PatientID, req.DoctorID, req.StartTime, req.EndTime, req.Reason, autoConfirm)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, appointmentResponse{Success: true, Message: bookedMessage(a.ID), Appointment: a})
}

func (h *Handler) ListAppointments(c echo.Context) error {
	ctx := c.Request().Context()
	h.sched.Reload(ctx)

	var items []Appointment
	if q := c.QueryParam("date"); q != "" {
		day, err := time.ParseInLocation("2006-01-02", q, h.sched.Location())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		}
		items = h.sched.OnDay(day)
	} else {
		items = h.sched.All()
	}

	var status Status
	if q := c.QueryParam("status"); q != "" {
		status = Status(q)
		if !status.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid status: %s", q))
		}
	}
	patientID := c.QueryParam("patient_id")
	doctorID := c.QueryParam("doctor_id")

	out := make([]Appointment, 0, len(items))
	for _, a := range items {
		if patientID != "" && a.PatientID != patientID {
			continue
		}
		if doctorID != "" && a.DoctorID != doctorID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		if !auth.CanActFor(ctx, a.PatientID, a.DoctorID) {
			continue
		}
		out = append(out, a)
	}
	return c.JSON(http.StatusOK, pagination.Page(out, pagination.FromContext(c)))
}

// load fetches the appointment named by :id and checks the caller takes
// part in it.
func (h *Handler) load(c echo.Context) (*Appointment, error) {
	a, err := h.sched.Get(c.Param("id"))
	if err != nil {
		return nil, apperr.HTTP(err)
	}
	if !auth.CanActFor(c.Request().Context(), a.PatientID, a.DoctorID) {
		return nil, errForbidden
	}
	return a, nil
}

func (h *Handler) GetAppointment(c echo.Context) error {
	a, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	if _, err := h.load(c); err != nil {
		return err
	}
	a, already, err := h.sched.CancelAppointment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperr.HTTP(err)
	}
	msg := cancelledMessage(a.ID)
	if already {
		msg = alreadyCancelledMessage(a.ID)
	}
	return c.JSON(http.StatusOK, appointmentResponse{Success: true, Message: msg, Appointment: a})
}

func (h *Handler) ValidateAppointment(c echo.Context) error {
	a, err := h.sched.ValidateAppointment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, appointmentResponse{Success: true, Message: validatedMessage(a.ID), Appointment: a})
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Statut invalide: %s", req.Status))
	}
	if _, err := h.load(c); err != nil {
		return err
	}

	a, err := h.sched.ChangeStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, appointmentResponse{Success: true, Message: statusMessage(a), Appointment: a})
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	a, err := h.sched.DeleteAppointment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, appointmentResponse{Success: true, Message: deletedMessage(a.ID)})
}

// -- Timeslots --

func (h *Handler) slotLength() time.Duration {
	if h.slots == nil {
		return time.Hour
	}
	return h.slots.SlotLength()
}

// slotRequest binds a SlotRequest for the :doctor_id the caller may manage.
func (h *Handler) slotRequest(c echo.Context) (string, SlotRequest, error) {
	var req SlotRequest
	doctorID := c.Param("doctor_id")
	if !auth.CanActFor(c.Request().Context(), doctorID) {
		return "", req, errForbidden
	}
	if err := c.Bind(&req); err != nil {
		return "", req, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return "", req, echo.NewHTTPError(http.StatusBadRequest, "Tous les champs sont requis")
	}
	if req.EndTime.IsZero() {
		req.EndTime = req.StartTime.Add(h.slotLength())
	}
	return doctorID, req, nil
}

func (h *Handler) AddAvailability(c echo.Context) error {
	doctorID, req, err := h.slotRequest(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	if req.Range {
		n, err := h.slots.AddAvailabilityRange(ctx, doctorID, req.StartTime, req.EndTime)
		if err != nil {
			return apperr.HTTP(err)
		}
		return c.JSON(http.StatusCreated, slotResponse{Success: true, Message: fmt.Sprintf("%d créneaux ajoutés", n), Count: n})
	}

	slot, err := h.slots.AddAvailability(ctx, doctorID, req.StartTime, req.EndTime)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, slotResponse{Success: true, Message: "Disponibilité ajoutée", Count: 1, Slot: slot})
}

func (h *Handler) BlockSlots(c echo.Context) error {
	doctorID, req, err := h.slotRequest(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	if req.Range {
		n, err := h.slots.BlockRange(ctx, doctorID, req.StartTime, req.EndTime)
		if err != nil {
			return apperr.HTTP(err)
		}
		return c.JSON(http.StatusOK, slotResponse{Success: true, Message: fmt.Sprintf("%d créneaux bloqués", n), Count: n})
	}

	if err := h.slots.Block(ctx, doctorID, req.StartTime); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, slotResponse{Success: true, Message: "Créneau bloqué", Count: 1})
}

func (h *Handler) UnblockSlot(c echo.Context) error {
	doctorID, req, err := h.slotRequest(c)
	if err != nil {
		return err
	}
	if err := h.slots.Unblock(c.Request().Context(), doctorID, req.StartTime); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, slotResponse{Success: true, Message: "Créneau débloqué", Count: 1})
}

func (h *Handler) GetAvailability(c echo.Context) error {
	h.slots.Reload(c.Request().Context())
	return c.JSON(http.StatusOK, h.slots.DoctorAvailability(c.Param("doctor_id")))
}

func (h *Handler) GetSchedule(c echo.Context) error {
	h.slots.Reload(c.Request().Context())
	return c.JSON(http.StatusOK, h.slots.DoctorSchedule(c.Param("doctor_id")))
}
