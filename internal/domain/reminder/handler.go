package reminder

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/mail"
	"github.com/clinic/clinic/internal/platform/validation"
)

// Configurer is the SMTP sender whose account can change at runtime.
type Configurer interface {
	Configure(settings mail.Settings)
	Settings() mail.Settings
}

type Handler struct {
	d        *Dispatcher
	smtp     Configurer
	saved    *mail.SettingsStore
	validate *validator.Validate
}

func NewHandler(d *Dispatcher, smtp Configurer, saved *mail.SettingsStore, validate *validator.Validate) *Handler {
	if validate == nil {
		validate = validation.New()
	}
	return &Handler{d: d, smtp: smtp, saved: saved, validate: validate}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleSecretary))
	g.POST("/reminders/tomorrow", h.SendTomorrow)
	g.PUT("/mail/config", h.Configure)
	g.POST("/mail/test", h.SendTest)
}

type configRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Host     string `json:"host"`
	Port     int    `json:"port" validate:"omitempty,min=1,max=65535"`
}

type testRequest struct {
	To string `json:"to" validate:"required,email"`
}

type result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *Handler) SendTomorrow(c echo.Context) error {
	summary := h.d.SendTomorrowReminders(c.Request().Context())
	status := http.StatusOK
	if !summary.Success {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, summary)
}

// Configure replaces the sending account and saves it so that the next
// start picks it up when the environment carries no credentials.
func (h *Handler) Configure(c echo.Context) error {
	var req configRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Email et mot de passe requis")
	}

	h.smtp.Configure(mail.Settings{Host: req.Host, Port: req.Port, Username: req.Email, Password: req.Password})
	if h.saved != nil {
		if err := h.saved.Save(c.Request().Context(), h.smtp.Settings()); err != nil {
			return apperr.HTTP(apperr.Persistence(err, "Erreur lors de l'enregistrement de la configuration email"))
		}
	}
	return c.JSON(http.StatusOK, result{Success: true, Message: "Configuration email enregistrée"})
}

func (h *Handler) SendTest(c echo.Context) error {
	var req testRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Adresse email invalide")
	}
	if !h.d.SendTestEmail(c.Request().Context(), req.To) {
		return echo.NewHTTPError(http.StatusBadGateway, "Échec de l'envoi de l'email de test")
	}
	return c.JSON(http.StatusOK, result{Success: true, Message: fmt.Sprintf("Email de test envoyé à %s", req.To)})
}
