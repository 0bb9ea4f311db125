package identity

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	dir *Directory
	jwt auth.JWTConfig
	now func() time.Time
}

func NewHandler(dir *Directory, jwt auth.JWTConfig) *Handler {
	return &Handler{dir: dir, jwt: jwt, now: time.Now}
}

// RegisterRoutes mounts the public auth endpoints on public and the user
// management endpoints on api.
func (h *Handler) RegisterRoutes(public *echo.Group, api *echo.Group) {
	public.POST("/auth/register", h.Register)
	public.POST("/auth/login", h.Login)

	readGroup := api.Group("", auth.RequireRole(auth.RoleSecretary, auth.RoleDoctor))
	readGroup.GET("/users", h.ListUsers)
	readGroup.GET("/users/:id", h.GetUser)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleSecretary))
	writeGroup.DELETE("/users/:id", h.DeleteUser)
}

type loginResponse struct {
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	User      User       `json:"user"`
	RoleID    string     `json:"role_id"`
}

func (h *Handler) Register(c echo.Context) error {
	var req Registration
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.dir.Register(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, u.Redacted())
}

func (h *Handler) Login(c echo.Context) error {
	var req Credentials
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.dir.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Email et mot de passe requis")
	}

	u, err := h.dir.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	resp := loginResponse{User: u.Redacted(), RoleID: u.RoleID()}
	token, expires, err := auth.IssueToken(h.jwt, u.RoleID(), u.ID, []string{u.Role.AuthRole()}, h.now())
	switch {
	case err == nil:
		resp.Token = token
		resp.ExpiresAt = &expires
	case errors.Is(err, auth.ErrNoSigningKey):
		// development: identity travels in X-User-ID / X-User-Role
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListUsers(c echo.Context) error {
	var role Role
	if q := c.QueryParam("role"); q != "" {
		r, ok := ParseRole(q)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid role")
		}
		role = r
	}

	h.dir.Reload(c.Request().Context())
	users := h.dir.List(role)
	for i := range users {
		users[i] = users[i].Redacted()
	}
	return c.JSON(http.StatusOK, pagination.Page(users, pagination.FromContext(c)))
}

func (h *Handler) GetUser(c echo.Context) error {
	u := h.dir.Lookup(c.Request().Context(), c.Param("id"))
	if u == nil {
		return echo.NewHTTPError(http.StatusNotFound, "Utilisateur non trouvé")
	}
	return c.JSON(http.StatusOK, u.Redacted())
}

func (h *Handler) DeleteUser(c echo.Context) error {
	if err := h.dir.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
