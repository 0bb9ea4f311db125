package notification

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

// Handler exposes the notification inbox over HTTP.
type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.List)
	g.GET("/notifications/unread-count", h.UnreadCount)
	g.POST("/notifications/:id/read", h.MarkRead)
	g.POST("/notifications/:id/sent", h.MarkSent)
	g.DELETE("/notifications/:id", h.Delete)
}

// targetUser resolves ?user_id, defaulting to the caller. Only staff may
// read another user's inbox.
func targetUser(c echo.Context) (string, error) {
	ctx := c.Request().Context()
	userID := c.QueryParam("user_id")
	if userID == "" {
		userID = auth.UserIDFromContext(ctx)
	}
	if userID == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	if !auth.CanActFor(ctx, userID) {
		return "", echo.NewHTTPError(http.StatusForbidden, "access denied")
	}
	return userID, nil
}

// owned loads a notification and checks the caller may touch it.
func (h *Handler) owned(c echo.Context) (*Notification, error) {
	n, err := h.store.Get(c.Param("id"))
	if err != nil {
		return nil, apperr.HTTP(err)
	}
	if !auth.CanActFor(c.Request().Context(), n.UserID) {
		return nil, echo.NewHTTPError(http.StatusForbidden, "access denied")
	}
	return n, nil
}

func (h *Handler) List(c echo.Context) error {
	userID, err := targetUser(c)
	if err != nil {
		return err
	}
	status := Status(c.QueryParam("status"))
	if status != "" && !status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	h.store.Reload(c.Request().Context())
	items := h.store.ListForUser(userID, status)
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)))
}

func (h *Handler) UnreadCount(c echo.Context) error {
	userID, err := targetUser(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"unread":  h.store.UnreadCount(userID),
	})
}

func (h *Handler) MarkRead(c echo.Context) error {
	n, err := h.owned(c)
	if err != nil {
		return err
	}
	if err := h.store.MarkRead(c.Request().Context(), n.ID); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkSent(c echo.Context) error {
	n, err := h.owned(c)
	if err != nil {
		return err
	}
	if err := h.store.MarkSent(c.Request().Context(), n.ID); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Delete(c echo.Context) error {
	n, err := h.owned(c)
	if err != nil {
		return err
	}
	if err := h.store.Delete(c.Request().Context(), n.ID); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
