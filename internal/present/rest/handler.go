package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/totegamma/examwatch/internal/domain"
	"github.com/totegamma/examwatch/internal/present/rest/middleware"
	"github.com/totegamma/examwatch/internal/present/rest/presenter"
	"github.com/totegamma/examwatch/internal/usecase"
)

type ActivityService interface {
	RegisterSeenMany(ctx context.Context, ips []string, at time.Time) (int, error)
	Stats(ctx context.Context, window domain.Window) ([]domain.IPStat, error)
}

type ForensicsService interface {
	Report(ctx context.Context, window domain.Window) (domain.ForensicsReport, error)
}

type IdentityService interface {
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	SearchUsersByEmailPrefix(ctx context.Context, prefix string) ([]domain.User, error)
}

type RegistrationService interface {
	CheckIn(ctx context.Context, ip, email string) (usecase.CheckInResult, error)
	CurrentUserForIP(ctx context.Context, ip string) (domain.User, error)
}

type RealtimeService interface {
	Realtime(ctx context.Context, output chan<- domain.ActivityEvent) error
}

type Handler struct {
	activity       ActivityService
	forensics      ForensicsService
	identity       IdentityService
	registration   RegistrationService
	signal         RealtimeService
	directoryState func() string
}

func NewHandler(
	activity ActivityService,
	forensics ForensicsService,
	identity IdentityService,
	registration RegistrationService,
	signal RealtimeService,
	directoryState func() string,
) *Handler {
	return &Handler{
		activity:       activity,
		forensics:      forensics,
		identity:       identity,
		registration:   registration,
		signal:         signal,
		directoryState: directoryState,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api/v1", middleware.RemoteIP)
	api.POST("/sightings", h.handleSightings)
	api.GET("/sightings/stats", h.handleStats)
	api.GET("/forensics", h.handleForensics)
	api.GET("/users/search", h.handleUserSearch)
	api.GET("/users/lookup", h.handleUserLookup)
	api.POST("/checkin", h.handleCheckIn)
	api.GET("/whoami", h.handleWhoami)

	e.GET("/realtime", h.handleRealtime)
	e.GET("/healthz", h.handleHealth)
}

// respond maps the error taxonomy onto status codes.
func respond(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return presenter.BadRequest(c, err)
	case errors.Is(err, domain.ErrNotFound):
		return presenter.NotFound(c, err.Error())
	case domain.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		return presenter.Unavailable(c, err)
	default:
		return presenter.InternalError(c, err)
	}
}

func parseWindow(c echo.Context) (domain.Window, error) {
	var w domain.Window

	start := c.QueryParam("start")
	if start == "" {
		return w, domain.InvalidInput("start is required")
	}
	t, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return w, domain.InvalidInput("start must be RFC3339")
	}
	w.Start = t

	if end := c.QueryParam("end"); end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return w, domain.InvalidInput("end must be RFC3339")
		}
		w.End = t
	}
	return w, nil
}

type sightingsRequest struct {
	IP  string     `json:"ip"`
	IPs []string   `json:"ips"`
	At  *time.Time `json:"at"`
}

func (h *Handler) handleSightings(c echo.Context) error {
	ctx := c.Request().Context()

	var req sightingsRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequestMessage(c, "invalid body")
	}
	ips := req.IPs
	if req.IP != "" {
		ips = append(ips, req.IP)
	}
	var at time.Time
	if req.At != nil {
		at = *req.At
	}

	n, err := h.activity.RegisterSeenMany(ctx, ips, at)
	if err != nil {
		return respond(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok", "recorded": n})
}

func (h *Handler) handleStats(c echo.Context) error {
	ctx := c.Request().Context()

	window, err := parseWindow(c)
	if err != nil {
		return respond(c, err)
	}
	stats, err := h.activity.Stats(ctx, window)
	if err != nil {
		return respond(c, err)
	}
	return presenter.OK(c, stats)
}

func (h *Handler) handleForensics(c echo.Context) error {
	ctx := c.Request().Context()

	window, err := parseWindow(c)
	if err != nil {
		return respond(c, err)
	}
	report, err := h.forensics.Report(ctx, window)
	if err != nil {
		return respond(c, err)
	}
	return presenter.OK(c, report)
}

func (h *Handler) handleUserSearch(c echo.Context) error {
	ctx := c.Request().Context()

	users, err := h.identity.SearchUsersByEmailPrefix(ctx, c.QueryParam("prefix"))
	if err != nil {
		return respond(c, err)
	}
	return presenter.OK(c, users)
}

func (h *Handler) handleUserLookup(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := h.identity.GetUserByEmail(ctx, c.QueryParam("email"))
	if err != nil {
		return respond(c, err)
	}
	return presenter.OK(c, user)
}

type checkInRequest struct {
	Email string `json:"email"`
}

func (h *Handler) handleCheckIn(c echo.Context) error {
	ctx := c.Request().Context()

	var req checkInRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequestMessage(c, "invalid body")
	}

	result, err := h.registration.CheckIn(ctx, middleware.ClientIP(c), req.Email)
	if err != nil {
		return respond(c, err)
	}
	return presenter.OK(c, result)
}

func (h *Handler) handleWhoami(c echo.Context) error {
	ctx := c.Request().Context()

	ip := middleware.ClientIP(c)
	user, err := h.registration.CurrentUserForIP(ctx, ip)
	if err != nil {
		return respond(c, err)
	}
	return presenter.OK(c, echo.Map{"ip": ip, "user": user})
}

func (h *Handler) handleHealth(c echo.Context) error {
	state := "unknown"
	if h.directoryState != nil {
		state = h.directoryState()
	}
	return presenter.OK(c, echo.Map{"status": "ok", "directory": state})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Request struct {
	Type string `json:"type"`
}

// handleRealtime pushes activity events to the admin page. Clients may send
// {"type":"h"} heartbeats; anything else is ignored.
func (h *Handler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Str("module", "socket").Msg("failed to upgrade websocket")
		return err
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	output := make(chan domain.ActivityEvent)
	go func() {
		err := h.signal.Realtime(ctx, output)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("module", "socket").Msg("realtime subscription ended")
		}
		cancel()
	}()

	go func() {
		defer cancel()
		for {
			var req Request
			err := ws.ReadJSON(&req)
			if err != nil {
				var wsErr *websocket.CloseError
				if errors.As(err, &wsErr) {
					if wsErr.Code != websocket.CloseNormalClosure && wsErr.Code != websocket.CloseGoingAway {
						log.Debug().Err(wsErr).Str("module", "socket").Msg("websocket closed")
					}
				} else {
					log.Debug().Err(err).Str("module", "socket").Msg("error reading message")
				}
				return
			}

			switch req.Type {
			case "h": // heartbeat
			default:
				log.Debug().Str("module", "socket").Str("type", req.Type).Msg("unknown request type")
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-output:
			if err := ws.WriteJSON(event); err != nil {
				log.Debug().Err(err).Str("module", "socket").Msg("error writing message")
				return nil
			}
		}
	}
}
