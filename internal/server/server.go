package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/labcompare/push-scheduler/internal/config"
	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/labcompare/push-scheduler/internal/service"
	"github.com/labcompare/push-scheduler/internal/storage"
	"go.uber.org/zap"
)

// Pinger checks the push provider for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups the use cases the handlers call into.
type Services struct {
	Notifications *service.NotificationService
	Journeys      *service.JourneyService
	Users         *service.UserService
	Logs          *service.DeliveryLogService
	Summary       *service.SummaryService
	Auth          *service.AuthService
}

// Server wires HTTP handlers.
type Server struct {
	app  *fiber.App
	svc  Services
	push Pinger
	cfg  *config.Config
	log  *zap.Logger
}

// New builds a server instance.
func New(cfg *config.Config, svc Services, push Pinger, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	app := fiber.New(fiber.Config{
		IdleTimeout:           cfg.HTTP.ReadTimeout,
		ReadTimeout:           cfg.HTTP.ReadTimeout,
		WriteTimeout:          cfg.HTTP.WriteTimeout,
		AppName:               "push-scheduler",
		DisableStartupMessage: true,
	})
	s := &Server{
		app:  app,
		svc:  svc,
		push: push,
		cfg:  cfg,
		log:  log.Named("http"),
	}
	s.registerRoutes()
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens and serves HTTP traffic.
func (s *Server) Start() error {
	s.log.Info("listening", zap.String("addr", s.cfg.HTTP.Addr))
	return s.app.Listen(s.cfg.HTTP.Addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	s.app.Use(recover.New())

	s.app.Get("/healthz", s.handleHealth)

	s.app.Post("/auth/login", s.handleLogin)
	s.app.Get("/auth/profile", s.handleProfile)

	api := s.app.Group("/api", s.requireAuth)

	notifications := api.Group("/notifications")
	notifications.Post("/", s.handleSchedule)
	notifications.Get("/", s.handleListNotifications)
	notifications.Post("/send", s.handleSendNow)
	notifications.Get("/:id", s.handleGetNotification)
	notifications.Post("/:id/cancel", s.handleCancel)

	journeys := api.Group("/journeys")
	journeys.Post("/", s.handleCreateJourney)
	journeys.Get("/", s.handleListJourneys)
	journeys.Get("/:id", s.handleGetJourney)
	journeys.Post("/:id/deactivate", s.handleDeactivateJourney)
	journeys.Post("/:id/activate", s.handleActivateJourney)

	users := api.Group("/users")
	users.Post("/", s.handleUpsertUser)
	users.Get("/", s.handleListUsers)
	users.Get("/:id", s.handleGetUser)

	logs := api.Group("/logs")
	logs.Get("/list", s.handleLogList)
	logs.Get("/count/date", s.handleLogCountDate)
	logs.Get("/count/status", s.handleLogCountStatus)
	logs.Get("/count/journey", s.handleLogCountJourney)

	admin := s.app.Group("/admin", s.requireAuth)
	admin.Get("/summary", s.handleAdminSummary)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{"status": "ok"}
	if s.push != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()
		if err := s.push.Ping(ctx); err != nil {
			resp["push"] = fiber.Map{"status": "degraded", "error": err.Error()}
		} else {
			resp["push"] = fiber.Map{"status": "up"}
		}
	}
	return c.Status(http.StatusOK).JSON(resp)
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	if !s.svc.Auth.Enabled() {
		return c.JSON(model.Success("login not required", fiber.Map{
			"token":    "",
			"enabled":  false,
			"username": "guest",
		}))
	}
	token, err := s.svc.Auth.Authenticate(req.Username, req.Password)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("login ok", fiber.Map{
		"token":    token,
		"enabled":  true,
		"username": s.svc.Auth.Username(),
	}))
}

func (s *Server) handleProfile(c *fiber.Ctx) error {
	if !s.svc.Auth.Enabled() {
		return c.JSON(model.Success("ok", fiber.Map{
			"enabled":  false,
			"username": "guest",
		}))
	}
	token := extractBearerToken(c.Get("Authorization"))
	if token == "" {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("not logged in"))
	}
	claims, err := s.svc.Auth.Validate(token)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("session expired"))
	}
	return c.JSON(model.Success("ok", fiber.Map{
		"enabled":  true,
		"username": claims.Username,
	}))
}

func (s *Server) handleSchedule(c *fiber.Ctx) error {
	var req service.ScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	n, err := s.svc.Notifications.Schedule(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(model.Success("scheduled", n))
}

func (s *Server) handleListNotifications(c *fiber.Ctx) error {
	filter := model.ScheduledFilter{
		Status:    model.Status(strings.ToLower(strings.TrimSpace(c.Query("status")))),
		JourneyID: c.Query("journeyId"),
		Limit:     c.QueryInt("limit", 0),
	}
	list, err := s.svc.Notifications.List(c.UserContext(), filter)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("ok", list))
}

func (s *Server) handleGetNotification(c *fiber.Ctx) error {
	n, err := s.svc.Notifications.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("ok", n))
}

func (s *Server) handleCancel(c *fiber.Ctx) error {
	n, err := s.svc.Notifications.Cancel(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("cancelled", n))
}

func (s *Server) handleSendNow(c *fiber.Ctx) error {
	var req model.NotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	key := strings.TrimSpace(c.Get("Idempotency-Key"))
	n, err := s.svc.Notifications.SendNow(c.UserContext(), key, req)
	if errors.Is(err, service.ErrNoRecipients) {
		return c.Status(http.StatusUnprocessableEntity).JSON(model.BasicResponse{
			Code: model.ErrorCode,
			Msg:  err.Error(),
			Data: n,
		})
	}
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("sent", n))
}

func (s *Server) handleCreateJourney(c *fiber.Ctx) error {
	var req service.JourneyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	j, err := s.svc.Journeys.Create(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(model.Success("journey created", j))
}

func (s *Server) handleListJourneys(c *fiber.Ctx) error {
	list, err := s.svc.Journeys.List(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("ok", list))
}

func (s *Server) handleGetJourney(c *fiber.Ctx) error {
	j, err := s.svc.Journeys.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("ok", j))
}

func (s *Server) handleDeactivateJourney(c *fiber.Ctx) error {
	cancelled, err := s.svc.Journeys.Deactivate(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("journey deactivated", fiber.Map{"cancelled": cancelled}))
}

func (s *Server) handleActivateJourney(c *fiber.Ctx) error {
	j, seeded, err := s.svc.Journeys.Activate(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("journey activated", fiber.Map{"journey": j, "seeded": seeded}))
}

func (s *Server) handleUpsertUser(c *fiber.Ctx) error {
	var req service.UserRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	view, err := s.svc.Users.Upsert(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("saved", view))
}

func (s *Server) handleListUsers(c *fiber.Ctx) error {
	views, err := s.svc.Users.List(c.UserContext(), c.Query("role"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("ok", views))
}

func (s *Server) handleGetUser(c *fiber.Ctx) error {
	view, err := s.svc.Users.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("ok", view))
}

func (s *Server) handleLogList(c *fiber.Ctx) error {
	page, err := s.svc.Logs.Query(c.UserContext(), parseLogFilter(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("ok", page))
}

func (s *Server) handleLogCountDate(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.svc.Logs.CountByDate(c.UserContext(), c.Query("dateType", "day"), begin, end)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("ok", data))
}

func (s *Server) handleLogCountStatus(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.svc.Logs.CountByStatus(c.UserContext(), begin, end)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("ok", data))
}

func (s *Server) handleLogCountJourney(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.svc.Logs.CountByJourney(c.UserContext(), begin, end)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success("ok", data))
}

func (s *Server) handleAdminSummary(c *fiber.Ctx) error {
	summary, err := s.svc.Summary.Summary(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	push := "unknown"
	if s.push != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()
		push = "up"
		if err := s.push.Ping(ctx); err != nil {
			push = "degraded"
		}
	}
	return c.JSON(model.Success("ok", fiber.Map{
		"push":    push,
		"summary": summary,
	}))
}

// fail maps service and storage errors onto HTTP statuses.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case service.IsConflict(err):
		status = http.StatusConflict
	case errors.Is(err, service.ErrNoRecipients):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(model.Error(err.Error()))
}

func parseLogFilter(c *fiber.Ctx) model.DeliveryLogFilter {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("pageSize", "10"))
	begin, end := parseTimeRange(c)
	return model.DeliveryLogFilter{
		NotificationID: c.Query("notificationId"),
		JourneyID:      c.Query("journeyId"),
		UserID:         c.Query("userId"),
		Status:         c.Query("status"),
		BeginTime:      begin,
		EndTime:        end,
		Page:           page,
		PageSize:       pageSize,
	}
}

func parseTimeRange(c *fiber.Ctx) (*time.Time, *time.Time) {
	begin := parseTime(c.Query("beginTime"))
	end := parseTime(c.Query("endTime"))
	return begin, end
}

func parseTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}

func (s *Server) requireAuth(c *fiber.Ctx) error {
	if !s.svc.Auth.Enabled() {
		return c.Next()
	}
	token := extractBearerToken(c.Get("Authorization"))
	if token == "" {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("not logged in"))
	}
	claims, err := s.svc.Auth.Validate(token)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("session expired"))
	}
	c.Locals("username", claims.Username)
	return c.Next()
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
