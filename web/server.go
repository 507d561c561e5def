// Package web serves the token-gated dashboard and operational endpoints.
// Dashboard links are minted in chat; the token is single-user, short-lived
// and lives only in the ephemeral store.
package web

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/yoavra/yoman/calendar/repository"
	"github.com/yoavra/yoman/calendar/service"
	"github.com/yoavra/yoman/config"
	"github.com/yoavra/yoman/infrastructure/ephemeral"
	"github.com/yoavra/yoman/pkg/clock"
	"github.com/yoavra/yoman/pkg/msgworker"
)

type ResponseData struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}

type Server struct {
	app       *fiber.App
	repo      *repository.CalendarGormRepository
	kv        ephemeral.KV
	events    *service.EventService
	reminders *service.ReminderService
	tasks     *service.TaskService
	workers   *msgworker.Pool
	clock     clock.Clock
}

func NewServer(
	repo *repository.CalendarGormRepository,
	kv ephemeral.KV,
	events *service.EventService,
	reminders *service.ReminderService,
	tasks *service.TaskService,
	workers *msgworker.Pool,
	clk clock.Clock,
) *Server {
	s := &Server{
		app:       fiber.New(fiber.Config{DisableStartupMessage: true}),
		repo:      repo,
		kv:        kv,
		events:    events,
		reminders: reminders,
		tasks:     tasks,
		workers:   workers,
		clock:     clk,
	}
	s.app.Get("/health", s.health)
	s.app.Get("/dashboard/:token", s.dashboard)
	s.app.Get("/api/workers/stats", s.workerStats)
	return s
}

// Listen blocks until the server stops.
func (s *Server) Listen(addr string) error {
	logrus.Infof("[WEB] Listening on %s", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "OK",
		Results: fiber.Map{"version": config.AppVersion},
	})
}

func (s *Server) workerStats(c *fiber.Ctx) error {
	if s.workers == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ResponseData{
			Status: 503, Code: "UNAVAILABLE", Message: "Worker pool not running",
		})
	}
	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Worker pool stats",
		Results: s.workers.GetStats(),
	})
}

type dashboardEvent struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Start        string   `json:"start"`
	End          string   `json:"end,omitempty"`
	Location     string   `json:"location,omitempty"`
	Recurring    bool     `json:"recurring"`
	Participants []string `json:"participants,omitempty"`
	Comments     []string `json:"comments,omitempty"`
}

type dashboardReminder struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Due   string `json:"due"`
}

type dashboardTask struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Due   string `json:"due,omitempty"`
}

type dashboardPayload struct {
	Name      string              `json:"name"`
	Timezone  string              `json:"timezone"`
	From      string              `json:"from"`
	To        string              `json:"to"`
	Events    []dashboardEvent    `json:"events"`
	Reminders []dashboardReminder `json:"reminders"`
	Tasks     []dashboardTask     `json:"tasks"`
}

// dashboard resolves the ephemeral token and renders the coming week. An
// unknown or expired token is a 404, not a 403, so the URL leaks nothing
// about whether it ever existed.
func (s *Server) dashboard(c *fiber.Ctx) error {
	token := c.Params("token")
	userID, ok, err := s.kv.Get(c.UserContext(), "dashboard:token:"+token)
	if err != nil {
		logrus.WithError(err).Error("[WEB] token lookup failed")
		return c.Status(fiber.StatusInternalServerError).JSON(ResponseData{
			Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: "Lookup failed",
		})
	}
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(ResponseData{
			Status: 404, Code: "NOT_FOUND", Message: "Unknown or expired link",
		})
	}

	user, err := s.repo.GetUserByID(c.UserContext(), userID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(ResponseData{
			Status: 404, Code: "NOT_FOUND", Message: "Unknown or expired link",
		})
	}

	loc, lerr := time.LoadLocation(user.Timezone)
	if lerr != nil || loc == nil {
		loc = time.UTC
	}
	now := s.clock.Now()
	lt := now.In(loc)
	from := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc).UTC()
	to := from.Add(7 * 24 * time.Hour)

	occ, err := s.events.Agenda(c.UserContext(), user, from, to)
	if err != nil {
		logrus.WithError(err).Error("[WEB] agenda failed")
		return c.Status(fiber.StatusInternalServerError).JSON(ResponseData{
			Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: "Agenda failed",
		})
	}
	reminders, err := s.reminders.List(c.UserContext(), user)
	if err != nil {
		logrus.WithError(err).Error("[WEB] reminders failed")
		return c.Status(fiber.StatusInternalServerError).JSON(ResponseData{
			Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: "Reminders failed",
		})
	}
	tasks, err := s.tasks.List(c.UserContext(), user, true)
	if err != nil {
		logrus.WithError(err).Error("[WEB] tasks failed")
		return c.Status(fiber.StatusInternalServerError).JSON(ResponseData{
			Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: "Tasks failed",
		})
	}

	payload := dashboardPayload{
		Name:      user.Name,
		Timezone:  user.Timezone,
		From:      from.In(loc).Format(time.RFC3339),
		To:        to.In(loc).Format(time.RFC3339),
		Events:    make([]dashboardEvent, 0, len(occ)),
		Reminders: make([]dashboardReminder, 0, len(reminders)),
		Tasks:     make([]dashboardTask, 0, len(tasks)),
	}
	for _, o := range occ {
		ev := dashboardEvent{
			ID:        o.Event.ID,
			Title:     o.Event.Title,
			Start:     o.StartUTC.In(loc).Format(time.RFC3339),
			Location:  o.Event.Location,
			Recurring: o.Event.RecurrenceRule != "",
		}
		if o.EndUTC != nil {
			ev.End = o.EndUTC.In(loc).Format(time.RFC3339)
		}
		for _, p := range o.Event.Participants {
			ev.Participants = append(ev.Participants, p.Name)
		}
		comments, cerr := s.repo.ListComments(c.UserContext(), o.Event.ID)
		if cerr == nil {
			for _, cm := range comments {
				ev.Comments = append(ev.Comments, cm.Text)
			}
		}
		payload.Events = append(payload.Events, ev)
	}
	for _, r := range reminders {
		payload.Reminders = append(payload.Reminders, dashboardReminder{
			ID:    r.ID,
			Title: r.Title,
			Due:   r.DueUTC.In(loc).Format(time.RFC3339),
		})
	}
	for _, t := range tasks {
		dt := dashboardTask{ID: t.ID, Title: t.Title}
		if t.DueUTC != nil {
			dt.Due = t.DueUTC.In(loc).Format(time.RFC3339)
		}
		payload.Tasks = append(payload.Tasks, dt)
	}

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Dashboard",
		Results: payload,
	})
}
