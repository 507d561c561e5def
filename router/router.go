// Package router turns inbound chat messages into calendar operations. Every
// message walks the same phase chain: dedup, bug capture, language gate,
// authentication, rate limit, command dispatch, flow dispatch, NLU dispatch.
// Any phase may short-circuit by answering the user.
package router

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoavra/yoman/auth"
	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/calendar/repository"
	"github.com/yoavra/yoman/calendar/service"
	"github.com/yoavra/yoman/config"
	"github.com/yoavra/yoman/hebrew/langdetect"
	"github.com/yoavra/yoman/infrastructure/ephemeral"
	"github.com/yoavra/yoman/nlu"
	"github.com/yoavra/yoman/pkg/clock"
	"github.com/yoavra/yoman/session"
	"github.com/yoavra/yoman/transport"
)

// Classifier is the NLU entry point the router depends on.
type Classifier interface {
	Analyze(ctx context.Context, prompt nlu.Prompt) (nlu.Decision, error)
}

// Deps wires the router. Shadow and Costs may be nil.
type Deps struct {
	Sessions   session.Store
	KV         ephemeral.KV
	Auth       *auth.Service
	Repo       *repository.CalendarGormRepository
	Users      *service.UserService
	Events     *service.EventService
	Reminders  *service.ReminderService
	Tasks      *service.TaskService
	Contacts   *service.ContactService
	Classifier Classifier
	Shadow     *nlu.ShadowLogger
	Costs      *nlu.CostAccountant
	Egress     transport.Egress
	Clock      clock.Clock
}

type Router struct {
	sessions   session.Store
	kv         ephemeral.KV
	auth       *auth.Service
	repo       *repository.CalendarGormRepository
	users      *service.UserService
	events     *service.EventService
	reminders  *service.ReminderService
	tasks      *service.TaskService
	contacts   *service.ContactService
	classifier Classifier
	shadow     *nlu.ShadowLogger
	costs      *nlu.CostAccountant
	egress     transport.Egress
	clock      clock.Clock
}

func New(d Deps) *Router {
	return &Router{
		sessions:   d.Sessions,
		kv:         d.KV,
		auth:       d.Auth,
		repo:       d.Repo,
		users:      d.Users,
		events:     d.Events,
		reminders:  d.Reminders,
		tasks:      d.Tasks,
		contacts:   d.Contacts,
		classifier: d.Classifier,
		shadow:     d.Shadow,
		costs:      d.Costs,
		egress:     d.Egress,
		clock:      d.Clock,
	}
}

// Handle processes one inbound message end to end. A failure anywhere sends a
// generic apology and resets the conversation; the message is never requeued.
func (r *Router) Handle(ctx context.Context, msg transport.Inbound) {
	ctx, cancel := context.WithTimeout(ctx, config.RouterBudget)
	defer cancel()

	phase, err := r.process(ctx, msg)
	if err == nil {
		return
	}
	logrus.WithError(err).WithFields(logrus.Fields{
		"sender":     msg.Sender,
		"message_id": msg.MessageID,
		"phase":      phase,
	}).Error("[ROUTER] message processing failed")

	// The budget context may already be dead; apologize on a fresh one.
	actx, acancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer acancel()

	lang := config.DefaultLanguage
	if sess, serr := r.sessions.Get(actx, msg.Sender); serr == nil && sess != nil {
		if sess.Language != "" {
			lang = sess.Language
		}
		sess.Reset()
		r.saveSession(actx, sess)
	}
	r.send(actx, msg.Sender, reply(lang, "generic_error"))
}

func (r *Router) process(ctx context.Context, msg transport.Inbound) (string, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return "ingress", nil
	}

	created, err := r.kv.SetNX(ctx, dedupKey(msg), "1", config.DedupTTL)
	if err != nil {
		return "dedup", err
	}
	if !created {
		logrus.WithField("message_id", msg.MessageID).Debug("[ROUTER] duplicate dropped")
		return "dedup", nil
	}

	if strings.HasPrefix(text, "#") {
		return "bug", r.captureBug(ctx, msg, text)
	}

	authed, err := r.auth.Authenticated(ctx, msg.Sender)
	if err != nil {
		return "auth", err
	}
	if !authed {
		return "auth", r.handleUnauthenticated(ctx, msg, text)
	}

	user, err := r.users.ByPhone(ctx, msg.Sender)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			// Stale auth key with no account behind it.
			_ = r.auth.Logout(ctx, msg.Sender)
			return "auth", nil
		}
		return "auth", err
	}
	_ = r.auth.Refresh(ctx, msg.Sender, user.ID)

	n, err := r.kv.Incr(ctx, "rate:"+user.ID, time.Minute)
	if err != nil {
		return "rate", err
	}
	if int(n) > config.RateLimitPerMinute {
		// Notify once per window, then stay quiet.
		if int(n) == config.RateLimitPerMinute+1 {
			r.send(ctx, msg.Sender, reply(user.Language, "throttled"))
		}
		return "rate", nil
	}

	sess, err := r.sessions.Get(ctx, msg.Sender)
	if err != nil {
		return "state", err
	}
	var flowExpired bool
	if sess == nil {
		sess = session.New(msg.Sender)
		if _, had, _ := r.kv.Get(ctx, orphanKey(msg.Sender)); had {
			flowExpired = true
		}
	}
	_ = r.kv.Delete(ctx, orphanKey(msg.Sender))
	sess.UserID = user.ID
	sess.Language = user.Language

	// A reply to one of our event cards scopes this message to that event.
	sess.QuotedEventID = ""
	if msg.QuotedID != "" {
		if id, ok, _ := r.kv.Get(ctx, quotedEventKey(msg.QuotedID)); ok {
			sess.QuotedEventID = id
		}
	}

	r.logMessage(ctx, user.ID, "in", text)
	sess.Remember("user", text, r.clock.Now())

	if flowExpired {
		r.say(ctx, sess, user, reply(user.Language, "flow_expired"))
	}

	var phase string
	switch {
	case strings.HasPrefix(text, "/"):
		phase, err = "command", r.dispatchCommand(ctx, sess, user, text)
	case sess.State != session.StateIdle:
		phase, err = "flow", r.advanceFlow(ctx, sess, user, text)
	default:
		phase, err = "nlu", r.dispatchNLU(ctx, sess, user, text)
	}
	if err != nil {
		return phase, err
	}
	r.saveSession(ctx, sess)
	return phase, nil
}

func dedupKey(msg transport.Inbound) string {
	return "dedup:" + msg.ConversationID + ":" + msg.MessageID
}

func orphanKey(phone string) string { return "flow:orphan:" + phone }

func quotedEventKey(messageID string) string { return "msg:event:" + messageID }

func (r *Router) captureBug(ctx context.Context, msg transport.Inbound, text string) error {
	entry := fmt.Sprintf("%s|%s|%s",
		msg.Sender,
		msg.ReceivedAt.UTC().Format(time.RFC3339),
		strings.TrimSpace(strings.TrimPrefix(text, "#")))
	if err := r.kv.ListPush(ctx, "bugs:pending", entry); err != nil {
		return err
	}
	// Silent acknowledgement, no reply.
	if err := r.egress.React(ctx, msg.Sender, msg.MessageID, "✅"); err != nil {
		logrus.WithError(err).Warn("[ROUTER] bug-report reaction failed")
	}
	return nil
}

var greetings = map[string]struct{}{
	"שלום": {}, "היי": {}, "הי": {}, "אהלן": {}, "בוקר טוב": {}, "ערב טוב": {},
	"hello": {}, "hi": {}, "hey": {}, "start": {}, "התחל": {},
}

func isGreeting(text string) bool {
	t := strings.ToLower(strings.Trim(text, " !?.,"))
	_, ok := greetings[t]
	return ok
}

var rePINShape = regexp.MustCompile(`^\d{4,8}$`)

// handleUnauthenticated drives the registration and login sub-machine. An
// unknown sender gets exactly one invitation, and only when they wrote in a
// language we recognize.
func (r *Router) handleUnauthenticated(ctx context.Context, msg transport.Inbound, text string) error {
	sess, err := r.sessions.Get(ctx, msg.Sender)
	if err != nil {
		return err
	}
	if sess != nil && (sess.State == session.StateAwaitingName || sess.State == session.StateAwaitingPIN) {
		if err := r.advanceAuthFlow(ctx, sess, text); err != nil {
			return err
		}
		r.saveSession(ctx, sess)
		return nil
	}

	registered, err := r.auth.Registered(ctx, msg.Sender)
	if err != nil {
		return err
	}
	if registered {
		if sess == nil {
			sess = session.New(msg.Sender)
		}
		if u, uerr := r.users.ByPhone(ctx, msg.Sender); uerr == nil {
			sess.Language = u.Language
		}
		sess.Transition(session.StateAwaitingPIN, map[string]string{"mode": "login"})
		if rePINShape.MatchString(strings.TrimSpace(text)) {
			// Likely the PIN itself, try it right away.
			if err := r.advanceAuthFlow(ctx, sess, text); err != nil {
				return err
			}
		} else {
			r.send(ctx, msg.Sender, reply(sess.Language, "enter_pin"))
		}
		r.saveSession(ctx, sess)
		return nil
	}

	lang := langdetect.Detect(text)
	switch {
	case isGreeting(text):
		sess = session.New(msg.Sender)
		if lang == langdetect.English {
			sess.Language = "en"
		}
		sess.Transition(session.StateAwaitingName, nil)
		r.send(ctx, msg.Sender, reply(sess.Language, "welcome_name"))
		r.saveSession(ctx, sess)
	case lang != langdetect.Hebrew && lang != langdetect.Gibberish:
		invited, err := r.kv.SetNX(ctx, "invite:"+msg.Sender, "1", 24*time.Hour)
		if err != nil {
			return err
		}
		if invited {
			r.send(ctx, msg.Sender, reply("en", "invite"))
		}
	default:
		// Unknown sender, unrecognizable text: stay silent.
	}
	return nil
}

func (r *Router) advanceAuthFlow(ctx context.Context, sess *session.Session, text string) error {
	switch sess.State {
	case session.StateAwaitingName:
		name := strings.TrimSpace(text)
		if utf8.RuneCountInString(name) < 2 {
			r.send(ctx, sess.Phone, reply(sess.Language, "invalid_name"))
			return nil
		}
		sess.Transition(session.StateAwaitingPIN, map[string]string{"mode": "register", "name": name})
		r.send(ctx, sess.Phone, reply(sess.Language, "choose_pin", name))
		return nil

	case session.StateAwaitingPIN:
		pin := strings.TrimSpace(text)
		if sess.Context["mode"] == "register" {
			user, err := r.auth.Register(ctx, sess.Phone, sess.Context["name"], pin)
			switch {
			case errors.Is(err, domain.ErrInvalidInput):
				r.send(ctx, sess.Phone, reply(sess.Language, "invalid_pin_format"))
			case errors.Is(err, domain.ErrDuplicatePhone):
				sess.Transition(session.StateAwaitingPIN, map[string]string{"mode": "login"})
				r.send(ctx, sess.Phone, reply(sess.Language, "enter_pin"))
			case err != nil:
				return err
			default:
				sess.UserID = user.ID
				sess.Language = user.Language
				sess.Reset()
				r.send(ctx, sess.Phone, reply(user.Language, "registered"))
			}
			return nil
		}

		user, err := r.auth.Login(ctx, sess.Phone, pin)
		switch {
		case errors.Is(err, domain.ErrLockedOut):
			sess.Reset()
			r.send(ctx, sess.Phone, reply(sess.Language, "locked_out"))
		case errors.Is(err, domain.ErrInvalidPIN), errors.Is(err, domain.ErrInvalidInput):
			r.send(ctx, sess.Phone, reply(sess.Language, "bad_pin"))
		case errors.Is(err, domain.ErrUserNotFound):
			sess.Reset()
		case err != nil:
			return err
		default:
			sess.UserID = user.ID
			sess.Language = user.Language
			sess.Reset()
			r.send(ctx, sess.Phone, reply(user.Language, "welcome_back", user.Name))
		}
		return nil
	}
	return nil
}

// send pushes one outbound text, logging failures instead of propagating
// them: a dead transport should not abort the whole pipeline.
func (r *Router) send(ctx context.Context, phone, text string) {
	if _, err := r.egress.SendText(ctx, phone, text); err != nil {
		logrus.WithError(err).WithField("recipient", phone).Warn("[ROUTER] send failed")
	}
}

// say is send plus bookkeeping for an authenticated user: the outbound line
// joins the message log and the model conversation window.
func (r *Router) say(ctx context.Context, sess *session.Session, user domain.User, text string) {
	r.send(ctx, sess.Phone, text)
	r.logMessage(ctx, user.ID, "out", text)
	sess.Remember("assistant", text, r.clock.Now())
}

// sayEvent is say plus a marker tying the outbound card's message id to the
// event, so a later reply to the card resolves back to it.
func (r *Router) sayEvent(ctx context.Context, sess *session.Session, user domain.User, text, eventID string) {
	id, err := r.egress.SendText(ctx, sess.Phone, text)
	if err != nil {
		logrus.WithError(err).WithField("recipient", sess.Phone).Warn("[ROUTER] send failed")
	} else if id != "" {
		_ = r.kv.Set(ctx, quotedEventKey(id), eventID, 72*time.Hour)
	}
	r.logMessage(ctx, user.ID, "out", text)
	sess.Remember("assistant", text, r.clock.Now())
}

func (r *Router) logMessage(ctx context.Context, userID, direction, text string) {
	err := r.repo.AppendMessageLog(ctx, domain.MessageLog{
		ID:        uuid.NewString(),
		UserID:    userID,
		Direction: direction,
		Text:      text,
		CreatedAt: r.clock.Now(),
	})
	if err != nil {
		logrus.WithError(err).Warn("[ROUTER] message log append failed")
	}
}

func (r *Router) saveSession(ctx context.Context, sess *session.Session) {
	if err := r.sessions.Save(ctx, sess, config.SessionTTL); err != nil {
		logrus.WithError(err).Warn("[ROUTER] session save failed")
	}
	// The orphan marker outlives the session so the next interaction can
	// mention that an in-flight flow timed out.
	if sess.State != session.StateIdle {
		_ = r.kv.Set(ctx, orphanKey(sess.Phone), "1", 24*time.Hour)
	} else {
		_ = r.kv.Delete(ctx, orphanKey(sess.Phone))
	}
}

// userLocation loads the user's zone, falling back to UTC.
func userLocation(user domain.User) *time.Location {
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}
