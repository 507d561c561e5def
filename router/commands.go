package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/config"
	"github.com/yoavra/yoman/session"
)

// dispatchCommand handles the reserved "/" surface. Commands reset the
// conversation state, except /cancel which only aborts the flow in progress.
func (r *Router) dispatchCommand(ctx context.Context, sess *session.Session, user domain.User, text string) error {
	cmd := strings.ToLower(strings.Fields(text)[0])
	switch cmd {
	case "/menu":
		sess.Reset()
		r.say(ctx, sess, user, reply(user.Language, "menu"))

	case "/cancel":
		if sess.State == session.StateIdle {
			r.say(ctx, sess, user, reply(user.Language, "nothing_to_cancel"))
			return nil
		}
		sess.Reset()
		r.say(ctx, sess, user, reply(user.Language, "cancelled_flow"))

	case "/help":
		sess.Reset()
		r.say(ctx, sess, user, reply(user.Language, "help"))

	case "/logout":
		sess.Reset()
		if err := r.auth.Logout(ctx, sess.Phone); err != nil {
			return err
		}
		r.say(ctx, sess, user, reply(user.Language, "logged_out"))

	case "/stats":
		sess.Reset()
		if config.OperatorPhone == "" || user.Phone != config.OperatorPhone {
			r.say(ctx, sess, user, reply(user.Language, "stats_denied"))
			return nil
		}
		return r.sendStats(ctx, sess, user)

	default:
		r.say(ctx, sess, user, reply(user.Language, "unknown_command"))
	}
	return nil
}

func (r *Router) sendStats(ctx context.Context, sess *session.Session, user domain.User) error {
	var spend float64
	if r.costs != nil {
		s, err := r.costs.MonthToDateUSD(ctx)
		if err != nil {
			return err
		}
		spend = s
	}
	bugs, err := r.kv.ListAll(ctx, "bugs:pending")
	if err != nil {
		return err
	}
	r.say(ctx, sess, user, fmt.Sprintf("הוצאות מודלים החודש: $%.2f\nדיווחי באגים פתוחים: %d", spend, len(bugs)))
	return nil
}
