package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yoavra/yoman/auth"
	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/calendar/repository"
	"github.com/yoavra/yoman/calendar/service"
	"github.com/yoavra/yoman/config"
	"github.com/yoavra/yoman/infrastructure/ephemeral"
	"github.com/yoavra/yoman/nlu"
	"github.com/yoavra/yoman/pkg/clock"
	"github.com/yoavra/yoman/session"
	"github.com/yoavra/yoman/transport"
)

type sentMessage struct {
	ID        string
	Recipient string
	Text      string
}

type fakeEgress struct {
	mu        sync.Mutex
	sent      []sentMessage
	reactions []string
}

func (f *fakeEgress) SendText(_ context.Context, recipient, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.sent = append(f.sent, sentMessage{ID: id, Recipient: recipient, Text: text})
	return id, nil
}

func (f *fakeEgress) React(_ context.Context, _, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, messageID+":"+emoji)
	return nil
}

func (f *fakeEgress) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].Text
}

func (f *fakeEgress) lastID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].ID
}

func (f *fakeEgress) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeClassifier struct {
	decision nlu.Decision
	err      error
}

func (f *fakeClassifier) Analyze(_ context.Context, _ nlu.Prompt) (nlu.Decision, error) {
	return f.decision, f.err
}

func agreed(intent nlu.Intent, e nlu.Entities) nlu.Decision {
	return nlu.Decision{
		Result:    nlu.Result{Intent: intent, Confidence: 0.95, Entities: e},
		Agreement: 3,
	}
}

var testNow = time.Date(2025, 10, 10, 7, 0, 0, 0, time.UTC)

const testPhone = "972501234567"

type fixture struct {
	router     *Router
	egress     *fakeEgress
	classifier *fakeClassifier
	kv         *ephemeral.MemoryKV
	sessions   session.Store
	repo       *repository.CalendarGormRepository
	db         *gorm.DB
	auth       *auth.Service
	user       domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	repo := repository.NewCalendarGormRepository(db)
	require.NoError(t, repo.Init(context.Background()))

	kv := ephemeral.NewMemoryKV()
	clk := clock.Fixed{Instant: testNow}
	egress := &fakeEgress{}
	classifier := &fakeClassifier{decision: agreed(nlu.IntentSmallTalk, nlu.Entities{})}
	sessions := session.NewMemoryStore()

	f := &fixture{
		egress:     egress,
		classifier: classifier,
		kv:         kv,
		sessions:   sessions,
		repo:       repo,
		db:         db,
		auth:       auth.NewService(repo, kv, clk),
	}
	f.router = New(Deps{
		Sessions:   sessions,
		KV:         kv,
		Auth:       f.auth,
		Repo:       repo,
		Users:      service.NewUserService(repo, clk),
		Events:     service.NewEventService(repo, clk),
		Reminders:  service.NewReminderService(repo, clk),
		Tasks:      service.NewTaskService(repo, clk),
		Contacts:   service.NewContactService(repo, clk),
		Classifier: classifier,
		Egress:     egress,
		Clock:      clk,
	})
	return f
}

// login registers and authenticates the test user.
func (f *fixture) login(t *testing.T) {
	t.Helper()
	u, err := f.auth.Register(context.Background(), testPhone, "יואב", "1234")
	require.NoError(t, err)
	f.user = u
}

func inbound(text string) transport.Inbound {
	return transport.Inbound{
		ConversationID: testPhone,
		Sender:         testPhone,
		Text:           text,
		MessageID:      uuid.NewString(),
		ReceivedAt:     testNow,
	}
}

func TestRouter_DedupDropsRepeat(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	msg := inbound("מה יש לי השבוע?")
	f.router.Handle(context.Background(), msg)
	first := f.egress.count()
	require.Greater(t, first, 0)

	f.router.Handle(context.Background(), msg)
	assert.Equal(t, first, f.egress.count())
}

func TestRouter_BugReportReactsSilently(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.router.Handle(context.Background(), inbound("# הבוט לא הבין אותי"))
	assert.Zero(t, f.egress.count())
	require.Len(t, f.egress.reactions, 1)
	assert.True(t, strings.HasSuffix(f.egress.reactions[0], ":✅"))

	bugs, err := f.kv.ListAll(context.Background(), "bugs:pending")
	require.NoError(t, err)
	require.Len(t, bugs, 1)
	assert.Contains(t, bugs[0], "הבוט לא הבין אותי")
}

func TestRouter_RegistrationFlow(t *testing.T) {
	f := newFixture(t)

	f.router.Handle(context.Background(), inbound("שלום"))
	assert.Contains(t, f.egress.lastText(), "איך קוראים לך")

	f.router.Handle(context.Background(), inbound("יואב"))
	assert.Contains(t, f.egress.lastText(), "קוד סודי")

	f.router.Handle(context.Background(), inbound("123"))
	assert.Contains(t, f.egress.lastText(), "4-8 ספרות")

	f.router.Handle(context.Background(), inbound("123456"))
	assert.Contains(t, f.egress.lastText(), "נרשמת בהצלחה")

	ok, err := f.auth.Authenticated(context.Background(), testPhone)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRouter_SilentForUnknownHebrewNonGreeting(t *testing.T) {
	f := newFixture(t)
	f.router.Handle(context.Background(), inbound("תקבע לי פגישה מחר"))
	assert.Zero(t, f.egress.count())
}

func TestRouter_InvitesEnglishStrangerOnce(t *testing.T) {
	f := newFixture(t)
	f.router.Handle(context.Background(), inbound("what is this number?"))
	require.Equal(t, 1, f.egress.count())
	assert.Contains(t, f.egress.lastText(), "register")

	f.router.Handle(context.Background(), inbound("anyone there?"))
	assert.Equal(t, 1, f.egress.count())
}

func TestRouter_LoginAfterLogout(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.router.Handle(context.Background(), inbound("/logout"))
	assert.Contains(t, f.egress.lastText(), "התנתקת")

	// Any message now prompts for the PIN; the PIN itself logs in.
	f.router.Handle(context.Background(), inbound("מה יש לי היום?"))
	assert.Contains(t, f.egress.lastText(), "הקוד הסודי")

	f.router.Handle(context.Background(), inbound("1234"))
	assert.Contains(t, f.egress.lastText(), "טוב לראות אותך")
}

func TestRouter_CreateEventEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.classifier.decision = agreed(nlu.IntentCreateEvent, nlu.Entities{
		Title:    "פגישה עם דנה",
		DateText: "מחר",
		TimeText: "ב-10",
		Person:   "דנה",
	})

	f.router.Handle(context.Background(), inbound("קבע פגישה עם דנה מחר בעשר"))
	assert.Contains(t, f.egress.lastText(), "נקבע")
	assert.Contains(t, f.egress.lastText(), "פגישה עם דנה")

	events, err := f.repo.ListActiveEvents(context.Background(), f.user.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	// 10:00 IDT is 07:00 UTC, the next day.
	assert.Equal(t, testNow.Add(24*time.Hour), events[0].StartUTC)
	require.Len(t, events[0].Participants, 1)
	assert.Equal(t, "דנה", events[0].Participants[0].Name)

	// The unknown participant was learned as a contact.
	contacts, err := f.repo.ListContacts(context.Background(), f.user.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "דנה", contacts[0].Name)
}

func TestRouter_CreateEventAsksForMissingTime(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.classifier.decision = agreed(nlu.IntentCreateEvent, nlu.Entities{
		Title:    "תור לרופא",
		DateText: "מחר",
	})

	f.router.Handle(context.Background(), inbound("קבע תור לרופא מחר"))
	assert.Contains(t, f.egress.lastText(), "באיזו שעה")

	f.router.Handle(context.Background(), inbound("14:30"))
	assert.Contains(t, f.egress.lastText(), "נקבע")

	events, err := f.repo.ListActiveEvents(context.Background(), f.user.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	// 14:30 IDT is 11:30 UTC.
	assert.Equal(t, time.Date(2025, 10, 11, 11, 30, 0, 0, time.UTC), events[0].StartUTC)
}

func TestRouter_CreateEventAsksForMissingTitle(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.classifier.decision = agreed(nlu.IntentCreateEvent, nlu.Entities{
		DateText: "מחר",
		TimeText: "ב-10",
	})

	f.router.Handle(context.Background(), inbound("קבע משהו מחר בעשר"))
	assert.Contains(t, f.egress.lastText(), "מה השם")

	f.router.Handle(context.Background(), inbound("ישיבת צוות"))
	assert.Contains(t, f.egress.lastText(), "נקבע")
	assert.Contains(t, f.egress.lastText(), "ישיבת צוות")
}

func TestRouter_CancelEventNeedsConfirmation(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	clk := clock.Fixed{Instant: testNow}
	events := service.NewEventService(f.repo, clk)
	_, err := events.Create(context.Background(), service.CreateEventRequest{
		User: f.user, Title: "תור לרופא שיניים", StartUTC: testNow.Add(48 * time.Hour),
	})
	require.NoError(t, err)

	f.classifier.decision = agreed(nlu.IntentCancelEvent, nlu.Entities{Query: "רופא שיניים"})
	f.router.Handle(context.Background(), inbound("בטל את התור לרופא שיניים"))
	assert.Contains(t, f.egress.lastText(), "לבטל את")

	f.router.Handle(context.Background(), inbound("כן"))
	assert.Contains(t, f.egress.lastText(), "ביטלתי")

	active, err := f.repo.ListActiveEvents(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRouter_CancelDeclined(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	clk := clock.Fixed{Instant: testNow}
	events := service.NewEventService(f.repo, clk)
	_, err := events.Create(context.Background(), service.CreateEventRequest{
		User: f.user, Title: "יוגה", StartUTC: testNow.Add(48 * time.Hour),
	})
	require.NoError(t, err)

	f.classifier.decision = agreed(nlu.IntentCancelEvent, nlu.Entities{Query: "יוגה"})
	f.router.Handle(context.Background(), inbound("בטל את היוגה"))
	f.router.Handle(context.Background(), inbound("לא"))
	assert.Contains(t, f.egress.lastText(), "לא בוטל")

	active, err := f.repo.ListActiveEvents(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestRouter_AmbiguousCancelOffersPickList(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	clk := clock.Fixed{Instant: testNow}
	events := service.NewEventService(f.repo, clk)
	for i, title := range []string{"פגישה עם דנה", "פגישה עם דני"} {
		_, err := events.Create(context.Background(), service.CreateEventRequest{
			User: f.user, Title: title, StartUTC: testNow.Add(48*time.Hour + time.Duration(i)*2*time.Hour),
		})
		require.NoError(t, err)
	}

	f.classifier.decision = agreed(nlu.IntentCancelEvent, nlu.Entities{Query: "פגישה"})
	f.router.Handle(context.Background(), inbound("בטל את הפגישה"))
	assert.Contains(t, f.egress.lastText(), "1.")
	assert.Contains(t, f.egress.lastText(), "2.")

	f.router.Handle(context.Background(), inbound("1"))
	assert.Contains(t, f.egress.lastText(), "לבטל את")

	f.router.Handle(context.Background(), inbound("כן"))
	assert.Contains(t, f.egress.lastText(), "ביטלתי")

	active, err := f.repo.ListActiveEvents(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestRouter_SplitDecisionAsksToClarify(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.classifier.decision = nlu.Decision{
		Result:    nlu.Result{Intent: nlu.IntentCreateEvent, Confidence: 0.55, Entities: nlu.Entities{Title: "ריצה", DateText: "מחר ב-6"}},
		Agreement: 1,
		Split:     true,
		Providers: []nlu.ProviderResult{
			{Provider: "a", Result: nlu.Result{Intent: nlu.IntentCreateEvent, Confidence: 0.55}},
			{Provider: "b", Result: nlu.Result{Intent: nlu.IntentCreateReminder, Confidence: 0.5}},
		},
	}

	f.router.Handle(context.Background(), inbound("ריצה מחר בשש"))
	last := f.egress.lastText()
	assert.Contains(t, last, "למה התכוונת")
	assert.Contains(t, last, "1.")
	assert.Contains(t, last, "2.")

	// Picking the reminder candidate reuses the extracted entities.
	f.router.Handle(context.Background(), inbound("2"))
	assert.Contains(t, f.egress.lastText(), "אזכיר לך")

	rems, err := f.repo.ListActiveReminders(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Len(t, rems, 1)
}

func TestRouter_LowConfidenceDestructiveBlocked(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.classifier.decision = nlu.Decision{
		Result:    nlu.Result{Intent: nlu.IntentCancelEvent, Confidence: 0.55, Entities: nlu.Entities{Query: "יוגה"}},
		Agreement: 1,
		Providers: []nlu.ProviderResult{
			{Provider: "a", Result: nlu.Result{Intent: nlu.IntentCancelEvent, Confidence: 0.55}},
		},
	}

	f.router.Handle(context.Background(), inbound("אולי תבטל יוגה"))
	// 0.55 is below the destructive bar, so nothing is cancelled outright.
	assert.Contains(t, f.egress.lastText(), "למה התכוונת")
}

func TestRouter_SlashCommands(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.router.Handle(context.Background(), inbound("/help"))
	assert.Contains(t, f.egress.lastText(), "דוגמאות")

	f.router.Handle(context.Background(), inbound("/menu"))
	assert.Contains(t, f.egress.lastText(), "אפשר לבקש ממני")

	f.router.Handle(context.Background(), inbound("/cancel"))
	assert.Contains(t, f.egress.lastText(), "אין פעולה פתוחה")

	f.router.Handle(context.Background(), inbound("/whatever"))
	assert.Contains(t, f.egress.lastText(), "פקודה לא מוכרת")
}

func TestRouter_CancelAbortsFlow(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.classifier.decision = agreed(nlu.IntentCreateEvent, nlu.Entities{Title: "פגישה", DateText: "מחר"})

	f.router.Handle(context.Background(), inbound("קבע פגישה מחר"))
	assert.Contains(t, f.egress.lastText(), "באיזו שעה")

	f.router.Handle(context.Background(), inbound("/cancel"))
	assert.Contains(t, f.egress.lastText(), "בוטל")

	events, err := f.repo.ListActiveEvents(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRouter_RateLimitThrottlesOnce(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.classifier.decision = agreed(nlu.IntentSmallTalk, nlu.Entities{})

	for i := 0; i < config.RateLimitPerMinute+5; i++ {
		f.router.Handle(context.Background(), inbound("היי"))
	}
	count := f.egress.count()
	// One reply per allowed message, one throttle notice, then silence.
	assert.Equal(t, config.RateLimitPerMinute+1, count)
	assert.Contains(t, f.egress.lastText(), "לאט יותר")
}

func TestRouter_AgendaListsCreatedEvents(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	clk := clock.Fixed{Instant: testNow}
	events := service.NewEventService(f.repo, clk)
	_, err := events.Create(context.Background(), service.CreateEventRequest{
		User: f.user, Title: "ישיבת צוות", StartUTC: testNow.Add(26 * time.Hour),
	})
	require.NoError(t, err)

	f.classifier.decision = agreed(nlu.IntentListAgenda, nlu.Entities{})
	f.router.Handle(context.Background(), inbound("מה יש לי השבוע?"))
	assert.Contains(t, f.egress.lastText(), "ישיבת צוות")
}

func TestRouter_DashboardLink(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.classifier.decision = agreed(nlu.IntentDashboard, nlu.Entities{})

	f.router.Handle(context.Background(), inbound("תן לי לינק ללוח"))
	last := f.egress.lastText()
	require.Contains(t, last, "/dashboard/")

	token := last[strings.LastIndex(last, "/")+1:]
	userID, ok, err := f.kv.Get(context.Background(), "dashboard:token:"+token)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f.user.ID, userID)
}

func TestRouter_MessageLogRecordsBothDirections(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.classifier.decision = agreed(nlu.IntentSmallTalk, nlu.Entities{})

	f.router.Handle(context.Background(), inbound("בוקר טוב"))
	logs, err := f.repo.RecentMessages(context.Background(), f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	directions := []string{logs[0].Direction, logs[1].Direction}
	assert.Contains(t, directions, "in")
	assert.Contains(t, directions, "out")
}

func TestRouter_OverlapAsksBeforeBooking(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	clk := clock.Fixed{Instant: testNow}
	events := service.NewEventService(f.repo, clk)
	_, err := events.Create(context.Background(), service.CreateEventRequest{
		User: f.user, Title: "ישיבת צוות", StartUTC: testNow.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	// Same slot: 10:00 IDT tomorrow is 07:00 UTC.
	f.classifier.decision = agreed(nlu.IntentCreateEvent, nlu.Entities{
		Title:    "פגישה עם דנה",
		DateText: "מחר",
		TimeText: "ב-10",
	})
	f.router.Handle(context.Background(), inbound("קבע פגישה עם דנה מחר בעשר"))
	assert.Contains(t, f.egress.lastText(), "תפוסה")
	assert.Contains(t, f.egress.lastText(), "ישיבת צוות")

	// Nothing was booked before the user answers.
	active, err := f.repo.ListActiveEvents(context.Background(), f.user.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)

	f.router.Handle(context.Background(), inbound("כן"))
	assert.Contains(t, f.egress.lastText(), "נקבע")

	active, err = f.repo.ListActiveEvents(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestRouter_OverlapDeclinedBooksNothing(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	clk := clock.Fixed{Instant: testNow}
	events := service.NewEventService(f.repo, clk)
	_, err := events.Create(context.Background(), service.CreateEventRequest{
		User: f.user, Title: "ישיבת צוות", StartUTC: testNow.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	f.classifier.decision = agreed(nlu.IntentCreateEvent, nlu.Entities{
		Title:    "פגישה עם דנה",
		DateText: "מחר",
		TimeText: "ב-10",
	})
	f.router.Handle(context.Background(), inbound("קבע פגישה עם דנה מחר בעשר"))
	assert.Contains(t, f.egress.lastText(), "תפוסה")

	f.router.Handle(context.Background(), inbound("לא"))
	assert.Contains(t, f.egress.lastText(), "לא קבעתי")

	active, err := f.repo.ListActiveEvents(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, "ישיבת צוות", active[0].Title)
}

func TestRouter_QuotedEventCardAttachesLeadReminder(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.classifier.decision = agreed(nlu.IntentCreateEvent, nlu.Entities{
		Title:    "תור לרופא",
		DateText: "מחר",
		TimeText: "ב-10",
	})

	f.router.Handle(context.Background(), inbound("קבע תור לרופא מחר בעשר"))
	assert.Contains(t, f.egress.lastText(), "נקבע")
	cardID := f.egress.lastID()
	require.NotEmpty(t, cardID)

	events, err := f.repo.ListActiveEvents(context.Background(), f.user.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	// Replying to the event card with a lead phrase pins the reminder to it.
	f.classifier.decision = agreed(nlu.IntentCreateReminder, nlu.Entities{Lead: "שעה לפני"})
	msg := inbound("תזכיר לי שעה לפני")
	msg.QuotedID = cardID
	f.router.Handle(context.Background(), msg)
	assert.Contains(t, f.egress.lastText(), "אזכיר לך")

	rems, err := f.repo.ListActiveReminders(context.Background(), f.user.ID)
	require.NoError(t, err)
	require.Len(t, rems, 1)
	assert.Equal(t, events[0].ID, rems[0].EventID)
	assert.Equal(t, 60, rems[0].LeadMinutes)
	assert.Equal(t, events[0].StartUTC.Add(-time.Hour), rems[0].DueUTC)
}

func (f *fixture) seedCommentedEvent(t *testing.T, texts ...string) domain.Event {
	t.Helper()
	clk := clock.Fixed{Instant: testNow}
	events := service.NewEventService(f.repo, clk)
	res, err := events.Create(context.Background(), service.CreateEventRequest{
		User: f.user, Title: "פגישה עם דנה", StartUTC: testNow.Add(48 * time.Hour),
	})
	require.NoError(t, err)
	for i, text := range texts {
		priority := domain.CommentNormal
		if i == 0 {
			priority = domain.CommentHigh
		}
		_, err = events.Comment(context.Background(), f.user, res.Event.ID, text, priority, nil)
		require.NoError(t, err)
	}
	return res.Event
}

func TestRouter_ViewComments(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.seedCommentedEvent(t, "להביא מסמכים", "דני מאחר")

	f.classifier.decision = agreed(nlu.IntentViewComments, nlu.Entities{Query: "פגישה"})
	f.router.Handle(context.Background(), inbound("מה ההערות על הפגישה?"))
	last := f.egress.lastText()
	assert.Contains(t, last, "ההערות על")
	assert.Contains(t, last, "1. להביא מסמכים (חשוב)")
	assert.Contains(t, last, "2. דני מאחר")
}

func TestRouter_DeleteCommentByIndex(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	event := f.seedCommentedEvent(t, "להביא מסמכים", "דני מאחר")

	f.classifier.decision = agreed(nlu.IntentDeleteComment, nlu.Entities{Query: "פגישה", Field: "2"})
	f.router.Handle(context.Background(), inbound("תמחק את ההערה השנייה מהפגישה"))
	assert.Contains(t, f.egress.lastText(), "מחקתי")
	assert.Contains(t, f.egress.lastText(), "דני מאחר")

	comments, err := f.repo.ListComments(context.Background(), event.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "להביא מסמכים", comments[0].Text)
}

func TestRouter_DeleteCommentAmbiguousTextRejected(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	event := f.seedCommentedEvent(t, "להביא מסמכים", "להביא מסמכים")

	f.classifier.decision = agreed(nlu.IntentDeleteComment, nlu.Entities{
		Query: "פגישה", Field: "text", Value: "להביא מסמכים",
	})
	f.router.Handle(context.Background(), inbound("תמחק את ההערה על המסמכים"))
	assert.Contains(t, f.egress.lastText(), "כמה הערות")

	comments, err := f.repo.ListComments(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Len(t, comments, 2)
}

func TestRouter_UpdateComment(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	event := f.seedCommentedEvent(t, "להביא מסמכים", "דני מאחר")

	f.classifier.decision = agreed(nlu.IntentUpdateComment, nlu.Entities{
		Query: "פגישה", Field: "last", Value: "דני הגיע בסוף",
	})
	f.router.Handle(context.Background(), inbound("תעדכן את ההערה האחרונה"))
	assert.Contains(t, f.egress.lastText(), "עדכנתי את ההערה")
	assert.Contains(t, f.egress.lastText(), "דני הגיע בסוף")

	comments, err := f.repo.ListComments(context.Background(), event.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "דני הגיע בסוף", comments[1].Text)
}

func TestRouter_ListReminders(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	clk := clock.Fixed{Instant: testNow}
	reminders := service.NewReminderService(f.repo, clk)
	for _, title := range []string{"להתקשר לרופא", "לשלם חשמל"} {
		_, err := reminders.Create(context.Background(), service.CreateReminderRequest{
			User: f.user, Title: title, DueUTC: testNow.Add(5 * time.Hour),
		})
		require.NoError(t, err)
	}

	f.classifier.decision = agreed(nlu.IntentListReminders, nlu.Entities{})
	f.router.Handle(context.Background(), inbound("אילו תזכורות יש לי?"))
	last := f.egress.lastText()
	assert.Contains(t, last, "התזכורות שלך")
	assert.Contains(t, last, "להתקשר לרופא")
	assert.Contains(t, last, "לשלם חשמל")
}

func TestRouter_UpdateReminderBareTimeKeepsDay(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	clk := clock.Fixed{Instant: testNow}
	reminders := service.NewReminderService(f.repo, clk)
	// Tomorrow 13:00 IDT.
	rem, err := reminders.Create(context.Background(), service.CreateReminderRequest{
		User: f.user, Title: "להתקשר לרופא", DueUTC: testNow.Add(27 * time.Hour),
	})
	require.NoError(t, err)

	f.classifier.decision = agreed(nlu.IntentUpdateReminder, nlu.Entities{
		Query: "רופא", TimeText: "ב-8",
	})
	f.router.Handle(context.Background(), inbound("תזיז את התזכורת לרופא לשמונה"))
	assert.Contains(t, f.egress.lastText(), "עדכנתי את התזכורת")

	updated, err := f.repo.GetReminder(context.Background(), f.user.ID, rem.ID)
	require.NoError(t, err)
	// Same day, 08:00 IDT is 05:00 UTC.
	assert.Equal(t, time.Date(2025, 10, 11, 5, 0, 0, 0, time.UTC), updated.DueUTC)
	assert.Equal(t, "להתקשר לרופא", updated.Title)
}

func TestRouter_ShadowWriteIsOffMessagePath(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.router.shadow = nlu.NewShadowLogger(f.repo, clock.Fixed{Instant: testNow})
	f.classifier.decision = agreed(nlu.IntentSmallTalk, nlu.Entities{})

	f.router.Handle(context.Background(), inbound("בוקר טוב"))
	assert.Contains(t, f.egress.lastText(), "אני כאן")

	// The row lands shortly after, written by the background goroutine.
	require.Eventually(t, func() bool {
		var n int64
		if err := f.db.Table("nlp_comparisons").Count(&n).Error; err != nil {
			return false
		}
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRouter_EnsembleFailureShrugs(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.classifier.err = context.DeadlineExceeded

	f.router.Handle(context.Background(), inbound("קבע משהו"))
	assert.Contains(t, f.egress.lastText(), "לא הייתי בטוח")
}
