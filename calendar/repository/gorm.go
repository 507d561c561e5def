package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yoavra/yoman/calendar/domain"
)

// --- Persistence Models ---

type userModel struct {
	ID                 string    `gorm:"primaryKey;column:id"`
	Phone              string    `gorm:"column:phone;not null;uniqueIndex"`
	Name               string    `gorm:"column:name;not null"`
	PINHash            string    `gorm:"column:pin_hash;not null"`
	Timezone           string    `gorm:"column:timezone;default:'Asia/Jerusalem'"`
	Language           string    `gorm:"column:language;default:'he'"`
	DefaultCity        string    `gorm:"column:default_city"`
	DefaultDurationMin int       `gorm:"column:default_duration_min;default:60"`
	SummaryEnabled     bool      `gorm:"column:summary_enabled;default:true"`
	SummaryHour        int       `gorm:"column:summary_hour;default:8"`
	SummaryDays        int       `gorm:"column:summary_days;default:127"`
	SummaryMemos       bool      `gorm:"column:summary_memos;default:false"`
	CreatedAt          time.Time `gorm:"column:created_at;not null"`
	UpdatedAt          time.Time `gorm:"column:updated_at;not null"`
}

func (userModel) TableName() string { return "users" }

type contactModel struct {
	ID        string         `gorm:"primaryKey;column:id"`
	UserID    string         `gorm:"column:user_id;not null;index"`
	Name      string         `gorm:"column:name;not null"`
	Phone     sql.NullString `gorm:"column:phone"`
	Aliases   sql.NullString `gorm:"column:aliases"` // JSON
	CreatedAt time.Time      `gorm:"column:created_at;not null"`
}

func (contactModel) TableName() string { return "contacts" }

type eventModel struct {
	ID             string         `gorm:"primaryKey;column:id"`
	UserID         string         `gorm:"column:user_id;not null;index:idx_events_user_start"`
	Title          string         `gorm:"column:title;not null"`
	Status         string         `gorm:"column:status;default:'active';index"`
	StartUTC       time.Time      `gorm:"column:start_utc;not null;index:idx_events_user_start"`
	EndUTC         *time.Time     `gorm:"column:end_utc"`
	Location       sql.NullString `gorm:"column:location"`
	Notes          sql.NullString `gorm:"column:notes"`
	RecurrenceRule sql.NullString `gorm:"column:recurrence_rule"`
	Exclusions     sql.NullString `gorm:"column:exclusions"` // JSON
	CreatedAt      time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;not null"`
}

func (eventModel) TableName() string { return "events" }

// eventParticipantModel is its own table so the (event_id, name) uniqueness
// holds under concurrent adds, not just in application code.
type eventParticipantModel struct {
	ID        string         `gorm:"primaryKey;column:id"`
	EventID   string         `gorm:"column:event_id;not null;uniqueIndex:uniq_participant_event_name"`
	Name      string         `gorm:"column:name;not null;uniqueIndex:uniq_participant_event_name"`
	Role      string         `gorm:"column:role;default:'primary'"`
	ContactID sql.NullString `gorm:"column:contact_id"`
	CreatedAt time.Time      `gorm:"column:created_at;not null"`
}

func (eventParticipantModel) TableName() string { return "event_participants" }

type eventCommentModel struct {
	ID         string         `gorm:"primaryKey;column:id"`
	EventID    string         `gorm:"column:event_id;not null;index"`
	UserID     string         `gorm:"column:user_id;not null"`
	Text       string         `gorm:"column:text;not null"`
	Priority   string         `gorm:"column:priority;default:'normal'"`
	Tags       sql.NullString `gorm:"column:tags"` // JSON
	ReminderID sql.NullString `gorm:"column:reminder_id"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null"`
}

func (eventCommentModel) TableName() string { return "event_comments" }

type reminderModel struct {
	ID             string         `gorm:"primaryKey;column:id"`
	UserID         string         `gorm:"column:user_id;not null;index"`
	Title          string         `gorm:"column:title;not null"`
	Status         string         `gorm:"column:status;default:'active';index"`
	DueUTC         time.Time      `gorm:"column:due_utc;not null;index"`
	RecurrenceRule sql.NullString `gorm:"column:recurrence_rule"`
	EventID        sql.NullString `gorm:"column:event_id;index"`
	LeadMinutes    int            `gorm:"column:lead_minutes;default:0"`
	LastFiredUTC   *time.Time     `gorm:"column:last_fired_utc"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;not null"`
}

func (reminderModel) TableName() string { return "reminders" }

type taskModel struct {
	ID          string         `gorm:"primaryKey;column:id"`
	UserID      string         `gorm:"column:user_id;not null;index"`
	Title       string         `gorm:"column:title;not null"`
	Notes       sql.NullString `gorm:"column:notes"`
	DueUTC      *time.Time     `gorm:"column:due_utc"`
	Done        bool           `gorm:"column:done;default:false;index"`
	CompletedAt *time.Time     `gorm:"column:completed_at"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;not null"`
}

func (taskModel) TableName() string { return "tasks" }

type messageLogModel struct {
	ID        string         `gorm:"primaryKey;column:id"`
	UserID    string         `gorm:"column:user_id;not null;index:idx_msglog_user_created"`
	Direction string         `gorm:"column:direction;not null"`
	Text      string         `gorm:"column:text;not null"`
	Intent    sql.NullString `gorm:"column:intent"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;index:idx_msglog_user_created"`
}

func (messageLogModel) TableName() string { return "message_logs" }

// nlpComparisonModel records per-provider ensemble outputs for offline model
// quality review. The match flag and confidence spread are materialized so
// disagreement rates are one GROUP BY away, without unpacking the JSON.
type nlpComparisonModel struct {
	ID             string    `gorm:"primaryKey;column:id"`
	UserID         string    `gorm:"column:user_id;index"`
	Text           string    `gorm:"column:text;not null"`
	Results        string    `gorm:"column:results;not null"` // JSON
	Final          string    `gorm:"column:final_intent"`
	Agreement      int       `gorm:"column:agreement"`
	IntentMatch    bool      `gorm:"column:intent_match;default:false"`
	ConfidenceDiff float64   `gorm:"column:confidence_diff;default:0"`
	CostUSD        float64   `gorm:"column:cost_usd;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
}

func (nlpComparisonModel) TableName() string { return "nlp_comparisons" }

// aiCostLogModel is the append-only spend ledger, one row per model call.
type aiCostLogModel struct {
	ID         string         `gorm:"primaryKey;column:id"`
	UserID     sql.NullString `gorm:"column:user_id;index"`
	Model      string         `gorm:"column:model;not null"`
	Operation  string         `gorm:"column:operation;not null"`
	CostUSD    float64        `gorm:"column:cost_usd;default:0"`
	TokensUsed int            `gorm:"column:tokens_used;default:0"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null;index"`
}

func (aiCostLogModel) TableName() string { return "ai_cost_logs" }

// --- Repository Implementation ---

type CalendarGormRepository struct {
	db *gorm.DB
}

func NewCalendarGormRepository(db *gorm.DB) *CalendarGormRepository {
	return &CalendarGormRepository{db: db}
}

func (r *CalendarGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&userModel{},
		&contactModel{},
		&eventModel{},
		&eventParticipantModel{},
		&eventCommentModel{},
		&reminderModel{},
		&taskModel{},
		&messageLogModel{},
		&nlpComparisonModel{},
		&aiCostLogModel{},
	)
}

// Users

func (r *CalendarGormRepository) CreateUser(ctx context.Context, u domain.User) error {
	model := toUserModel(u)
	err := r.db.WithContext(ctx).Create(&model).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrDuplicatePhone
	}
	return err
}

func (r *CalendarGormRepository) GetUserByPhone(ctx context.Context, phone string) (domain.User, error) {
	var m userModel
	if err := r.db.WithContext(ctx).First(&m, "phone = ?", phone).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}
	return fromUserModel(m), nil
}

func (r *CalendarGormRepository) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	var m userModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}
	return fromUserModel(m), nil
}

func (r *CalendarGormRepository) UpdateUser(ctx context.Context, u domain.User) error {
	model := toUserModel(u)
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *CalendarGormRepository) ListSummaryUsers(ctx context.Context) ([]domain.User, error) {
	var models []userModel
	if err := r.db.WithContext(ctx).Where("summary_enabled = ?", true).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, len(models))
	for i, m := range models {
		res[i] = fromUserModel(m)
	}
	return res, nil
}

// Contacts

func (r *CalendarGormRepository) CreateContact(ctx context.Context, c domain.Contact) error {
	model := toContactModel(c)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *CalendarGormRepository) UpdateContact(ctx context.Context, c domain.Contact) error {
	model := toContactModel(c)
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *CalendarGormRepository) DeleteContact(ctx context.Context, userID, id string) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&contactModel{}, "id = ?", id).Error
}

func (r *CalendarGormRepository) ListContacts(ctx context.Context, userID string) ([]domain.Contact, error) {
	var models []contactModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("name").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Contact, len(models))
	for i, m := range models {
		res[i] = fromContactModel(m)
	}
	return res, nil
}

// Events

func (r *CalendarGormRepository) CreateEvent(ctx context.Context, e domain.Event) error {
	model := toEventModel(e)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		for _, p := range e.Participants {
			row := toParticipantModel(e.ID, p, e.CreatedAt)
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *CalendarGormRepository) GetEvent(ctx context.Context, userID, id string) (domain.Event, error) {
	var m eventModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&m, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Event{}, domain.ErrEventNotFound
		}
		return domain.Event{}, err
	}
	events := []domain.Event{fromEventModel(m)}
	if err := r.attachParticipants(ctx, events); err != nil {
		return domain.Event{}, err
	}
	return events[0], nil
}

// UpdateEvent rewrites the event row. Participant rows are managed separately
// through AddParticipant so a field update never races a concurrent add.
func (r *CalendarGormRepository) UpdateEvent(ctx context.Context, e domain.Event) error {
	model := toEventModel(e)
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *CalendarGormRepository) DeleteEvent(ctx context.Context, userID, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ?", userID).Delete(&eventModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Where("event_id = ?", id).Delete(&eventParticipantModel{}).Error; err != nil {
			return err
		}
		return tx.Where("event_id = ?", id).Delete(&eventCommentModel{}).Error
	})
}

// AddParticipant inserts one participant row. The unique index makes a
// duplicate name a silent no-op, even across concurrent callers.
func (r *CalendarGormRepository) AddParticipant(ctx context.Context, eventID string, p domain.Participant, at time.Time) error {
	row := toParticipantModel(eventID, p, at)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (r *CalendarGormRepository) ListParticipants(ctx context.Context, eventID string) ([]domain.Participant, error) {
	var rows []eventParticipantModel
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Participant, len(rows))
	for i, row := range rows {
		res[i] = fromParticipantModel(row)
	}
	return res, nil
}

// attachParticipants hydrates Participants for every event in place with a
// single query.
func (r *CalendarGormRepository) attachParticipants(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	var rows []eventParticipantModel
	if err := r.db.WithContext(ctx).Where("event_id IN ?", ids).Order("created_at").Find(&rows).Error; err != nil {
		return err
	}
	byEvent := make(map[string][]domain.Participant, len(events))
	for _, row := range rows {
		byEvent[row.EventID] = append(byEvent[row.EventID], fromParticipantModel(row))
	}
	for i := range events {
		events[i].Participants = byEvent[events[i].ID]
	}
	return nil
}

// ListEventsInRange returns active one-off events starting inside [from, to).
// Recurring series are fetched separately and expanded by the caller.
func (r *CalendarGormRepository) ListEventsInRange(ctx context.Context, userID string, from, to time.Time) ([]domain.Event, error) {
	var models []eventModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND (recurrence_rule IS NULL OR recurrence_rule = '') AND start_utc >= ? AND start_utc < ?",
			userID, string(domain.EventActive), from, to).
		Order("start_utc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	events := fromEventModels(models)
	if err := r.attachParticipants(ctx, events); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *CalendarGormRepository) ListRecurringEvents(ctx context.Context, userID string) ([]domain.Event, error) {
	var models []eventModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND recurrence_rule IS NOT NULL AND recurrence_rule <> ''",
			userID, string(domain.EventActive)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	events := fromEventModels(models)
	if err := r.attachParticipants(ctx, events); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *CalendarGormRepository) ListActiveEvents(ctx context.Context, userID string) ([]domain.Event, error) {
	var models []eventModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, string(domain.EventActive)).
		Order("start_utc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	events := fromEventModels(models)
	if err := r.attachParticipants(ctx, events); err != nil {
		return nil, err
	}
	return events, nil
}

// FindOverlapping returns active one-off events whose span intersects
// [start, end). Events without an end are treated as instantaneous.
func (r *CalendarGormRepository) FindOverlapping(ctx context.Context, userID string, start, end time.Time) ([]domain.Event, error) {
	var models []eventModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND (recurrence_rule IS NULL OR recurrence_rule = '')", userID, string(domain.EventActive)).
		Where("start_utc < ? AND (end_utc IS NULL AND start_utc >= ? OR end_utc > ?)", end, start, start).
		Order("start_utc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return fromEventModels(models), nil
}

// Comments

func (r *CalendarGormRepository) AddComment(ctx context.Context, c domain.EventComment) error {
	model := toCommentModel(c)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *CalendarGormRepository) UpdateComment(ctx context.Context, c domain.EventComment) error {
	model := toCommentModel(c)
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *CalendarGormRepository) DeleteComment(ctx context.Context, eventID, id string) error {
	return r.db.WithContext(ctx).Where("event_id = ?", eventID).Delete(&eventCommentModel{}, "id = ?", id).Error
}

func (r *CalendarGormRepository) ListComments(ctx context.Context, eventID string) ([]domain.EventComment, error) {
	var models []eventCommentModel
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Order("created_at").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.EventComment, len(models))
	for i, m := range models {
		res[i] = fromCommentModel(m)
	}
	return res, nil
}

// Reminders

func (r *CalendarGormRepository) CreateReminder(ctx context.Context, rem domain.Reminder) error {
	model := toReminderModel(rem)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *CalendarGormRepository) GetReminder(ctx context.Context, userID, id string) (domain.Reminder, error) {
	var m reminderModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&m, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Reminder{}, domain.ErrReminderNotFound
		}
		return domain.Reminder{}, err
	}
	return fromReminderModel(m), nil
}

func (r *CalendarGormRepository) UpdateReminder(ctx context.Context, rem domain.Reminder) error {
	model := toReminderModel(rem)
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *CalendarGormRepository) DeleteReminder(ctx context.Context, userID, id string) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&reminderModel{}, "id = ?", id).Error
}

func (r *CalendarGormRepository) ListActiveReminders(ctx context.Context, userID string) ([]domain.Reminder, error) {
	var models []reminderModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, string(domain.ReminderActive)).
		Order("due_utc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return fromReminderModels(models), nil
}

// ListDueReminders returns every active reminder due at or before the horizon,
// across all users. The scheduler promotes these into the delivery queue.
func (r *CalendarGormRepository) ListDueReminders(ctx context.Context, horizon time.Time) ([]domain.Reminder, error) {
	var models []reminderModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND due_utc <= ?", string(domain.ReminderActive), horizon).
		Order("due_utc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return fromReminderModels(models), nil
}

func (r *CalendarGormRepository) ListRemindersForEvent(ctx context.Context, eventID string) ([]domain.Reminder, error) {
	var models []reminderModel
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND status = ?", eventID, string(domain.ReminderActive)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return fromReminderModels(models), nil
}

// MarkFired records delivery of one occurrence. The conditional update is the
// at-most-once guard: only the first worker to claim an occurrence wins, and
// a replay of an older occurrence never moves the watermark backwards.
func (r *CalendarGormRepository) MarkFired(ctx context.Context, id string, occurrence time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&reminderModel{}).
		Where("id = ? AND status = ? AND (last_fired_utc IS NULL OR last_fired_utc < ?)",
			id, string(domain.ReminderActive), occurrence).
		Update("last_fired_utc", occurrence)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Tasks

func (r *CalendarGormRepository) CreateTask(ctx context.Context, t domain.Task) error {
	model := toTaskModel(t)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *CalendarGormRepository) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	var m taskModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&m, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Task{}, domain.ErrTaskNotFound
		}
		return domain.Task{}, err
	}
	return fromTaskModel(m), nil
}

func (r *CalendarGormRepository) UpdateTask(ctx context.Context, t domain.Task) error {
	model := toTaskModel(t)
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *CalendarGormRepository) DeleteTask(ctx context.Context, userID, id string) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&taskModel{}, "id = ?", id).Error
}

func (r *CalendarGormRepository) ListTasks(ctx context.Context, userID string, openOnly bool) ([]domain.Task, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if openOnly {
		q = q.Where("done = ?", false)
	}
	var models []taskModel
	if err := q.Order("created_at").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Task, len(models))
	for i, m := range models {
		res[i] = fromTaskModel(m)
	}
	return res, nil
}

// Message log

func (r *CalendarGormRepository) AppendMessageLog(ctx context.Context, log domain.MessageLog) error {
	model := messageLogModel{
		ID: log.ID, UserID: log.UserID, Direction: log.Direction,
		Text: log.Text, Intent: toNullString(log.Intent), CreatedAt: log.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

// RecentMessages returns the last n messages for a user, oldest first.
func (r *CalendarGormRepository) RecentMessages(ctx context.Context, userID string, n int) ([]domain.MessageLog, error) {
	var models []messageLogModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(n).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.MessageLog, len(models))
	for i := range models {
		m := models[len(models)-1-i]
		res[i] = domain.MessageLog{
			ID: m.ID, UserID: m.UserID, Direction: m.Direction,
			Text: m.Text, Intent: m.Intent.String, CreatedAt: m.CreatedAt,
		}
	}
	return res, nil
}

// NLP comparisons

type NLPComparison struct {
	ID             string
	UserID         string
	Text           string
	Results        any
	Final          string
	Agreement      int
	IntentMatch    bool
	ConfidenceDiff float64
	CostUSD        float64
	CreatedAt      time.Time
}

func (r *CalendarGormRepository) SaveComparison(ctx context.Context, c NLPComparison) error {
	raw, err := json.Marshal(c.Results)
	if err != nil {
		return err
	}
	model := nlpComparisonModel{
		ID: c.ID, UserID: c.UserID, Text: c.Text, Results: string(raw),
		Final: c.Final, Agreement: c.Agreement,
		IntentMatch: c.IntentMatch, ConfidenceDiff: c.ConfidenceDiff,
		CostUSD:   c.CostUSD,
		CreatedAt: c.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

// AI cost ledger

func (r *CalendarGormRepository) AppendAICost(ctx context.Context, e domain.AICostEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	model := aiCostLogModel{
		ID: e.ID, UserID: toNullString(e.UserID),
		Model: e.Model, Operation: e.Operation,
		CostUSD: e.CostUSD, TokensUsed: e.TokensUsed,
		CreatedAt: e.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

// SumAICostSince totals the ledger from the given instant, typically the
// start of the current month.
func (r *CalendarGormRepository) SumAICostSince(ctx context.Context, from time.Time) (float64, error) {
	var total sql.NullFloat64
	err := r.db.WithContext(ctx).Model(&aiCostLogModel{}).
		Where("created_at >= ?", from).
		Select("SUM(cost_usd)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}

func (r *CalendarGormRepository) ListAICosts(ctx context.Context, from time.Time) ([]domain.AICostEntry, error) {
	var models []aiCostLogModel
	err := r.db.WithContext(ctx).
		Where("created_at >= ?", from).
		Order("created_at").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.AICostEntry, len(models))
	for i, m := range models {
		res[i] = domain.AICostEntry{
			ID: m.ID, UserID: m.UserID.String,
			Model: m.Model, Operation: m.Operation,
			CostUSD: m.CostUSD, TokensUsed: m.TokensUsed,
			CreatedAt: m.CreatedAt,
		}
	}
	return res, nil
}

// --- Converters ---

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toUserModel(u domain.User) userModel {
	return userModel{
		ID: u.ID, Phone: u.Phone, Name: u.Name, PINHash: u.PINHash,
		Timezone: u.Timezone, Language: u.Language,
		DefaultCity: u.DefaultCity, DefaultDurationMin: u.DefaultDurationMin,
		SummaryEnabled: u.SummaryEnabled, SummaryHour: u.SummaryHour, SummaryDays: u.SummaryDays,
		SummaryMemos: u.SummaryMemos,
		CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt,
	}
}

func fromUserModel(m userModel) domain.User {
	return domain.User{
		ID: m.ID, Phone: m.Phone, Name: m.Name, PINHash: m.PINHash,
		Timezone: m.Timezone, Language: m.Language,
		DefaultCity: m.DefaultCity, DefaultDurationMin: m.DefaultDurationMin,
		SummaryEnabled: m.SummaryEnabled, SummaryHour: m.SummaryHour, SummaryDays: m.SummaryDays,
		SummaryMemos: m.SummaryMemos,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func toContactModel(c domain.Contact) contactModel {
	var aliases sql.NullString
	if len(c.Aliases) > 0 {
		raw, _ := json.Marshal(c.Aliases)
		aliases = sql.NullString{String: string(raw), Valid: true}
	}
	return contactModel{
		ID: c.ID, UserID: c.UserID, Name: c.Name,
		Phone: toNullString(c.Phone), Aliases: aliases, CreatedAt: c.CreatedAt,
	}
}

func fromContactModel(m contactModel) domain.Contact {
	c := domain.Contact{
		ID: m.ID, UserID: m.UserID, Name: m.Name,
		Phone: m.Phone.String, CreatedAt: m.CreatedAt,
	}
	if m.Aliases.Valid {
		_ = json.Unmarshal([]byte(m.Aliases.String), &c.Aliases)
	}
	return c
}

func toEventModel(e domain.Event) eventModel {
	var exclusions sql.NullString
	if len(e.Exclusions) > 0 {
		raw, _ := json.Marshal(e.Exclusions)
		exclusions = sql.NullString{String: string(raw), Valid: true}
	}
	return eventModel{
		ID: e.ID, UserID: e.UserID, Title: e.Title, Status: string(e.Status),
		StartUTC: e.StartUTC, EndUTC: e.EndUTC,
		Location: toNullString(e.Location), Notes: toNullString(e.Notes),
		RecurrenceRule: toNullString(e.RecurrenceRule),
		Exclusions:     exclusions,
		CreatedAt:      e.CreatedAt, UpdatedAt: e.UpdatedAt,
	}
}

func fromEventModel(m eventModel) domain.Event {
	e := domain.Event{
		ID: m.ID, UserID: m.UserID, Title: m.Title, Status: domain.EventStatus(m.Status),
		StartUTC: m.StartUTC, EndUTC: m.EndUTC,
		Location: m.Location.String, Notes: m.Notes.String,
		RecurrenceRule: m.RecurrenceRule.String,
		CreatedAt:      m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
	if m.Exclusions.Valid {
		_ = json.Unmarshal([]byte(m.Exclusions.String), &e.Exclusions)
	}
	return e
}

func toParticipantModel(eventID string, p domain.Participant, at time.Time) eventParticipantModel {
	role := p.Role
	if role == "" {
		role = "primary"
	}
	return eventParticipantModel{
		ID: uuid.NewString(), EventID: eventID, Name: p.Name, Role: role,
		ContactID: toNullString(p.ContactID), CreatedAt: at,
	}
}

func fromParticipantModel(m eventParticipantModel) domain.Participant {
	return domain.Participant{ContactID: m.ContactID.String, Name: m.Name, Role: m.Role}
}

func toCommentModel(c domain.EventComment) eventCommentModel {
	var tags sql.NullString
	if len(c.Tags) > 0 {
		raw, _ := json.Marshal(c.Tags)
		tags = sql.NullString{String: string(raw), Valid: true}
	}
	priority := string(c.Priority)
	if priority == "" {
		priority = string(domain.CommentNormal)
	}
	return eventCommentModel{
		ID: c.ID, EventID: c.EventID, UserID: c.UserID,
		Text: c.Text, Priority: priority, Tags: tags,
		ReminderID: toNullString(c.ReminderID), CreatedAt: c.CreatedAt,
	}
}

func fromCommentModel(m eventCommentModel) domain.EventComment {
	c := domain.EventComment{
		ID: m.ID, EventID: m.EventID, UserID: m.UserID,
		Text: m.Text, Priority: domain.CommentPriority(m.Priority),
		ReminderID: m.ReminderID.String, CreatedAt: m.CreatedAt,
	}
	if c.Priority == "" {
		c.Priority = domain.CommentNormal
	}
	if m.Tags.Valid {
		_ = json.Unmarshal([]byte(m.Tags.String), &c.Tags)
	}
	return c
}

func fromEventModels(models []eventModel) []domain.Event {
	res := make([]domain.Event, len(models))
	for i, m := range models {
		res[i] = fromEventModel(m)
	}
	return res
}

func toReminderModel(r domain.Reminder) reminderModel {
	return reminderModel{
		ID: r.ID, UserID: r.UserID, Title: r.Title, Status: string(r.Status),
		DueUTC:         r.DueUTC,
		RecurrenceRule: toNullString(r.RecurrenceRule),
		EventID:        toNullString(r.EventID), LeadMinutes: r.LeadMinutes,
		LastFiredUTC: r.LastFiredUTC,
		CreatedAt:    r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func fromReminderModel(m reminderModel) domain.Reminder {
	return domain.Reminder{
		ID: m.ID, UserID: m.UserID, Title: m.Title, Status: domain.ReminderStatus(m.Status),
		DueUTC:         m.DueUTC,
		RecurrenceRule: m.RecurrenceRule.String,
		EventID:        m.EventID.String, LeadMinutes: m.LeadMinutes,
		LastFiredUTC: m.LastFiredUTC,
		CreatedAt:    m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func fromReminderModels(models []reminderModel) []domain.Reminder {
	res := make([]domain.Reminder, len(models))
	for i, m := range models {
		res[i] = fromReminderModel(m)
	}
	return res
}

func toTaskModel(t domain.Task) taskModel {
	return taskModel{
		ID: t.ID, UserID: t.UserID, Title: t.Title,
		Notes: toNullString(t.Notes), DueUTC: t.DueUTC,
		Done: t.Done, CompletedAt: t.CompletedAt,
		CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
	}
}

func fromTaskModel(m taskModel) domain.Task {
	return domain.Task{
		ID: m.ID, UserID: m.UserID, Title: m.Title,
		Notes: m.Notes.String, DueUTC: m.DueUTC,
		Done: m.Done, CompletedAt: m.CompletedAt,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}
