package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	AppVersion = "v1.2.0"
	AppPort    = "3000"
	AppDebug   = false

	// Relational store. Driver is "sqlite" or "postgres".
	DBDriver   = "sqlite"
	DBURI      = "storages/yoman.db"
	DBHost     = "localhost"
	DBPort     = 5432
	DBUser     = "yoman"
	DBPassword = ""

	// WhatsApp device store (whatsmeow sqlstore).
	WhatsappStoreURI = "file:storages/whatsapp.db?_foreign_keys=on"
	WhatsappLogLevel = "ERROR"

	// Ephemeral store.
	ValkeyAddress  = "localhost:6379"
	ValkeyPassword = ""
	ValkeyDB       = 0
	ValkeyPrefix   = "yoman"

	// Defaults applied to new users.
	DefaultTimezone             = "Asia/Jerusalem"
	DefaultLanguage             = "he"
	DefaultLocation             = "jerusalem"
	DefaultEventDurationMinutes = 60

	// NLU ensemble.
	OpenAIAPIKey         string
	OpenAIModel          = "gpt-4o-mini"
	GeminiAPIKey         string
	GeminiModel          = "gemini-2.0-flash"
	CompatAPIKey         string
	CompatBaseURL        string
	CompatModel          string
	EnsembleDeadline     = 5 * time.Second
	NLUCreateThreshold   = 0.50
	NLUDestructive       = 0.60
	NLUSearchThreshold   = 0.50
	ShadowLoggingEnabled = true

	// Cost accounting. Operator gets a message every time month-to-date
	// spend crosses another multiple of CostAlertStepUSD.
	CostAlertStepUSD = 10.0
	OperatorPhone    string

	// ModelPrices is USD per million tokens, keyed by model name. Models
	// missing from the table cost nothing (self-hosted compat endpoints).
	// Overridable via MODEL_PRICES, e.g. "gpt-4o-mini=0.15/0.60,gpt-4o=2.50/10".
	ModelPrices = map[string]ModelPricing{
		"gpt-4o-mini":      {InputPerMToken: 0.15, OutputPerMToken: 0.60},
		"gpt-4o":           {InputPerMToken: 2.50, OutputPerMToken: 10.00},
		"gemini-2.0-flash": {InputPerMToken: 0.10, OutputPerMToken: 0.40},
		"gemini-2.5-flash": {InputPerMToken: 0.30, OutputPerMToken: 2.50},
	}

	// Router.
	DashboardBaseURL   = "http://localhost:3000"
	SessionTTL         = 30 * time.Minute
	AuthTTL            = 48 * time.Hour
	DedupTTL           = 5 * time.Minute
	DashboardTokenTTL  = 15 * time.Minute
	RateLimitPerMinute = 20
	RouterBudget       = 30 * time.Second
	AllowPastEvents    = false

	// Auth.
	PINMaxFailures  = 3
	LockoutDuration = 15 * time.Minute

	// Reminder worker.
	WorkerConcurrency   = 5
	WorkerDispatchPerSec = 10
	WorkerMaxAttempts   = 3
	WorkerBackoffBase   = 1 * time.Second
	WorkerBackoffCap    = 30 * time.Second
	JobDeadline         = 30 * time.Second
	DailySchedulerUTC   = "09:00"

	// Inbound message worker pool.
	MessageWorkerPoolSize  = 20
	MessageWorkerQueueSize = 1000

	// Egress.
	EgressRatePerMinute  = 20
	EgressRetryBase      = 5 * time.Second
	EgressRetryCap       = 60 * time.Second
	EgressPendingMax     = 200
)

// ModelPricing is USD per million tokens.
type ModelPricing struct {
	InputPerMToken  float64
	OutputPerMToken float64
}

// parseModelPrices reads "model=in/out" pairs separated by commas, merging
// them over the defaults.
func parseModelPrices(raw string) {
	for _, pair := range strings.Split(raw, ",") {
		name, prices, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		in, out, ok := strings.Cut(prices, "/")
		if !ok {
			continue
		}
		inF, ierr := strconv.ParseFloat(strings.TrimSpace(in), 64)
		outF, oerr := strconv.ParseFloat(strings.TrimSpace(out), 64)
		if ierr != nil || oerr != nil || inF < 0 || outF < 0 {
			continue
		}
		ModelPrices[strings.TrimSpace(name)] = ModelPricing{InputPerMToken: inF, OutputPerMToken: outF}
	}
}

func init() {
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		OpenAIAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_MODEL")); v != "" {
		OpenAIModel = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
		GeminiAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_MODEL")); v != "" {
		GeminiModel = v
	}
	if v := strings.TrimSpace(os.Getenv("COMPAT_API_KEY")); v != "" {
		CompatAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("COMPAT_BASE_URL")); v != "" {
		CompatBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("COMPAT_MODEL")); v != "" {
		CompatModel = v
	}
	if v := strings.TrimSpace(os.Getenv("OPERATOR_PHONE")); v != "" {
		OperatorPhone = v
	}
	if v := strings.TrimSpace(os.Getenv("MODEL_PRICES")); v != "" {
		parseModelPrices(v)
	}
	if v := os.Getenv("COST_ALERT_STEP_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			CostAlertStepUSD = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("DASHBOARD_BASE_URL")); v != "" {
		DashboardBaseURL = strings.TrimSuffix(v, "/")
	}
	if v := os.Getenv("NLU_CREATE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			NLUCreateThreshold = f
		}
	}
	if v := os.Getenv("NLU_DESTRUCTIVE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			NLUDestructive = f
		}
	}
	if v := os.Getenv("NLU_SEARCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			NLUSearchThreshold = f
		}
	}
	if v := os.Getenv("ALLOW_PAST_EVENTS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			AllowPastEvents = true
		}
	}
	if v := strings.TrimSpace(os.Getenv("WHATSAPP_STORE_URI")); v != "" {
		WhatsappStoreURI = v
	}
	if v := strings.TrimSpace(os.Getenv("WHATSAPP_LOG_LEVEL")); v != "" {
		WhatsappLogLevel = strings.ToUpper(v)
	}
	if v := os.Getenv("DAILY_SCHEDULER_UTC"); v != "" {
		DailySchedulerUTC = strings.TrimSpace(v)
	}
	if v := os.Getenv("MESSAGE_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			MessageWorkerPoolSize = n
		}
	}
	if v := os.Getenv("MESSAGE_WORKER_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			MessageWorkerQueueSize = n
		}
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			WorkerConcurrency = n
		}
	}
}
