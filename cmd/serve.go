package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yoavra/yoman/auth"
	"github.com/yoavra/yoman/calendar/repository"
	"github.com/yoavra/yoman/calendar/service"
	"github.com/yoavra/yoman/config"
	"github.com/yoavra/yoman/infrastructure/database"
	"github.com/yoavra/yoman/infrastructure/ephemeral"
	"github.com/yoavra/yoman/infrastructure/valkey"
	"github.com/yoavra/yoman/nlu"
	"github.com/yoavra/yoman/nlu/providers"
	"github.com/yoavra/yoman/pkg/clock"
	"github.com/yoavra/yoman/pkg/msgworker"
	"github.com/yoavra/yoman/router"
	"github.com/yoavra/yoman/scheduler"
	"github.com/yoavra/yoman/session"
	"github.com/yoavra/yoman/transport"
	"github.com/yoavra/yoman/transport/whatsapp"
	"github.com/yoavra/yoman/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assistant: WhatsApp ingress, scheduler and dashboard",
	Run:   serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// operatorNotifier routes cost alerts to the configured operator phone.
type operatorNotifier struct {
	egress transport.Egress
}

func (n operatorNotifier) NotifyOperator(ctx context.Context, text string) error {
	if config.OperatorPhone == "" {
		logrus.Warn("[COST] No operator phone configured, dropping alert")
		return nil
	}
	_, err := n.egress.SendText(ctx, config.OperatorPhone, text)
	return err
}

func serve(_ *cobra.Command, _ []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = os.MkdirAll("storages", 0o755)

	db, err := database.New()
	if err != nil {
		logrus.Fatalf("[SERVE] database: %v", err)
	}
	repo := repository.NewCalendarGormRepository(db)
	if err := repo.Init(ctx); err != nil {
		logrus.Fatalf("[SERVE] migration: %v", err)
	}

	// Valkey when configured, in-process fallback otherwise. The fallback
	// loses dedup and locks on restart, acceptable for single-node dev runs.
	var (
		kv       ephemeral.KV
		sessions session.Store
	)
	if config.ValkeyAddress != "" {
		client, verr := valkey.NewClient(valkey.Config{
			Address:   config.ValkeyAddress,
			Password:  config.ValkeyPassword,
			DB:        config.ValkeyDB,
			KeyPrefix: config.ValkeyPrefix,
		})
		if verr != nil {
			logrus.WithError(verr).Warn("[SERVE] Valkey unreachable, using in-memory store")
		} else {
			defer client.Close()
			kv = ephemeral.NewValkeyKV(client)
			sessions = session.NewValkeyStore(client)
		}
	}
	if kv == nil {
		kv = ephemeral.NewMemoryKV()
		sessions = session.NewMemoryStore()
	}

	clk := clock.System()

	users := service.NewUserService(repo, clk)
	events := service.NewEventService(repo, clk)
	reminders := service.NewReminderService(repo, clk)
	tasks := service.NewTaskService(repo, clk)
	contacts := service.NewContactService(repo, clk)
	authSvc := auth.NewService(repo, kv, clk)

	wa, err := whatsapp.New(ctx, config.WhatsappStoreURI)
	if err != nil {
		logrus.Fatalf("[SERVE] whatsapp: %v", err)
	}
	egress := transport.NewRetryEgress(wa)
	egress.Start()
	defer egress.Stop()

	classifier := buildEnsemble()
	costs := nlu.NewCostAccountant(repo, kv, operatorNotifier{egress: egress}, clk)
	var shadow *nlu.ShadowLogger
	if config.ShadowLoggingEnabled {
		shadow = nlu.NewShadowLogger(repo, clk)
	}

	rt := router.New(router.Deps{
		Sessions:   sessions,
		KV:         kv,
		Auth:       authSvc,
		Repo:       repo,
		Users:      users,
		Events:     events,
		Reminders:  reminders,
		Tasks:      tasks,
		Contacts:   contacts,
		Classifier: classifier,
		Shadow:     shadow,
		Costs:      costs,
		Egress:     egress,
		Clock:      clk,
	})

	inbound := msgworker.NewPool(config.MessageWorkerPoolSize, config.MessageWorkerQueueSize)
	inbound.Start(ctx)
	defer inbound.Stop()

	wa.OnMessage(func(_ context.Context, msg transport.Inbound) {
		inbound.Dispatch(msgworker.Job{
			Sender: msg.Sender,
			Handle: func(jctx context.Context) error {
				rt.Handle(jctx, msg)
				return nil
			},
		})
	})

	deliveries := scheduler.NewPool(repo, reminders, events, tasks, kv, egress, clk)
	deliveries.Start(ctx)
	sched := scheduler.New(repo, kv, deliveries, clk)
	go sched.Run(ctx)

	server := web.NewServer(repo, kv, events, reminders, tasks, inbound, clk)
	go func() {
		if err := server.Listen(":" + config.AppPort); err != nil {
			logrus.WithError(err).Error("[SERVE] web server stopped")
		}
	}()

	if err := wa.Connect(ctx); err != nil {
		logrus.Fatalf("[SERVE] connect: %v", err)
	}
	logrus.Info("[SERVE] Up")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logrus.Info("[SERVE] Shutting down...")
	cancel()
	wa.Disconnect()
	_ = server.Shutdown()
	deliveries.Wait()
}

// buildEnsemble wires every provider that has credentials. Missing providers
// lower voting quality but do not block startup.
func buildEnsemble() *nlu.Ensemble {
	var ps []nlu.Provider
	if config.OpenAIAPIKey != "" {
		ps = append(ps, providers.NewOpenAIProvider(config.OpenAIAPIKey, config.OpenAIModel))
	}
	if config.GeminiAPIKey != "" {
		ps = append(ps, providers.NewGeminiProvider(config.GeminiAPIKey, config.GeminiModel))
	}
	if config.CompatAPIKey != "" && config.CompatBaseURL != "" {
		ps = append(ps, providers.NewCompatProvider(config.CompatAPIKey, config.CompatBaseURL, config.CompatModel))
	}
	if len(ps) == 0 {
		logrus.Warn("[SERVE] No NLU providers configured, free-text understanding disabled")
	}
	return nlu.NewEnsemble(ps...)
}
