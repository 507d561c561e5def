package cmd

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yoavra/yoman/calendar/repository"
	"github.com/yoavra/yoman/infrastructure/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	Run:   migrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func migrate(_ *cobra.Command, _ []string) {
	_ = os.MkdirAll("storages", 0o755)

	db, err := database.New()
	if err != nil {
		logrus.Fatalf("[MIGRATE] database: %v", err)
	}
	repo := repository.NewCalendarGormRepository(db)
	if err := repo.Init(context.Background()); err != nil {
		logrus.Fatalf("[MIGRATE] migration: %v", err)
	}
	logrus.Info("[MIGRATE] Schema up to date")
}
