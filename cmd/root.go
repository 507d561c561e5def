package cmd

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yoavra/yoman/config"
)

var rootCmd = &cobra.Command{
	Use:   "yoman",
	Short: "Hebrew WhatsApp calendar assistant",
	Long: `Yoman is a conversational calendar assistant for WhatsApp. It parses
Hebrew (and English) messages into events, reminders and tasks, delivers
scheduled reminders, and serves a token-gated agenda dashboard.`,
}

func init() {
	// Everything is stored and scheduled in UTC; user zones apply at the
	// rendering edge only.
	time.Local = time.UTC

	if err := godotenv.Load(); err == nil {
		logrus.Debug("[CONFIG] .env loaded")
	}
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	initFlags()
	cobra.OnInitialize(initEnvConfig, initLogging)
}

func initFlags() {
	rootCmd.PersistentFlags().StringVarP(
		&config.AppPort,
		"port", "p",
		config.AppPort,
		"web server port | example: --port=8080",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&config.AppDebug,
		"debug", "d",
		config.AppDebug,
		"enable debug logging | example: --debug=true",
	)
	rootCmd.PersistentFlags().StringVarP(
		&config.DBURI,
		"db-uri", "",
		config.DBURI,
		`relational store path or database name | example: --db-uri="storages/yoman.db"`,
	)
	rootCmd.PersistentFlags().StringVarP(
		&config.WhatsappStoreURI,
		"wa-store-uri", "",
		config.WhatsappStoreURI,
		`whatsapp device store uri | example: --wa-store-uri="file:storages/whatsapp.db?_foreign_keys=on"`,
	)
	rootCmd.PersistentFlags().StringVarP(
		&config.ValkeyAddress,
		"valkey", "",
		config.ValkeyAddress,
		`valkey address, empty runs on in-process memory | example: --valkey="localhost:6379"`,
	)
}

func initEnvConfig() {
	if v := viper.GetString("app_port"); v != "" {
		config.AppPort = v
	}
	if viper.IsSet("app_debug") {
		config.AppDebug = viper.GetBool("app_debug")
	}
	if v := viper.GetString("db_driver"); v != "" {
		config.DBDriver = v
	}
	if v := viper.GetString("db_uri"); v != "" {
		config.DBURI = v
	}
	if v := viper.GetString("db_host"); v != "" {
		config.DBHost = v
	}
	if viper.IsSet("db_port") {
		config.DBPort = viper.GetInt("db_port")
	}
	if v := viper.GetString("db_user"); v != "" {
		config.DBUser = v
	}
	if v := viper.GetString("db_password"); v != "" {
		config.DBPassword = v
	}
	if v := viper.GetString("valkey_address"); v != "" {
		config.ValkeyAddress = v
	}
	if v := viper.GetString("valkey_password"); v != "" {
		config.ValkeyPassword = v
	}
	if viper.IsSet("valkey_db") {
		config.ValkeyDB = viper.GetInt("valkey_db")
	}
	if v := viper.GetString("valkey_prefix"); v != "" {
		config.ValkeyPrefix = v
	}
}

func initLogging() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	if config.AppDebug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
