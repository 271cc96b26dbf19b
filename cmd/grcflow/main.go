package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohitkumar/grcflow/agent"
	"github.com/mohitkumar/grcflow/analytics"
	"github.com/mohitkumar/grcflow/config"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("storage-impl", "memory", "implementation of underline storage, memory or redis")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("redis-password", "", "redis password")
	cmd.Flags().Int("redis-pool-size", 0, "redis connection pool size, 0 for the driver default")
	cmd.Flags().String("namespace", "grcflow", "namespace used in storage")
	cmd.Flags().String("sqlite-audit-path", "", "sqlite file for the escalation audit log")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("log-level", "info", "log level")
	cmd.Flags().Bool("development", false, "development logging")
	cmd.Flags().Int("batch-size", 100, "max records handled by one sweep")
	cmd.Flags().Int("lock-stripes", 256, "instance lock stripes")
	cmd.Flags().Int("post-action-queue", 512, "post action queue capacity")
	cmd.Flags().Duration("escalation-interval", 5*time.Minute, "interval between escalation sweeps")
	cmd.Flags().String("sla-schedule", "*/5 * * * *", "cron schedule of the sla sweep, empty to disable")
	cmd.Flags().String("reminder-schedule", "0 9 * * 1-5", "cron schedule of approval reminders, empty to disable")
	cmd.Flags().Duration("reminder-window", 24*time.Hour, "remind approvers of requests due within this window")
	cmd.Flags().Duration("reminder-interval", 24*time.Hour, "minimum time between reminders of one request")
	cmd.Flags().Int("max-reminders", 3, "max reminders per request")
	cmd.Flags().String("template-dir", "", "directory of workflow templates to seed")
	cmd.Flags().Bool("watch-templates", false, "reload templates when the directory changes")
	cmd.Flags().Duration("template-cache-ttl", 10*time.Minute, "template cache ttl")
	cmd.Flags().Duration("webhook-timeout", 10*time.Second, "webhook request timeout")
	cmd.Flags().Uint64("webhook-max-retries", 3, "webhook retries")
	cmd.Flags().Duration("script-timeout", time.Second, "script action timeout")
	cmd.Flags().String("reference-file", "", "yaml file with roles and sla configurations")
	cmd.Flags().String("analytics-collector", string(analytics.NOOP_DATA_COLLECTOR), "analytics collector type")
	cmd.Flags().String("analytics-file", "grcflow-analytics.log", "analytics log file")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && len(configFile) > 0 {
			return err
		}
	}

	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Password = viper.GetString("redis-password")
	c.cfg.RedisConfig.PoolSize = viper.GetInt("redis-pool-size")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.SQLiteConfig.Path = viper.GetString("sqlite-audit-path")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.LogLevel = viper.GetString("log-level")
	c.cfg.Development = viper.GetBool("development")
	c.cfg.BatchSize = viper.GetInt("batch-size")
	c.cfg.LockStripes = viper.GetInt("lock-stripes")
	c.cfg.PostActionQueue = viper.GetInt("post-action-queue")
	c.cfg.Sweeps.EscalationInterval = viper.GetDuration("escalation-interval")
	c.cfg.Sweeps.SLASchedule = viper.GetString("sla-schedule")
	c.cfg.Sweeps.ReminderSchedule = viper.GetString("reminder-schedule")
	c.cfg.Sweeps.ReminderWindow = viper.GetDuration("reminder-window")
	c.cfg.Sweeps.ReminderInterval = viper.GetDuration("reminder-interval")
	c.cfg.Sweeps.MaxReminders = viper.GetInt("max-reminders")
	c.cfg.Templates.Dir = viper.GetString("template-dir")
	c.cfg.Templates.Watch = viper.GetBool("watch-templates")
	c.cfg.Templates.CacheTTL = viper.GetDuration("template-cache-ttl")
	c.cfg.Actions.WebhookTimeout = viper.GetDuration("webhook-timeout")
	c.cfg.Actions.WebhookMaxRetries = viper.GetUint64("webhook-max-retries")
	c.cfg.Actions.ScriptTimeout = viper.GetDuration("script-timeout")
	c.cfg.ReferenceFile = viper.GetString("reference-file")
	c.cfg.Roles = viper.GetStringMapStringSlice("roles")
	c.cfg.AnalyticsConfig.CollectorType = analytics.DataCollectorType(viper.GetString("analytics-collector"))
	c.cfg.AnalyticsConfig.FileName = viper.GetString("analytics-file")
	return logger.Init(c.cfg.LogLevel, c.cfg.Development)
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	defer logger.Sync()
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		return err
	}
	if err = agent.Start(); err != nil {
		return err
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "grcflow",
		Short:   "workflow, approval and sla engine",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
