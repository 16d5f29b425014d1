package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/DoyleJ11/guess-lobby-backend/internal/journal"
	"github.com/DoyleJ11/guess-lobby-backend/internal/lobby"
	"github.com/DoyleJ11/guess-lobby-backend/internal/store"
)

const EnvPrefix = "GUESS"

type Config struct {
	Bind           string
	Port           int
	DefaultLobby   string
	GuessMin       int
	GuessMax       int
	Points         int
	OutboxSize     int
	JournalQueue   int
	Journal        string
	RedisAddr      string
	RedisDB        int
	DatabaseURL    string
	OriginPatterns []string
	PublicURL      string
	Dev            bool
	LogLevel       string
}

// Validate checks the configuration and canonicalises the default lobby name.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	name, err := lobby.CleanName(c.DefaultLobby, lobby.MaxLobbyName)
	if err != nil {
		return fmt.Errorf("invalid default lobby: %w", err)
	}
	c.DefaultLobby = name
	if c.GuessMin < 1 {
		return fmt.Errorf("guess-min must be positive: %d", c.GuessMin)
	}
	if c.GuessMin > c.GuessMax {
		return fmt.Errorf("guess-min (%d) must not exceed guess-max (%d)", c.GuessMin, c.GuessMax)
	}
	if c.Points < 1 {
		return fmt.Errorf("points must be positive: %d", c.Points)
	}
	if c.OutboxSize < 1 {
		return fmt.Errorf("outbox-size must be positive: %d", c.OutboxSize)
	}
	if c.JournalQueue < 1 {
		return fmt.Errorf("journal-queue must be positive: %d", c.JournalQueue)
	}
	switch c.Journal {
	case journal.KindNone:
	case journal.KindRedis:
		if c.RedisAddr == "" {
			return errors.New("--redis-addr is required with --journal=redis")
		}
	case journal.KindPostgres:
		if c.DatabaseURL == "" {
			return errors.New("--database-url is required with --journal=postgres")
		}
	default:
		return fmt.Errorf("%w: %q", journal.ErrUnknownKind, c.Journal)
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

func (c *Config) Rules() store.Rules {
	return store.Rules{GuessMin: c.GuessMin, GuessMax: c.GuessMax, Points: c.Points}
}

func (c *Config) JournalOptions() journal.Options {
	return journal.Options{
		Kind:        c.Journal,
		RedisAddr:   c.RedisAddr,
		RedisDB:     c.RedisDB,
		DatabaseURL: c.DatabaseURL,
	}
}

// NewCommand builds the root command. Every flag can also be set through a
// GUESS_ environment variable; explicit flags win.
func NewCommand(cfg *Config, run func(ctx context.Context, cfg *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "guess-server",
		Short:         "Real-time multi-lobby number guessing server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	defaults := store.DefaultRules()
	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: GUESS_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: GUESS_PORT)")
	fs.StringVar(&cfg.DefaultLobby, "default-lobby", store.DefaultLobby, "lobby that always exists (env: GUESS_DEFAULT_LOBBY)")
	fs.IntVar(&cfg.GuessMin, "guess-min", defaults.GuessMin, "smallest valid guess (env: GUESS_GUESS_MIN)")
	fs.IntVar(&cfg.GuessMax, "guess-max", defaults.GuessMax, "largest valid guess (env: GUESS_GUESS_MAX)")
	fs.IntVar(&cfg.Points, "points", defaults.Points, "points for a correct guess (env: GUESS_POINTS)")
	fs.IntVar(&cfg.OutboxSize, "outbox-size", 16, "notifications buffered per client before it is dropped (env: GUESS_OUTBOX_SIZE)")
	fs.IntVar(&cfg.JournalQueue, "journal-queue", 1024, "journal entries buffered before new ones are dropped (env: GUESS_JOURNAL_QUEUE)")
	fs.StringVar(&cfg.Journal, "journal", journal.KindNone, "audit journal backend: none, redis or postgres (env: GUESS_JOURNAL)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "localhost:6379", "redis address for --journal=redis (env: GUESS_REDIS_ADDR)")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database for --journal=redis (env: GUESS_REDIS_DB)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres DSN for --journal=postgres (env: GUESS_DATABASE_URL)")
	fs.StringSliceVar(&cfg.OriginPatterns, "origin-patterns", nil, "extra websocket origins to accept, e.g. localhost:* (env: GUESS_ORIGIN_PATTERNS)")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "base URL encoded in lobby QR codes (env: GUESS_PUBLIC_URL)")
	fs.BoolVar(&cfg.Dev, "dev", false, "human-readable logs (env: GUESS_DEV)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "debug, info, warn or error (env: GUESS_LOG_LEVEL)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	return cmd
}
