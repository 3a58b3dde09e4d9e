package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-userauth"
	"github.com/spf13/viper"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"go.uber.org/zap"
)

func main() {
	if err := setupConfig(); err != nil {
		panic(err)
	}

	log, err := makeLogger(viper.GetString("app.log_level"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	if err := run(log); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqldb, err := sql.Open(sqliteshim.ShimName, viper.GetString("db.dsn"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer sqldb.Close()

	db := bun.NewDB(sqldb, sqlitedialect.New())

	if err := applyMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	logger := zapAdapter{log: log.Sugar()}

	cfg := auth.BaseConfig{
		SigningKey:            viper.GetString("jwt.secret"),
		AccessTokenTTL:        viper.GetDuration("jwt.access_ttl"),
		RefreshTokenTTL:       viper.GetDuration("jwt.refresh_ttl"),
		VerificationTokenTTL:  viper.GetDuration("tokens.verification_ttl"),
		PasswordResetTokenTTL: viper.GetDuration("tokens.password_reset_ttl"),
		Issuer:                viper.GetString("jwt.issuer"),
		BcryptCost:            viper.GetInt("auth.bcrypt_cost"),
	}

	repo := auth.NewRepositoryManager(db)
	repo.MustValidate()

	if err := bootstrapSuperuser(ctx, repo, cfg, log); err != nil {
		return fmt.Errorf("failed to bootstrap superuser: %w", err)
	}

	sink := auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		log.Info("activity",
			zap.String("event", string(event.EventType)),
			zap.String("user_id", event.UserID),
			zap.String("actor", event.Actor.ID),
		)
		return nil
	})

	auther := auth.NewAuthenticator(repo, cfg).
		WithLogger(logger).
		WithActivitySink(sink)

	guard := auth.NewHTTPAuthMiddleware(auther.TokenService(), repo).
		WithLogger(logger)

	controller := auth.NewAuthController(
		auth.WithControllerRepo(repo),
		auth.WithControllerAuthenticator(auther),
		auth.WithControllerConfig(cfg),
		auth.WithControllerLogger(logger),
		auth.WithControllerMailer(auth.NewLogMailer(logger)),
		auth.WithControllerActivitySink(sink),
		auth.WithControllerDebug(viper.GetBool("app.debug")),
	)

	app := fiber.New(fiber.Config{
		AppName:      "userauthd",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})

	auth.RegisterAuthRoutes(app, controller, guard)

	errc := make(chan error, 1)
	go func() {
		errc <- app.Listen(fmt.Sprintf(":%d", viper.GetInt("host.port")))
	}()

	log.Info("server starting", zap.Int("port", viper.GetInt("host.port")))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	}
}

func setupConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()

	viper.BindEnv("app.log_level", "APP_LOG_LEVEL")
	viper.BindEnv("app.debug", "APP_DEBUG")
	viper.BindEnv("host.port", "HOST_PORT")
	viper.BindEnv("db.dsn", "DB_DSN")
	viper.BindEnv("jwt.secret", "JWT_SECRET")
	viper.BindEnv("jwt.issuer", "JWT_ISSUER")
	viper.BindEnv("bootstrap.email", "BOOTSTRAP_EMAIL")
	viper.BindEnv("bootstrap.password", "BOOTSTRAP_PASSWORD")

	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.debug", false)
	viper.SetDefault("host.port", 8080)
	viper.SetDefault("db.dsn", "file:userauth.db?cache=shared&_pragma=foreign_keys(1)")
	viper.SetDefault("jwt.issuer", "userauthd")
	viper.SetDefault("jwt.access_ttl", "30m")
	viper.SetDefault("jwt.refresh_ttl", "168h")
	viper.SetDefault("tokens.verification_ttl", "72h")
	viper.SetDefault("tokens.password_reset_ttl", "24h")
	viper.SetDefault("auth.bcrypt_cost", 12)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if viper.GetString("jwt.secret") == "" {
		return errors.New("jwt.secret is required, set it in config.toml or via JWT_SECRET")
	}

	return nil
}

func makeLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg.Level = lvl

	return cfg.Build()
}

// applyMigrations runs the embedded sqlite DDL. Statements are idempotent so
// re-running on boot is safe.
func applyMigrations(ctx context.Context, db *bun.DB) error {
	migrations, err := fs.Sub(auth.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := fs.ReadFile(migrations, name)
		if err != nil {
			return err
		}

		for _, stmt := range strings.Split(string(content), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %s failed: %w", name, err)
			}
		}
	}

	return nil
}

// bootstrapSuperuser creates the first admin account when the configured
// email does not exist yet. Bootstrapped accounts skip email verification.
func bootstrapSuperuser(ctx context.Context, repo auth.RepositoryManager, cfg auth.Config, log *zap.Logger) error {
	email := viper.GetString("bootstrap.email")
	password := viper.GetString("bootstrap.password")

	if email == "" || password == "" {
		return nil
	}

	if _, err := repo.Users().GetByEmail(ctx, email); err == nil {
		return nil
	} else if !goerrors.Is(err, auth.ErrUserNotFound) {
		return err
	}

	hash, err := auth.HashPasswordCost(password, cfg.GetBcryptCost())
	if err != nil {
		return err
	}

	user := &auth.User{
		Email:         email,
		PasswordHash:  hash,
		FullName:      viper.GetString("bootstrap.full_name"),
		IsActive:      true,
		IsSuperuser:   true,
		EmailVerified: true,
	}

	if _, err := repo.Users().Create(ctx, user); err != nil {
		return err
	}

	log.Info("bootstrapped superuser account", zap.String("email", email))

	return nil
}

type zapAdapter struct {
	log *zap.SugaredLogger
}

func (l zapAdapter) Debug(format string, args ...any) { l.log.Debugf(format, args...) }
func (l zapAdapter) Info(format string, args ...any)  { l.log.Infof(format, args...) }
func (l zapAdapter) Warn(format string, args ...any)  { l.log.Warnf(format, args...) }
func (l zapAdapter) Error(format string, args ...any) { l.log.Errorf(format, args...) }
