package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pysugar/food-log-nexus/internal/api"
	"github.com/pysugar/food-log-nexus/internal/api/middleware"
	"github.com/pysugar/food-log-nexus/internal/auth/fitbit"
	"github.com/pysugar/food-log-nexus/internal/auth/identity"
	"github.com/pysugar/food-log-nexus/internal/auth/token"
	"github.com/pysugar/food-log-nexus/internal/config"
	"github.com/pysugar/food-log-nexus/internal/credentials"
	"github.com/pysugar/food-log-nexus/internal/db"
	fitbitapi "github.com/pysugar/food-log-nexus/internal/fitbit"
	"github.com/pysugar/food-log-nexus/internal/foodlog"
	"github.com/pysugar/food-log-nexus/internal/monitor"
	"github.com/pysugar/food-log-nexus/internal/version"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var configPath string

var rootCmd = &cobra.Command{
	Use:   "foodlog-nexus",
	Short: "Log AI-generated meal nutrition to Fitbit",
	Long: `foodlog-nexus links Fitbit accounts to verified users and logs meals
submitted as nutrition JSON, creating a custom food and a food-log entry
for every item.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		v := version.Get()
		fmt.Fprintf(cmd.OutOrStdout(), "foodlog-nexus %s (commit %s, built %s)\n", v.Version, v.Commit, v.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or TOML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Source != "" {
		log.Printf("📄 Loaded config from %s", cfg.Source)
	}

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.Fitbit.HTTPTimeout}

	oauthCfg := fitbit.NewOAuthConfig(fitbit.OAuthSettings{
		ClientID:     cfg.Fitbit.ClientID,
		ClientSecret: cfg.Fitbit.ClientSecret,
		RedirectURL:  cfg.Fitbit.RedirectURI,
		AuthURL:      cfg.Fitbit.AuthURL,
		TokenURL:     cfg.Fitbit.TokenURL,
	})
	tokens := token.NewManager(credentials.NewStore(database), oauthCfg, httpClient)

	meals := foodlog.NewOrchestrator(
		foodlog.NewProcessor(fitbitapi.NewClient(cfg.Fitbit.APIBaseURL, httpClient)),
		cfg.FoodLog.MaxConcurrency,
	)

	audit := monitor.NewSubmissionMonitor(database)
	audit.SetEnabled(cfg.Audit.Enabled)

	verifier, err := identity.NewJWTVerifier(cfg.Identity.JWTSecret, cfg.Identity.Issuer, cfg.Identity.Audience)
	if err != nil {
		return err
	}

	redirects, err := fitbit.NewRedirectPolicy(cfg.Redirect.AllowedOrigins, cfg.Redirect.AllowedPattern)
	if err != nil {
		return err
	}

	// The ID token secret doubles as the state key; only this service mints either.
	states, err := fitbit.NewStateSigner(cfg.Identity.JWTSecret, fitbit.DefaultStateTTL)
	if err != nil {
		return err
	}

	var scorer middleware.Scorer
	if cfg.Recaptcha.Secret != "" {
		scorer = middleware.NewRecaptchaClient(cfg.Recaptcha.Secret, cfg.Recaptcha.VerifyURL, httpClient)
	} else {
		log.Printf("⚠️ RECAPTCHA_SECRET is not set, bot verification is disabled")
	}

	router := api.NewRouter(api.Deps{
		Tokens:                tokens,
		Meals:                 meals,
		Audit:                 audit,
		Verifier:              verifier,
		Redirects:             redirects,
		States:                states,
		BotScorer:             scorer,
		ThresholdAuthenticate: cfg.Recaptcha.ThresholdAuthenticate,
		ThresholdWriteLog:     cfg.Recaptcha.ThresholdWriteLog,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🚀 foodlog-nexus %s starting on http://%s", version.Version, srv.Addr)
		log.Printf("🔌 Food log API: http://%s/api/foodlog", srv.Addr)
		log.Printf("🔑 OAuth callback: %s", cfg.Fitbit.RedirectURI)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("🛑 Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	audit.Wait()
	stats := audit.Stats()
	log.Printf("📊 Submissions this database: total=%d, success=%d, errors=%d", stats.TotalSubmissions, stats.SuccessCount, stats.ErrorCount)
	return nil
}
