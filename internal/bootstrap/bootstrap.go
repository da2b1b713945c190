// Package bootstrap wires the vault's adapters and services from a Config.
// Both the HTTP server and the MCP server start from here.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	githubadapter "github.com/ericfisherdev/credvault/internal/adapter/driven/github"
	sqliteadapter "github.com/ericfisherdev/credvault/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/credvault/internal/application"
	"github.com/ericfisherdev/credvault/internal/config"
	"github.com/ericfisherdev/credvault/internal/domain/port/driven"
	"github.com/ericfisherdev/credvault/internal/domain/provider"
)

// App holds the wired components. Close releases the database.
type App struct {
	DB        *sqliteadapter.DB
	Vault     *application.VaultService
	Rotation  *application.RotationService
	Verifiers *application.VerifierSet

	logger *slog.Logger
}

// Open opens the database, applies migrations, derives the encryption key
// and builds the vault services.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	// 1. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	logger.Info("database opened", "path", cfg.DBPath)

	// 2. Run migrations on writer connection.
	version, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("migrations complete", "version", version)

	// 3. Derive the credential encryption key.
	cipher, err := application.NewCipher(cfg.MasterSecret, []byte(cfg.KDFSalt), cfg.KDFIterations)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	// 4. Wire adapters.
	repo := sqliteadapter.NewCredentialRepo(db)
	store := application.NewEncryptedStore(repo, cipher)

	verifier, err := newGitHubVerifier(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	verifiers := application.NewVerifierSet(map[string]driven.IdentityVerifier{
		"github": verifier,
	})

	// 5. Build services.
	vault := application.NewVaultService(application.VaultDeps{
		Registry:              provider.NewDefaultRegistry(),
		Store:                 store,
		Limiter:               application.NewRateLimiter(cfg.RateLimitAttempts, cfg.RateLimitWindow),
		Cache:                 application.NewValidationCache(cfg.ValidationCacheTTL),
		Verifiers:             verifiers,
		Usage:                 application.NewUsageTracker(),
		Logger:                logger,
		MaskVisible:           cfg.MaskChars,
		LiveValidationTimeout: cfg.LiveValidationTimeout,
	})
	rotation := application.NewRotationService(store, repo, cfg.RotationAge, logger)

	logger.Info("vault ready",
		"kdf_iterations", cfg.KDFIterations,
		"rate_limit_attempts", cfg.RateLimitAttempts,
		"rate_limit_window", cfg.RateLimitWindow,
		"live_validation", verifiers.Providers(),
	)

	return &App{DB: db, Vault: vault, Rotation: rotation, Verifiers: verifiers, logger: logger}, nil
}

// ReloadVerifiers rebuilds the live verifiers from cfg and swaps them in.
// Checks already in flight finish on the previous verifier. On error the
// current verifiers stay in place.
func (a *App) ReloadVerifiers(cfg *config.Config) error {
	verifier, err := newGitHubVerifier(cfg)
	if err != nil {
		return err
	}
	a.Verifiers.Replace("github", verifier)
	a.logger.Info("live verifiers reloaded", "github_api_url", cfg.GitHubAPIURL)
	return nil
}

func newGitHubVerifier(cfg *config.Config) (*githubadapter.Verifier, error) {
	v, err := githubadapter.NewVerifier(cfg.GitHubAPIURL)
	if err != nil {
		return nil, fmt.Errorf("create github verifier: %w", err)
	}
	return v, nil
}

// Close closes the database.
func (a *App) Close() error {
	return a.DB.Close()
}
