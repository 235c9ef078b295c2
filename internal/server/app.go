// Package server wires the account service together: it opens the selected
// credential store, builds the media uploader and runs the HTTP API until
// the process is told to stop.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/videotube/internal/filex"
	"github.com/dmitrijs2005/videotube/internal/logging"
	"github.com/dmitrijs2005/videotube/internal/server/config"
	"github.com/dmitrijs2005/videotube/internal/server/media"
	"github.com/dmitrijs2005/videotube/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/videotube/internal/server/repositories/users"
	"github.com/dmitrijs2005/videotube/internal/server/rest"
	"github.com/dmitrijs2005/videotube/internal/server/services"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const storeInitTimeout = 15 * time.Second

type closer func(ctx context.Context) error

type App struct {
	config  *config.Config
	logger  logging.Logger
	http    *rest.Server
	closers []closer
}

// store is an opened credential store together with its health probe.
type store struct {
	repo   users.Repository
	health rest.HealthFunc
	close  closer
}

func openPostgres(ctx context.Context, c *config.Config) (*store, error) {
	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	return &store{
		repo:   rm.Users(db),
		health: db.PingContext,
		close:  func(context.Context) error { return db.Close() },
	}, nil
}

func openMongo(ctx context.Context, c *config.Config) (*store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(c.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect error: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping error: %w", err)
	}

	repo := users.NewMongoRepository(client.Database(c.MongoDatabase))
	if err := repo.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo index error: %w", err)
	}

	return &store{
		repo:   repo,
		health: func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) },
		close:  client.Disconnect,
	}, nil
}

func openStore(ctx context.Context, c *config.Config) (*store, error) {
	switch c.Store {
	case config.StorePostgres:
		return openPostgres(ctx, c)
	case config.StoreMongo:
		return openMongo(ctx, c)
	case config.StoreMemory:
		return &store{repo: users.NewMemoryRepository()}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Store)
	}
}

func NewApp(c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), storeInitTimeout)
	defer cancel()

	uploadDir, err := filex.EnsureSubdDir(c.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("upload dir error: %w", err)
	}

	st, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}

	app := &App{config: c, logger: logger}
	if st.close != nil {
		app.closers = append(app.closers, st.close)
	}

	uploader, err := media.NewS3Uploader(ctx, media.Config{
		Bucket:        c.S3Bucket,
		Region:        c.S3Region,
		AccessKeyID:   c.S3RootUser,
		SecretKey:     c.S3RootPassword,
		Endpoint:      c.S3BaseEndpoint,
		PublicBaseURL: c.S3PublicBaseURL,
		UploadTimeout: c.UploadTimeout,
	}, media.WithLogger(logger))
	if err != nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("media init error: %w", err)
	}

	us := services.NewUserService(st.repo, uploader, c, logger)

	app.http = rest.NewServer(rest.Options{
		Address:        c.HTTPAddr,
		UploadDir:      uploadDir,
		MaxUploadBytes: c.MaxUploadBytes,
		CORSOrigin:     c.CORSOrigin,
		Transport: rest.SessionTransport{
			Secure:     c.CookieSecure,
			AccessTTL:  c.AccessTokenValidityDuration,
			RefreshTTL: c.RefreshTokenValidityDuration,
		},
		Health: st.health,
	}, us, logger)

	logger.Info(ctx, "app initialized", "store", c.Store, "address", c.HTTPAddr)

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.http.Run(ctx); err != nil {
		app.logger.Error(ctx, "http server failed", "error", err)
		cancelFunc()
	}
}

// Run serves HTTP until ctx is cancelled or a termination signal arrives,
// then releases the store.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), storeInitTimeout)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		app.logger.Error(closeCtx, "shutdown error", "error", err)
	}

	app.logger.Info(closeCtx, "App stopped")
}

// Close releases the resources opened by NewApp.
func (app *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}
