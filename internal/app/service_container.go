package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"proofplus-coordinator/internal/chain"
	"proofplus-coordinator/internal/clients"
	"proofplus-coordinator/internal/config"
	"proofplus-coordinator/internal/contract"
	"proofplus-coordinator/internal/db"
	"proofplus-coordinator/internal/executor"
	"proofplus-coordinator/internal/repository"
	"proofplus-coordinator/internal/router"
	"proofplus-coordinator/internal/services"
)

const shutdownTimeout = 10 * time.Second

// NewLogger builds the process logger from the log section
func NewLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	return logger, nil
}

// App owns every long-lived component of the coordinator process
type App struct {
	Config *config.Config
	Logger *logrus.Logger

	// Chain
	Client     *ethclient.Client
	Subscriber *chain.Subscriber
	Sender     *chain.TxSender

	// Storage
	DB            *gorm.DB
	FinalizedRepo repository.FinalizedTaskRepository
	FailedTxRepo  repository.FailedTransactionRepository

	// Services
	Tracker     *services.TaskTracker
	Reconciler  *services.ResultReconciler
	Slash       *services.SlashService
	Retry       *services.FailedTransactionRetryService
	Dispatcher  *services.TaskDispatcher
	Coordinator *services.ProofTaskCoordinator

	// Optional
	NATS   *clients.NATSPublisher
	Server *http.Server
}

// New connects to the chain, the store and NATS and wires the services.
// On error everything opened so far is released.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	codec, err := contract.NewTaskManager()
	if err != nil {
		return nil, err
	}
	program, err := config.LoadProgram(cfg.Prover)
	if err != nil {
		return nil, err
	}

	if err := a.initChain(ctx, codec); err != nil {
		return nil, err
	}
	if err := a.initStorage(); err != nil {
		return nil, err
	}

	var publisher services.OutcomePublisher
	if cfg.NATS.URL != "" {
		a.NATS, err = clients.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, cfg.NATS.Stream, cfg.NATS.Timeout, logger)
		if err != nil {
			return nil, err
		}
		publisher = a.NATS
	} else {
		logger.Info("nats.url is empty, outcome notifications disabled")
	}

	var slasher services.Slasher
	if cfg.Slash.Enabled {
		a.Slash = services.NewSlashService(codec, a.Sender, a.FailedTxRepo, cfg.Slash.MaxRetries, logger)
		a.Retry = services.NewFailedTransactionRetryService(a.FailedTxRepo, a.Sender, cfg.Slash.RetryInterval, logger)
		slasher = a.Slash
	} else {
		logger.Warn("slash.enabled is false, mismatches are only reported")
	}

	a.Tracker = services.NewTaskTracker()
	a.Reconciler = services.NewResultReconciler(a.FinalizedRepo, a.Tracker, slasher, publisher, services.ReconcilerConfig{
		Attempts: cfg.Reconcile.Attempts,
		Delay:    cfg.Reconcile.Delay,
	}, logger)

	a.Dispatcher = services.NewTaskDispatcher(
		a.Sender.Address(),
		program,
		codec,
		newExecutor(cfg.Executor, logger),
		a.Sender,
		clients.NewProverClient(cfg.Prover.Timeout, logger),
		a.Tracker,
		a.Reconciler,
		logger,
	)
	a.Coordinator = services.NewProofTaskCoordinator(
		a.Subscriber,
		cfg.Chain.FromBlockNumber(),
		a.Sender.Address(),
		a.Dispatcher,
		a.Reconciler,
		a.Retry,
		logger,
	)

	if cfg.Server.Port > 0 {
		gin.SetMode(gin.ReleaseMode)
		a.Server = &http.Server{
			Addr: cfg.Server.Address(),
			Handler: router.SetupRouter(router.Deps{
				Health:    a.Coordinator,
				States:    a.Tracker,
				Finalized: a.FinalizedRepo,
				Server:    cfg.Server,
				Logger:    logger,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return a, nil
}

func (a *App) initChain(ctx context.Context, codec *contract.TaskManager) error {
	cfg := a.Config.Chain

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.RPCURL, err)
	}
	a.Client = client

	gasPrice, err := cfg.GasPriceWei()
	if err != nil {
		return err
	}
	a.Sender, err = chain.NewTxSender(ctx, client, cfg.PrivateKey, cfg.ContractAddressValue(), cfg.ChainID, chain.TxSenderOptions{
		GasLimit:       cfg.GasLimit,
		GasPrice:       gasPrice,
		ConfirmTimeout: cfg.ConfirmTimeout,
	}, a.Logger)
	if err != nil {
		return err
	}
	a.Subscriber = chain.NewSubscriber(client, cfg.ContractAddressValue(), codec, cfg.PollInterval, a.Logger)

	a.Logger.WithFields(logrus.Fields{
		"chain_id": cfg.ChainID,
		"contract": cfg.ContractAddressValue().Hex(),
		"self":     a.Sender.Address().Hex(),
	}).Info("Chain connection ready")
	return nil
}

func (a *App) initStorage() error {
	database, err := db.Open(a.Config.Database, a.Logger)
	if err != nil {
		return err
	}
	a.DB = database
	a.FinalizedRepo = repository.NewFinalizedTaskRepository(database)
	a.FailedTxRepo = repository.NewFailedTransactionRepository(database)
	return nil
}

func newExecutor(cfg config.ExecutorConfig, logger *logrus.Logger) executor.Executor {
	if cfg.Command == "" {
		logger.Warn("executor.command is empty, cycle estimates will be zero")
		return executor.ZeroCycleExecutor{}
	}
	return executor.NewCommandExecutor(cfg.Command, cfg.Args, cfg.Env, cfg.Timeout, logger)
}

// Run serves the status API and runs the coordinator until ctx is done
func (a *App) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	if a.Server != nil {
		go func() {
			a.Logger.WithField("addr", a.Server.Addr).Info("Status API listening")
			if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()
	}

	runErr := a.Coordinator.Run(ctx)

	if a.Server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			a.Logger.WithError(err).Warn("Status API shutdown")
		}
		if err := <-serveErr; err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("status API: %w", err))
		}
	}
	return runErr
}

// Close releases connections. Safe on a partially built App.
func (a *App) Close() {
	if a.NATS != nil {
		a.NATS.Close()
	}
	if a.DB != nil {
		if err := db.Close(a.DB); err != nil {
			a.Logger.WithError(err).Warn("Failed to close database")
		}
	}
	if a.Client != nil {
		a.Client.Close()
	}
}
