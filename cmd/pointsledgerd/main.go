package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pointsledger/config"
	"pointsledger/core/bank"
	"pointsledger/core/redemption"
	"pointsledger/observability/logging"
	"pointsledger/rpc"
	"pointsledger/state"
	"pointsledger/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./config.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.ServiceName, cfg.Environment)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open database", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	if err := bootstrap(manager, cfg); err != nil {
		logger.Error("bootstrap state", "error", err)
		os.Exit(1)
	}

	engine := redemption.NewEngine(manager)
	engine.SetEmitter(state.NewLogEmitter(manager, logger))

	server := rpc.New(rpc.Config{
		Engine:             engine,
		State:              manager,
		Owner:              cfg.OwnerAddress(),
		AdminToken:         cfg.AdminToken,
		Logger:             logger,
		ClaimRatePerMinute: cfg.ClaimRatePerMinute,
		ClaimBurst:         cfg.ClaimBurst,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.ListenAddress)
		errCh <- httpSrv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err)
			os.Exit(1)
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}
}

// bootstrap seeds the owner and, when configured, the initial global signer.
// The owner slot is overwritten on every start so the configuration file stays
// authoritative; the signer slot is only seeded when empty because rotations
// happen through the admin API.
func bootstrap(manager *state.Manager, cfg *config.Config) error {
	if err := manager.SetOwner(cfg.OwnerAddress()); err != nil {
		return err
	}
	if signer, ok := cfg.SignerAddress(); ok {
		if _, exists, err := manager.GlobalSigner(); err != nil {
			return err
		} else if !exists {
			if err := manager.SetGlobalSigner(signer); err != nil {
				return err
			}
		}
	}
	if funding, _ := cfg.OwnerFundingAmount(); funding != nil {
		balance, err := bank.BalanceOf(manager, cfg.OwnerAddress(), bank.NativeAsset())
		if err != nil {
			return err
		}
		if balance.Sign() == 0 {
			if err := bank.Mint(manager, cfg.OwnerAddress(), bank.NativeAsset(), funding); err != nil {
				return err
			}
		}
	}
	return nil
}
