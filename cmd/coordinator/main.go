package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/stablefolio/cctp-coordinator/attestation"
	"github.com/stablefolio/cctp-coordinator/chain"
	"github.com/stablefolio/cctp-coordinator/config"
	"github.com/stablefolio/cctp-coordinator/coordinator"
	"github.com/stablefolio/cctp-coordinator/db"
	"github.com/stablefolio/cctp-coordinator/entity"
	"github.com/stablefolio/cctp-coordinator/ethclient"
	"github.com/stablefolio/cctp-coordinator/logging"
	"github.com/stablefolio/cctp-coordinator/presenter"
	"github.com/stablefolio/cctp-coordinator/repository"
	"github.com/stablefolio/cctp-coordinator/repository/memory"
)

func main() {
	logger := logging.New()

	cfg, err := config.ReadConfigFromFile("config.yml")
	if err != nil {
		logger.WithError(err).Fatal("can't read config")
	}
	logger.SetLevel(logrus.Level(cfg.LogLevel))

	var transfers entity.TransfersRepo
	if cfg.DBConfig != nil {
		dbConn, err2 := db.ConnectToDBAndMigrate(cfg.DBConfig)
		if err2 != nil {
			logger.WithError(err2).Fatal("can't connect to database and apply migrations")
		}
		defer dbConn.Close()
		transfers = repository.NewRepo(dbConn).Transfers
	} else {
		logger.Warn("no database configured, transfers are kept in memory")
		transfers = memory.NewTransfersRepo()
	}

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		err2 := http.ListenAndServe(":2112", nil)
		if err2 != nil {
			logger.WithError(err2).Fatal("can't start listener for prometheus metrics")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())

	bridges := make(map[string]chain.Bridge, len(cfg.Chains))
	for name, chainCfg := range cfg.Chains {
		chainLogger := logger.WithField("chain", name)
		client, err2 := ethclient.NewClient(chainCfg.RPC.Host, time.Duration(chainCfg.RPC.Timeout), chainCfg.ChainID)
		if err2 != nil {
			chainLogger.WithError(err2).Fatal("can't dial rpc client")
		}
		bridge, err2 := chain.NewEVMBridge(name, chainCfg, client, cfg.Signer.PrivateKey)
		if err2 != nil {
			chainLogger.WithError(err2).Fatal("can't initialize chain bridge")
		}
		bridges[name] = bridge
	}

	attestationClient := attestation.NewClient(cfg.Attestation.BaseURL, time.Duration(cfg.Attestation.RequestTimeout))
	poller := attestation.NewPoller(logger.WithField("service", "attestation"), attestationClient, cfg.Attestation)

	c := coordinator.New(ctx, logger, cfg.Chains, bridges, transfers, poller)
	if err = c.Start(ctx); err != nil {
		logger.WithError(err).Fatal("can't recover persisted transfers")
	}

	if cfg.Presenter != nil {
		pr := presenter.NewPresenter(logger.WithField("service", "presenter"), c)
		go func() {
			err2 := pr.Serve(cfg.Presenter.Host)
			if err2 != nil {
				logger.WithError(err2).Fatal("can't serve presenter")
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	for range sig {
		cancel()
		logger.Warn("caught CTRL-C, gracefully terminating")
		return
	}
}
