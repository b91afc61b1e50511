package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ga1ien/kulti-sub004/internal/api"
	"github.com/ga1ien/kulti-sub004/internal/config"
	"github.com/ga1ien/kulti-sub004/internal/service"
	"github.com/ga1ien/kulti-sub004/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	var logger *zap.Logger
	if cfg.Production() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	milestones, err := config.LoadMilestones(cfg.MilestonesPath)
	if err != nil {
		logger.Fatal("loading milestone definitions", zap.Error(err))
	}

	ledgerStore, err := store.New(context.Background(), cfg.DBSource, logger)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	defer ledgerStore.Close()

	// Initialize Layers
	emitter := service.NewLogEmitter(logger)
	evaluator := service.NewMilestones(ledgerStore, milestones, emitter, logger)
	ledger := service.NewLedger(ledgerStore, evaluator, logger)
	settlement := service.NewSettlement(ledgerStore, service.DefaultAccrualPolicy(), evaluator, emitter, logger)
	handler := api.NewHandler(ledgerStore, ledger, settlement, evaluator, logger)

	// Router
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/accounts", handler.CreateAccount).Methods("POST")
	apiV1.HandleFunc("/accounts/{id}", handler.GetAccount).Methods("GET")
	apiV1.HandleFunc("/accounts/{id}", handler.ArchiveAccount).Methods("DELETE")
	apiV1.HandleFunc("/accounts/{id}/transactions", handler.GetTransactions).Methods("GET")
	apiV1.HandleFunc("/accounts/{id}/milestones", handler.GetMilestones).Methods("GET")
	apiV1.HandleFunc("/transactions", handler.ApplyTransaction).Methods("POST")
	apiV1.HandleFunc("/tips", handler.CreateTip).Methods("POST")
	apiV1.HandleFunc("/sessions", handler.CreateSession).Methods("POST")
	apiV1.HandleFunc("/sessions/{id}", handler.GetSession).Methods("GET")
	apiV1.HandleFunc("/sessions/{id}/join", handler.JoinSession).Methods("POST")
	apiV1.HandleFunc("/sessions/{id}/leave", handler.LeaveSession).Methods("POST")
	apiV1.HandleFunc("/sessions/{id}/chat", handler.RecordChat).Methods("POST")
	apiV1.HandleFunc("/sessions/{id}/settle", handler.SettleSession).Methods("POST")
	apiV1.HandleFunc("/leaderboard", handler.Leaderboard).Methods("GET")

	logger.Info("server starting", zap.String("port", cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
