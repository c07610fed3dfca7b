package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/kratos2377/rally-matchmaker/app/api/handlers"
	"github.com/kratos2377/rally-matchmaker/app/bootstrap"
	"github.com/kratos2377/rally-matchmaker/app/config"
	"github.com/kratos2377/rally-matchmaker/domain/confirmation"
	"github.com/kratos2377/rally-matchmaker/domain/notify"
	"github.com/kratos2377/rally-matchmaker/domain/searches"
	"github.com/rs/cors"
)

func main() {
	flags := config.Flags("api", "./app/api")
	flags.String("port", "", "HTTP listen port")
	flags.Parse(os.Args[1:])
	configDir, _ := flags.GetString("config")

	cfg, err := config.LoadConfig(configDir, flags)
	if err != nil {
		log.Fatal(err)
	}
	logger := config.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// With Kafka configured every process publishes there and the bridge
	// below delivers to sockets; otherwise sockets are notified directly.
	var (
		socketServer *socketio.Server
		local        []notify.Notifier
	)
	if cfg.SocketEnabled {
		socketServer = notify.NewSocketServer(logger)
		if len(cfg.KafkaBrokers) == 0 {
			local = append(local, notify.NewSocketNotifier(socketServer))
		}
	}

	engine, err := bootstrap.New(ctx, cfg, logger, local...)
	if err != nil {
		logger.Error("engine setup failed", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	finalizer := engine.Finalizer()

	searchesAPIUseCases := &struct {
		*searches.StartSearchUseCase
		*searches.CancelSearchUseCase
		*searches.HeartbeatUseCase
		*searches.GetSearchUseCase
		*searches.WaitlistUseCase
	}{
		StartSearchUseCase: searches.NewStartSearchUseCase(engine.Requests, engine.Profiles, engine.Enqueuer, searches.StartSearchUseCaseConfig{
			Venues:    cfg.Venues,
			SearchTTL: cfg.SearchTTL,
			Logger:    logger,
		}),
		CancelSearchUseCase: searches.NewCancelSearchUseCase(engine.Requests, engine.Coord, engine.Enqueuer, logger),
		HeartbeatUseCase:    searches.NewHeartbeatUseCase(engine.Requests, engine.Coord, engine.Enqueuer),
		GetSearchUseCase:    searches.NewGetSearchUseCase(engine.Requests),
		WaitlistUseCase:     searches.NewWaitlistUseCase(engine.Requests, engine.Enqueuer, logger),
	}

	confirmationAPIUseCases := &struct {
		*confirmation.AcceptMatchUseCase
		*confirmation.DeclineMatchUseCase
	}{
		AcceptMatchUseCase:  confirmation.NewAcceptMatchUseCase(engine.Requests, engine.Coord, finalizer),
		DeclineMatchUseCase: confirmation.NewDeclineMatchUseCase(engine.Requests, engine.Coord, engine.Enqueuer, engine.Notifier, logger),
	}

	router := handlers.NewServer(handlers.UseCases{
		SearchesAPIUseCases:     searchesAPIUseCases,
		ConfirmationAPIUseCases: confirmationAPIUseCases,
		Logger:                  logger,
	})

	if socketServer != nil {
		go func() {
			if err := socketServer.Serve(); err != nil {
				logger.Error("socket server stopped", "error", err)
			}
		}()
		defer socketServer.Close()
		router.Handle("/socket.io/*", socketServer)

		if len(cfg.KafkaBrokers) > 0 {
			reader := notify.NewKafkaBridgeReader(cfg.KafkaBrokers, cfg.KafkaTopic, notify.BridgeGroupID(cfg.SocketGroupID))
			defer reader.Close()
			bridge := notify.NewBridge(reader, notify.NewSocketNotifier(socketServer), logger)
			go func() {
				if err := bridge.Run(ctx); err != nil {
					logger.Error("notification bridge stopped", "error", err)
				}
			}()
		}
	}

	if cfg.EngineEmbedded {
		s, err := engine.NewScheduler()
		if err != nil {
			logger.Error("scheduler setup failed", "error", err)
			os.Exit(1)
		}
		if err := engine.ScheduleMatching(ctx, s); err != nil {
			logger.Error("matching job not scheduled", "error", err)
			os.Exit(1)
		}
		if err := engine.ScheduleReaper(ctx, s); err != nil {
			logger.Error("reaper job not scheduled", "error", err)
			os.Exit(1)
		}
		s.Start()
		defer func() {
			if err := s.Shutdown(); err != nil {
				logger.Warn("error while shutting down embedded scheduler", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "X-User-ID"},
			AllowCredentials: true,
		}).Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("api listening", "port", cfg.Port, "embedded_engine", cfg.EngineEmbedded, "sockets", cfg.SocketEnabled)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
	}
}
