package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"opora/app/client/telegram"
	"opora/app/config"
	"opora/app/service/cache"
	"opora/app/service/engine"
	"opora/app/service/memory"
	"opora/app/service/queue"
	"opora/app/service/therapy"
	"opora/app/util/mylog"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
)

func main() {
	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	mylog.Preinit()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	do.Provide(di, telegram.NewClient)
	do.Provide(di, cache.New)
	do.Provide(di, memory.New)
	do.Provide(di, therapy.New)
	do.Provide(di, queue.New)
	do.Provide(di, engine.New)

	slog.Info("Service started")

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	go do.MustInvoke[*engine.Service](di).Run(appCtx)
	go do.MustInvoke[*telegram.Client](di).RunPollLoop(appCtx)

	<-appCtx.Done()
}
