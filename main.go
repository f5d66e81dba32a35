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

	"github.com/gin-gonic/gin"

	"github.com/fluffyriot/channelgrab/internal/api/handlers"
	"github.com/fluffyriot/channelgrab/internal/config"
	"github.com/fluffyriot/channelgrab/internal/engine"
	"github.com/fluffyriot/channelgrab/internal/ingest"
	"github.com/fluffyriot/channelgrab/internal/ingest/protocol"
	"github.com/fluffyriot/channelgrab/internal/ingest/webscrape"
	"github.com/fluffyriot/channelgrab/internal/media"
	"github.com/fluffyriot/channelgrab/internal/notify"
	"github.com/fluffyriot/channelgrab/internal/syncer"
	"github.com/fluffyriot/channelgrab/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalln(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	downloader := media.NewDownloader(cfg.ScraperTimeout)
	compressor := media.NewCompressor(cfg.PhotoMaxDim, cfg.PhotoJPEGQuality)

	core := syncer.New(cfg.CoreAPIURL, 30*time.Second)

	publisher, err := notify.New(cfg.RedisURL)
	if err != nil {
		log.Fatalln(err)
	}
	defer publisher.Close()

	var (
		source   ingest.Source
		mediaSrc ingest.MediaSource
		svc      *engine.Service
		tgClient *protocol.Client
		live     *protocol.LiveHandler
	)

	switch cfg.Mode() {
	case config.ModeProtocol:
		log.Println("Starting in protocol mode (MTProto client)")
		// svc is assigned below, before the client connects and
		// updates can flow.
		live = protocol.NewLiveHandler(cfg.LiveMaxAge, cfg.AlbumDebounce, func(p *ingest.Post) {
			svc.HandleLivePost(p)
		})
		tgClient = protocol.NewClient(cfg.TelegramAPIID, cfg.TelegramAPIHash, cfg.TelegramSessionFile, cfg.TelegramBotToken, live.Dispatcher())
		adapter := protocol.NewAdapter(tgClient, compressor)
		source, mediaSrc = adapter, adapter
	default:
		log.Println("Starting in webscrape mode (t.me scraper)")
		scraper := webscrape.New(webscrape.Config{
			Timeout:       cfg.ScraperTimeout,
			Concurrent:    cfg.ScraperConcurrent,
			MissThreshold: cfg.ScraperMissThreshold,
		}, downloader, compressor)
		source, mediaSrc = scraper, scraper
	}

	svc = engine.New(source, mediaSrc, core, publisher, downloader, compressor)

	if tgClient != nil {
		tgClient.Start(ctx)
	}

	if len(cfg.DefaultChannels) > 0 {
		go func() {
			for _, channel := range cfg.DefaultChannels {
				if _, err := svc.Join(ctx, channel); err != nil {
					log.Printf("Auto-join %s: %v", channel, err)
				}
			}
		}()
	}

	w := worker.NewWorker(svc, source)
	w.Start(cfg.PollInterval)

	r := gin.Default()
	h := handlers.NewHandler(svc, w, cfg)
	h.Register(r)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalln(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	w.Stop()
	if live != nil {
		live.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
}
