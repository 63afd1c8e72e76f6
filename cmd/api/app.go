package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/nomadcafe/kekiai-japaneseai/internal/artifacts"
	"github.com/nomadcafe/kekiai-japaneseai/internal/config"
	"github.com/nomadcafe/kekiai-japaneseai/internal/events"
	"github.com/nomadcafe/kekiai-japaneseai/internal/extract"
	"github.com/nomadcafe/kekiai-japaneseai/internal/gcp"
	"github.com/nomadcafe/kekiai-japaneseai/internal/jobs"
	"github.com/nomadcafe/kekiai-japaneseai/internal/knowledge"
	"github.com/nomadcafe/kekiai-japaneseai/internal/llm"
	"github.com/nomadcafe/kekiai-japaneseai/internal/server"
	"github.com/nomadcafe/kekiai-japaneseai/internal/store"
	"github.com/nomadcafe/kekiai-japaneseai/internal/taskqueue"
	"github.com/nomadcafe/kekiai-japaneseai/internal/tts"
	"github.com/nomadcafe/kekiai-japaneseai/internal/video"
	"github.com/nomadcafe/kekiai-japaneseai/internal/workspace"
)

// app owns every long-lived client of the API process.
type app struct {
	cfg     config.Config
	handler http.Handler
	tasks   *taskqueue.Registry
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("Failed to close client.", "error", err)
		}
	}
}

// newApp wires the pipeline from configuration. Optional backends (Vertex,
// GCS, NATS) are only connected when configured.
func newApp(ctx context.Context, cfg config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	jobStore, err := store.New(ctx, cfg.Store, cfg.GCP.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	a.closers = append(a.closers, jobStore.Close)

	ws, err := workspace.New(cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare workspace: %w", err)
	}

	var vertex *gcp.VertexClient
	if cfg.GCP.ProjectID != "" {
		vertex, err = gcp.NewVertexClient(ctx, cfg.GCP.ProjectID, cfg.GCP.VertexRegion)
		if err != nil {
			return nil, fmt.Errorf("failed to create vertex client: %w", err)
		}
		a.closers = append(a.closers, vertex.Close)
	}
	llms := llm.NewFactory(cfg.LLM, vertex)

	voices := tts.DefaultVoices()
	if cfg.TTS.VoicesFile != "" {
		if voices, err = tts.LoadVoices(cfg.TTS.VoicesFile); err != nil {
			return nil, fmt.Errorf("failed to load voice table: %w", err)
		}
	}
	voicevox := tts.NewClient(cfg.TTS.URL, cfg.TTS.Timeout)
	speech := tts.NewGenerator(voicevox, voices, tts.GeneratorConfig{
		Workers:     cfg.TTS.Workers,
		SampleRate:  cfg.TTS.SampleRate,
		PostProcess: cfg.TTS.PostProcess,
		FFmpegPath:  cfg.Video.FFmpegPath,
	})

	slides := extract.New(cfg.Video.DPI)
	broker := events.NewBroker()
	publishers := events.Fanout{broker}

	var (
		sink  artifacts.Sink
		fetch jobs.Fetcher
	)
	if cfg.GCP.ResultsBucket != "" || cfg.GCP.ProjectID != "" {
		gcs, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		a.closers = append(a.closers, gcs.Close)
		fetch = func(ctx context.Context, bucket, object, dest string) error {
			return gcp.DownloadObject(ctx, gcs, bucket, object, dest)
		}
		if cfg.GCP.ResultsBucket != "" {
			sink = artifacts.NewGCSSink(gcs, cfg.GCP.ResultsBucket)
		}
	}
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("kekiai-api"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		a.closers = append(a.closers, func() error { nc.Close(); return nil })
		publishers = append(publishers, events.NewNatsPublisher(nc, cfg.NATS.SubjectPrefix))

		if cfg.NATS.ObjectBucket != "" {
			js, err := jetstream.New(nc)
			if err != nil {
				return nil, fmt.Errorf("failed to create JetStream context: %w", err)
			}
			if sink, err = artifacts.NewNatsSink(ctx, js, cfg.NATS.ObjectBucket); err != nil {
				return nil, err
			}
		}
	}

	a.tasks = taskqueue.New(context.Background(), cfg.Tasks.Workers)
	manager, err := jobs.NewManager(jobs.ManagerConfig{
		Store:     jobStore,
		Workspace: ws,
		Tasks:     a.tasks,
		LLMs:      llms,
		Slides:    slides,
		Knowledge: knowledge.NewExtractor(slides),
		Speech:    speech,
		Composer: video.NewComposer(video.ComposerConfig{
			FFmpegPath:  cfg.Video.FFmpegPath,
			FFprobePath: cfg.Video.FFprobePath,
			BGMDir:      cfg.Video.BGMDir,
			DefaultBGM:  cfg.Video.BGMPath,
		}),
		Sink:     sink,
		Events:   publishers,
		Fetch:    fetch,
		Dialogue: cfg.Dialogue,
	})
	if err != nil {
		return nil, err
	}

	a.handler = server.New(server.Options{
		Jobs:    manager,
		Broker:  broker,
		Voices:  voicevox,
		LLMs:    llms,
		Config:  cfg.Server,
		Workers: cfg.Tasks.Workers,
	}).Handler()
	slog.Info("API wired.",
		"store", cfg.Store.Driver,
		"workspace", cfg.Workspace.Root,
		"defaultProvider", cfg.LLM.DefaultProvider,
		"voicevox", cfg.TTS.URL,
		"natsEnabled", cfg.NATS.URL != "",
		"artifactSink", sink != nil,
	)
	return a, nil
}
