package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nomadcafe/kekiai-japaneseai/internal/events"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
)

const writeTimeout = 10 * time.Second

// handleJobSocket streams every update of one job until the client goes away.
// The current record is sent first so late subscribers start in sync.
func (s *Server) handleJobSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	})
	if err != nil {
		slog.Error("WebSocket accept failed", "jobId", id, "error", err)
		return
	}
	defer conn.CloseNow()
	logCtx := slog.With("jobId", id)
	logCtx.Info("Job subscriber connected.")

	updates, cancel := s.broker.Subscribe(id)
	defer cancel()

	// Client messages are ignored; CloseRead cancels ctx when the peer closes.
	ctx := conn.CloseRead(r.Context())

	if err := send(ctx, conn, job); err != nil {
		logCtx.Debug("Job subscriber gone.", "error", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			logCtx.Info("Job subscriber disconnected.")
			return
		case job, ok := <-updates:
			if !ok {
				return
			}
			if err := send(ctx, conn, job); err != nil {
				logCtx.Debug("Job subscriber gone.", "error", err)
				return
			}
		}
	}
}

func send(ctx context.Context, conn *websocket.Conn, job models.Job) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, models.JobEvent{Type: events.JobUpdated, Job: job})
}
