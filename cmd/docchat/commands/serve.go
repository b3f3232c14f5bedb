package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/index"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/server"
	"github.com/54b3r/docchat-go/internal/tracing"
)

// NewServeCmd constructs the `docchat serve` command, which starts the HTTP
// server exposing the RAG engine as a REST API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docchat HTTP server",
		Long: `Start the docchat HTTP server on localhost.

The server exposes a REST API for multi-user document chat:
  POST   /api/chat     ask a question (with per-session history)
  POST   /api/ingest   ingest a document into a user's index
  DELETE /api/index    clear a user's index and history
  GET    /api/health   liveness probe
  GET    /api/ready    readiness probe (model, embedder, vector store)
  GET    /metrics      Prometheus metrics

Protect the API by setting DOCCHAT_API_KEY; clients then send
"Authorization: Bearer <key>".

Examples:
  docchat serve
  docchat serve --port 9090
  MODEL_PROVIDER=azure docchat serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			deps, closeEngine, err := buildEngine(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeEngine()

			history, closeHistory := openHistory(log)
			defer closeHistory()

			pingers := []server.Pinger{
				&server.ModelPinger{Model: deps.Model, Label: getEnvOrDefault("MODEL_PROVIDER", "ollama")},
				&server.EmbedderPinger{Embedder: deps.Embedder},
			}
			if qm, ok := deps.Indexes.(*index.QdrantManager); ok {
				pingers = append(pingers, &server.QdrantPinger{Manager: qm})
			}

			srv, err := server.New(deps.Engine, history, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("DOCCHAT_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
