// Command forged is a runnable demo server wiring the six core components
// (streamadapter, toolexec, ctxbuild, accumulator, graph, run) behind a thin
// HTTP/SSE façade. The façade itself is deliberately out of spec.md's scope
// (spec.md §1) — it exists only so the module is buildable and demoable
// end to end, the way genesis's main.go wires its own gateway/channels.
//
// Grounded on win30221-genesis/main.go's shape: a signal-aware root context,
// a config load plus a watch on the config file, and explicit component
// construction before serving. A change to the config file is not applied in
// place: it ends the serve loop and the process shuts down.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forge/internal/chatmodel"
	"forge/internal/config"
	"forge/internal/ctxbuild"
	"forge/internal/graph"
	"forge/internal/obslog"
	"forge/internal/provider"
	"forge/internal/run"
	"forge/internal/store"
	"forge/internal/toolexec"
	"forge/internal/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := flag.String("config", "config.json", "path to the JSON config bundle")
	dbPath := flag.String("db", "", "path to a SQLite database file; empty uses the in-memory store")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	obslog.Setup(*logLevel)

	bundle, err := config.Load(*configPath)
	if err != nil {
		slog.ErrorContext(ctx, "forged: failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	reload, err := config.Watch(ctx, *configPath)
	if err != nil {
		slog.WarnContext(ctx, "forged: config hot-reload disabled", "path", *configPath, "error", err)
		reload = make(chan struct{})
	}

	srv, coordinator, observer, err := buildServer(ctx, bundle, *dbPath)
	if err != nil {
		slog.ErrorContext(ctx, "forged: failed to build server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{Addr: *addr, Handler: srv}

	go func() {
		slog.InfoContext(ctx, "forged: listening", "addr", *addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "forged: http server failed", "error", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "forged: received shutdown signal")
	case <-reload:
		slog.InfoContext(ctx, "forged: config file changed; restart the process to pick it up")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.WarnContext(shutdownCtx, "forged: graceful shutdown failed", "error", err)
	}
	if err := coordinator.Close(); err != nil {
		slog.WarnContext(shutdownCtx, "forged: pending persistence writes failed to drain", "error", err)
	}
	if observer, ok := observer.(*tracing.LangfuseObserver); ok {
		if err := observer.Close(); err != nil {
			slog.WarnContext(shutdownCtx, "forged: pending trace events failed to drain", "error", err)
		}
	}
	slog.InfoContext(shutdownCtx, "forged: bye")
}

// buildServer wires the six components per spec.md §2's component map and
// returns an http.Handler plus the run.Coordinator (so main can drain it on
// shutdown).
func buildServer(ctx context.Context, bundle config.Bundle, dbPath string) (http.Handler, *run.Coordinator, tracing.Observer, error) {
	repo, err := buildRepository(ctx, dbPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build repository: %w", err)
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	httpTransport := provider.NewHTTPTransport(http.DefaultClient,
		"https://api.openai.com/v1/chat/completions",
		"https://api.openai.com/v1/responses",
		apiKey,
	)

	var transport provider.Transport = httpTransport
	if geminiKey := os.Getenv("GEMINI_API_KEY"); geminiKey != "" {
		geminiTransport, err := provider.NewGeminiTransport(ctx, geminiKey)
		if err != nil {
			slog.WarnContext(ctx, "forged: failed to build gemini transport, falling back to the HTTP transport", "error", err)
		} else {
			transport = geminiTransport
		}
	}

	summarizer := provider.NewOpenAISummarizer(apiKey, "")

	tools := toolexec.NewExecutor(toolexec.DefaultTimeout)
	if err := tools.Register(ctx, toolexec.NewShellServer()); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to register shell tool server: %w", err)
	}

	var observer tracing.Observer = tracing.NoopObserver{}
	tracingCfg := config.LoadTracingConfigFromEnv()
	if tracingCfg.Enabled {
		observer = tracing.NewLangfuseObserver(http.DefaultClient, tracingCfg.Host, tracingCfg.PublicKey, tracingCfg.SecretKey)
	}

	builder := ctxbuild.NewBuilder(repo, summarizer, bundle.Context, nil)
	engine := graph.New(transport, tools, bundle.Graph, bundle.Context, observer)
	coordinator := run.New(repo, builder, engine, bundle.Context)

	facade := &httpFacade{coordinator: coordinator, defaultLLM: defaultLLMConfig(bundle)}
	mux := http.NewServeMux()
	mux.Handle("POST /conversations/{id}/messages", facade)

	return mux, coordinator, observer, nil
}

func buildRepository(ctx context.Context, dbPath string) (store.Repository, error) {
	if dbPath == "" {
		return store.NewMemoryRepository(), nil
	}
	return store.OpenSQLiteRepository(ctx, dbPath)
}

func defaultLLMConfig(bundle config.Bundle) config.LLMConfig {
	model := bundle.Context.SummarisationModel
	if model == "" {
		model = "gpt-4o-mini"
	}
	return config.LLMConfig{Model: model, Provider: config.ProviderOpenAI}
}

// httpFacade exposes run.Coordinator.Run over HTTP: POST
// /conversations/{id}/messages with a {"message": "..."} body streams the
// run's events back as SSE, one JSON-encoded chatmodel.StreamEvent per line.
type httpFacade struct {
	coordinator *run.Coordinator
	defaultLLM  config.LLMConfig
}

func (f *httpFacade) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conversationID := r.PathValue("id")
	if conversationID == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}

	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if body.Message == "" {
		http.Error(w, "message must not be empty", http.StatusBadRequest)
		return
	}

	events, err := f.coordinator.Run(r.Context(), conversationID, body.Message, f.defaultLLM)
	if err != nil {
		slog.ErrorContext(r.Context(), "forged: run failed to start", "conversation_id", conversationID, "error", err)
		http.Error(w, "failed to start run", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, canFlush := w.(http.Flusher)

	for ev := range events {
		writeSSE(r.Context(), w, ev)
		if canFlush {
			flusher.Flush()
		}
	}
}

func writeSSE(ctx context.Context, w io.Writer, ev chatmodel.StreamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.ErrorContext(ctx, "forged: failed to marshal stream event", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
