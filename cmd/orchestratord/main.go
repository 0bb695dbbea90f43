// Command orchestratord runs the multi-agent orchestration core: the
// Session Store, Realtime Bus, Agent Manager, Ralph Loop, PRD Builder, and
// the Orchestrator that ties them together behind an HTTP + WebSocket API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orchestrator/pkg/agentmgr"
	"orchestrator/pkg/llmfactory"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/memory"
	"orchestrator/pkg/memoryservice"
	"orchestrator/pkg/metrics"
	"orchestrator/pkg/orchconfig"
	"orchestrator/pkg/orchestrator"
	"orchestrator/pkg/prd"
	"orchestrator/pkg/realtime"
	"orchestrator/pkg/sessionstore"
)

func main() {
	var (
		configPath   string
		addr         string
		projectDir   string
		memoryURL    string
		shutdownWait time.Duration
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config file (defaults apply if absent)")
	flag.StringVar(&addr, "addr", ":8080", "HTTP listen address")
	flag.StringVar(&projectDir, "projectdir", ".", "Project working tree the Ralph Loop operates on")
	flag.StringVar(&memoryURL, "memory-service-url", "", "Base URL of the external vector memory service (optional)")
	flag.DurationVar(&shutdownWait, "shutdown-timeout", 10*time.Second, "Grace period for in-flight requests on shutdown")
	flag.Parse()

	if err := orchconfig.Load(configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := orchconfig.Get()

	logger := logx.NewLogger("orchestratord")

	store := sessionstore.Open(cfg.DBPath, cfg.Session.MaxMessagesPerSession)
	defer func() { _ = store.Close() }()

	bus := realtime.NewBus(cfg.Realtime.RingBufferSize)

	var remoteMemory *memoryservice.Client
	if memoryURL != "" {
		remoteMemory = memoryservice.New(memoryURL)
	}
	memClient := memory.New(projectDir, remoteMemory)

	agents := agentmgr.New(cfg.Agents, memClient, bus)
	agentCtx, stopAgents := context.WithCancel(context.Background())
	agents.Start(agentCtx)
	defer func() { stopAgents(); agents.Stop() }()

	chatModel, err := orchconfig.ModelFor("orchestrator")
	if err != nil {
		log.Fatalf("failed to resolve chat model: %v", err)
	}
	chatClient, err := llmfactory.New(chatModel)
	if err != nil {
		log.Fatalf("failed to construct chat LLM client: %v", err)
	}

	prdModel, err := orchconfig.ModelFor("orchestrator")
	if err != nil {
		log.Fatalf("failed to resolve PRD builder model: %v", err)
	}
	prdClient, err := llmfactory.New(prdModel)
	if err != nil {
		log.Fatalf("failed to construct PRD builder LLM client: %v", err)
	}
	prdBuilder := prd.New(prdClient, store)

	ralphWorkDir := projectDir
	orch := orchestrator.New(store, bus, agents, chatClient, prdBuilder, memClient, cfg.Ralph, projectDir, ralphWorkDir)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", realtime.ServeWS(bus, orch.ChatHandler()))
	mux.HandleFunc("/healthz", handleHealthz)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/chat", handleChat(orch, logger))
	mux.HandleFunc("/api/workflow", handleWorkflow(orch, logger))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down, waiting up to %s for in-flight requests", shutdownWait)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed: %v", err)
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	UserText  string `json:"user_text"`
	Stream    bool   `json:"stream"`
}

type chatResponse struct {
	AssistantText string `json:"assistant_text"`
}

func handleChat(orch *orchestrator.Orchestrator, logger *logx.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		reply, err := orch.Chat(r.Context(), req.SessionID, req.UserText, req.Stream)
		if err != nil {
			logger.Error("chat failed for session %s: %v", req.SessionID, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse{AssistantText: reply})
	}
}

type workflowRequest struct {
	Name      string `json:"name"`
	Task      string `json:"task"`
	SessionID string `json:"session_id"`
}

func handleWorkflow(orch *orchestrator.Orchestrator, logger *logx.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req workflowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		record, err := orch.ExecuteWorkflow(r.Context(), req.Name, req.Task, req.SessionID)
		if err != nil {
			logger.Error("workflow %s failed for session %s: %v", req.Name, req.SessionID, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(record)
	}
}
