package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/google/uuid"
	"github.com/mdobak/go-xerrors"

	"sherlock/chat"
	"sherlock/detect"
	"sherlock/pipeline"
	"sherlock/storage"
	"sherlock/tasks"
	"sherlock/utils"
	"sherlock/video"
)

type apiError struct {
	Message string `json:"message"`
}

const (
	maxUploadBytes = 100 << 20 // 100MB
	uploadDir      = "uploads"
)

var allowedVideoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true,
	".flv": true, ".wmv": true, ".webm": true,
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Message: message})
}

func applyCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
}

func parsePagination(r *http.Request, defaultLimit int) (int, int) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 && value <= 100 {
			limit = value
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			offset = value
		}
	}
	return limit, offset
}

// validateVideoUpload checks extension and size limits before the file is
// accepted. User-fixable problems come back as a message for a 400.
func validateVideoUpload(filename string, size int64) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedVideoExtensions[ext] {
		return "unsupported file type: " + ext
	}
	if size <= 0 {
		return "uploaded file is empty"
	}
	if size > maxUploadBytes {
		return "file exceeds the 100MB size limit"
	}
	return ""
}

func newUploadHandler(registry *tasks.Registry, orch *pipeline.Orchestrator, scorers *detect.Registry) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.Background()
		applyCORS(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			logger.ErrorContext(ctx, "failed to parse multipart form", slog.Any("error", xerrors.New(err)))
			writeJSONError(w, http.StatusBadRequest, "invalid upload payload")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "missing video file")
			return
		}
		defer file.Close()

		if msg := validateVideoUpload(header.Filename, header.Size); msg != "" {
			writeJSONError(w, http.StatusBadRequest, msg)
			return
		}

		modelID := strings.TrimSpace(r.URL.Query().Get("model"))
		if modelID == "" {
			modelID = strings.TrimSpace(r.FormValue("model"))
		}
		if modelID == "" {
			modelID = scorers.DefaultID()
		}

		// Advisory capacity check; the worker pool enforces the hard bound.
		if err := registry.CheckCapacity(); err != nil {
			writeJSONError(w, http.StatusTooManyRequests,
				"maximum concurrent tasks exceeded, please try again later")
			return
		}

		taskID := uuid.New().String()
		filePath := filepath.Join(uploadDir, taskID+strings.ToLower(filepath.Ext(header.Filename)))

		dst, err := os.Create(filePath)
		if err != nil {
			logger.ErrorContext(ctx, "failed to create upload file", slog.Any("error", xerrors.New(err)))
			writeJSONError(w, http.StatusInternalServerError, "failed to store upload")
			return
		}
		if _, err := io.Copy(dst, file); err != nil {
			dst.Close()
			os.Remove(filePath)
			logger.ErrorContext(ctx, "failed to write upload file", slog.Any("error", xerrors.New(err)))
			writeJSONError(w, http.StatusInternalServerError, "failed to store upload")
			return
		}
		dst.Close()

		task := tasks.Task{
			ID:       taskID,
			Filename: header.Filename,
			FilePath: filePath,
			ModelID:  modelID,
			Status:   tasks.StatusUploaded,
		}
		if err := registry.Create(task); err != nil {
			os.Remove(filePath)
			logger.ErrorContext(ctx, "failed to create task", slog.Any("error", xerrors.New(err)))
			writeJSONError(w, http.StatusInternalServerError, "failed to create task")
			return
		}

		orch.Schedule(taskID, filePath, modelID)

		logger.InfoContext(ctx, "video uploaded",
			slog.String("taskID", taskID),
			slog.String("filename", header.Filename),
			slog.String("model", modelID),
			slog.Int64("size", header.Size))

		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"success":    true,
			"task_id":    taskID,
			"message":    "Video uploaded successfully. Processing started.",
			"filename":   header.Filename,
			"model":      modelID,
			"status_url": "/api/v1/results/" + taskID,
		})
	}
}

func newResultsHandler(registry *tasks.Registry, store storage.Store) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		applyCORS(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		taskID := strings.TrimPrefix(r.URL.Path, "/api/v1/results/")
		if taskID == "" || strings.Contains(taskID, "/") {
			writeJSONError(w, http.StatusBadRequest, "task id is required")
			return
		}

		task, err := registry.Get(taskID)
		if err == nil {
			response := map[string]interface{}{
				"task_id":    task.ID,
				"status":     string(task.Status),
				"progress":   task.Progress,
				"created_at": task.CreatedAt,
				"filename":   task.Filename,
				"model_used": task.ModelID,
			}
			if task.CompletedAt != nil {
				response["completed_at"] = task.CompletedAt
			}
			if task.Report != nil {
				response["results"] = task.Report
			}
			if task.Error != "" {
				response["error"] = task.Error
			}
			writeJSON(w, http.StatusOK, response)
			return
		}

		// The in-memory record may have been evicted or lost to a restart;
		// fall back to the durable store.
		rec, found, loadErr := store.Load(taskID)
		if loadErr != nil {
			logger.ErrorContext(context.Background(), "failed to load stored report",
				slog.String("taskID", taskID), slog.Any("error", xerrors.New(loadErr)))
			writeJSONError(w, http.StatusInternalServerError, "failed to load stored report")
			return
		}
		if !found {
			writeJSONError(w, http.StatusNotFound, "task not found")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"task_id":    rec.TaskID,
			"status":     string(tasks.StatusCompleted),
			"progress":   100,
			"created_at": rec.Timestamp,
			"filename":   rec.Filename,
			"model_used": rec.ModelID,
			"results":    rec.Report,
			"source":     "stored",
		})
	}
}

func newTaskListHandler(registry *tasks.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		applyCORS(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		limit, offset := parsePagination(r, 10)
		statusFilter := tasks.Status(r.URL.Query().Get("status"))

		views := registry.List(limit, offset, statusFilter)
		total := registry.CountTotal()

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tasks": views,
			"pagination": map[string]interface{}{
				"limit":    limit,
				"offset":   offset,
				"total":    total,
				"has_more": offset+limit < total,
			},
		})
	}
}

func newTaskDeleteHandler(registry *tasks.Registry) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		applyCORS(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodDelete {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		taskID := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
		if taskID == "" || strings.Contains(taskID, "/") {
			writeJSONError(w, http.StatusBadRequest, "task id is required")
			return
		}

		task, err := registry.Get(taskID)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "task not found")
			return
		}

		// Delete the record first, then release the uploaded file the task
		// owned. An in-flight run will notice the missing record and no-op.
		if err := registry.Delete(taskID); err != nil {
			writeJSONError(w, http.StatusNotFound, "task not found")
			return
		}
		if task.FilePath != "" {
			if err := os.Remove(task.FilePath); err != nil && !os.IsNotExist(err) {
				logger.WarnContext(context.Background(), "failed to remove uploaded file",
					slog.String("taskID", taskID), slog.Any("error", xerrors.New(err)))
			}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Task " + taskID + " deleted successfully",
		})
	}
}

func newModelsHandler(scorers *detect.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		applyCORS(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		catalog := scorers.Catalog()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"models":        catalog,
			"default_model": scorers.DefaultID(),
			"total_count":   len(catalog),
		})
	}
}

func newReportsHandler(store storage.Store) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.Background()
		applyCORS(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/reports")
		rest = strings.TrimPrefix(rest, "/")

		switch {
		case rest == "" && r.Method == http.MethodGet:
			limit, offset := parsePagination(r, 50)
			summaries, err := store.List(limit, offset)
			if err != nil {
				logger.ErrorContext(ctx, "failed to list stored reports", slog.Any("error", xerrors.New(err)))
				writeJSONError(w, http.StatusInternalServerError, "failed to list stored reports")
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"results": summaries,
				"limit":   limit,
				"offset":  offset,
			})

		case rest == "stats" && r.Method == http.MethodGet:
			stats, err := store.Stats()
			if err != nil {
				logger.ErrorContext(ctx, "failed to read storage stats", slog.Any("error", xerrors.New(err)))
				writeJSONError(w, http.StatusInternalServerError, "failed to read storage stats")
				return
			}
			writeJSON(w, http.StatusOK, stats)

		case rest != "" && r.Method == http.MethodGet:
			rec, found, err := store.Load(rest)
			if err != nil {
				logger.ErrorContext(ctx, "failed to load stored report", slog.Any("error", xerrors.New(err)))
				writeJSONError(w, http.StatusInternalServerError, "failed to load stored report")
				return
			}
			if !found {
				writeJSONError(w, http.StatusNotFound, "no stored report for task "+rest)
				return
			}
			writeJSON(w, http.StatusOK, rec)

		case rest != "" && r.Method == http.MethodDelete:
			deleted, err := store.Delete(rest)
			if err != nil {
				logger.ErrorContext(ctx, "failed to delete stored report", slog.Any("error", xerrors.New(err)))
				writeJSONError(w, http.StatusInternalServerError, "failed to delete stored report")
				return
			}
			if !deleted {
				writeJSONError(w, http.StatusNotFound, "no stored report for task "+rest)
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})

		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func newHealthHandler(registry *tasks.Registry, store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		applyCORS(w)

		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		response := map[string]interface{}{
			"status":  "healthy",
			"service": "sherlock",
			"time":    time.Now().UTC().Format(time.RFC3339),
			"tasks":   registry.Statistics(),
		}
		if stats, err := store.Stats(); err == nil {
			response["storage"] = stats
		}
		writeJSON(w, http.StatusOK, response)
	}
}

type chatRequest struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
}

func newChatHandler(assistant *chat.GeminiClient, store storage.Store) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.Background()
		applyCORS(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if assistant == nil {
			writeJSONError(w, http.StatusNotImplemented, "assistant is not configured")
			return
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
			writeJSONError(w, http.StatusBadRequest, "message is required")
			return
		}

		var (
			answer string
			err    error
		)
		if req.TaskID != "" {
			rec, found, loadErr := store.Load(req.TaskID)
			if loadErr != nil || !found {
				writeJSONError(w, http.StatusNotFound, "no stored report for task "+req.TaskID)
				return
			}
			answer, err = assistant.ExplainReport(req.Message, rec)
		} else {
			answer, err = assistant.GenerateResponse(req.Message)
		}
		if err != nil {
			logger.ErrorContext(ctx, "assistant request failed", slog.Any("error", xerrors.New(err)))
			writeJSONError(w, http.StatusBadGateway, "assistant request failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"response": answer})
	}
}

func serve(protocol, port string) {
	protocol = strings.ToLower(protocol)
	logger := utils.GetLogger()
	var allowOriginFunc = func(r *http.Request) bool {
		return true
	}

	store, err := storage.NewStore()
	if err != nil {
		log.Fatalf("failed to initialize result store: %v", err)
	}
	defer store.Close()

	inferenceURL := utils.GetEnv("INFERENCE_SERVICE_URL", "http://localhost:5001")
	weightsDir := utils.GetEnv("MODEL_WEIGHTS_DIR", "weights")
	defaultModel := utils.GetEnv("DEFAULT_MODEL", "xception")
	client := detect.NewInferenceClient(inferenceURL)
	scorers, err := detect.NewRegistry(client, weightsDir, defaultModel)
	if err != nil {
		log.Fatalf("failed to build model registry: %v", err)
	}

	if err := client.HealthCheck(); err != nil {
		log.Printf("WARNING: %v\n", err)
		log.Println("The server will start but scoring will degrade until the inference service is reachable.")
	}

	maxConcurrent := utils.GetEnvInt("MAX_CONCURRENT_TASKS", 10)
	threshold := utils.GetEnvFloat("MODEL_CONFIDENCE_THRESHOLD", 0.5)
	batchSize := utils.GetEnvInt("BATCH_SIZE", 32)
	extractionRate := utils.GetEnvFloat("FRAME_EXTRACTION_RATE", 1.0)
	maxFrames := utils.GetEnvInt("MAX_FRAMES_PER_VIDEO", 300)

	registry := tasks.NewRegistry(maxConcurrent)
	extractor := video.NewFFmpegExtractor(extractionRate, maxFrames)
	orchestrator := pipeline.NewOrchestrator(registry, extractor, scorers, store, threshold, batchSize, maxConcurrent)

	janitorCtx, cancelJanitor := context.WithCancel(context.Background())
	defer cancelJanitor()
	janitorAge := time.Duration(utils.GetEnvInt("TASK_MAX_AGE_HOURS", 24)) * time.Hour
	go registry.RunJanitor(janitorCtx, time.Hour, janitorAge)

	var assistant *chat.GeminiClient
	if os.Getenv("GEMINI_API_KEY") != "" {
		assistant, err = chat.NewGeminiClient()
		if err != nil {
			log.Printf("Failed to initialize assistant: %v\n", err)
		}
	}

	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: allowOriginFunc,
			},
			&polling.Transport{
				CheckOrigin: allowOriginFunc,
			},
		},
	})

	controller := newSocketController(registry, scorers)
	registerSocketHandlers(server, controller)

	// Push every registry mutation to connected clients alongside polling.
	registry.OnUpdate(func(task tasks.Task) {
		server.BroadcastToNamespace("/", "taskUpdate", task.View())
	})

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("socketio listen error: %s\n", err)
		}
	}()
	defer server.Close()

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", server)
	mux.HandleFunc("/api/v1/upload", newUploadHandler(registry, orchestrator, scorers))
	mux.HandleFunc("/api/v1/results/", newResultsHandler(registry, store))
	mux.HandleFunc("/api/v1/tasks", newTaskListHandler(registry))
	mux.HandleFunc("/api/v1/tasks/", newTaskDeleteHandler(registry))
	mux.HandleFunc("/api/v1/models", newModelsHandler(scorers))
	mux.HandleFunc("/api/v1/reports", newReportsHandler(store))
	mux.HandleFunc("/api/v1/reports/", newReportsHandler(store))
	mux.HandleFunc("/api/v1/chat", newChatHandler(assistant, store))
	mux.HandleFunc("/health", newHealthHandler(registry, store))

	logger.InfoContext(context.Background(), "server configured",
		slog.String("defaultModel", defaultModel),
		slog.Int("maxConcurrent", maxConcurrent),
		slog.Float64("threshold", threshold))

	serveHTTP(protocol == "https", port, mux)
}

func serveHTTP(serveHTTPS bool, port string, handler http.Handler) {
	addr := ":" + port
	if serveHTTPS {
		httpsServer := &http.Server{
			Addr: addr,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			Handler: handler,
		}

		certKey := utils.GetEnv("CERT_KEY", "/etc/letsencrypt/live/localport.online/privkey.pem")
		certFile := utils.GetEnv("CERT_FILE", "/etc/letsencrypt/live/localport.online/fullchain.pem")

		log.Printf("Starting HTTPS server on %s\n", addr)
		if err := httpsServer.ListenAndServeTLS(certFile, certKey); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTPS server error: %v", err)
		}
		return
	}

	log.Printf("Starting HTTP server on %s\n", addr)
	if err := http.ListenAndServe(addr, handler); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server error: %v", err)
	}
}
