package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/wyyt/AGPicCompress/internal/backend"
	"github.com/wyyt/AGPicCompress/internal/config"
	"github.com/wyyt/AGPicCompress/internal/errs"
	"github.com/wyyt/AGPicCompress/internal/format"
	"github.com/wyyt/AGPicCompress/internal/logger"
	"github.com/wyyt/AGPicCompress/internal/pipeline"
	"github.com/wyyt/AGPicCompress/internal/stats"
)

// Runner is the pipeline surface the server needs. *pipeline.Pipeline
// implements it; tests substitute a fake.
type Runner interface {
	CompressBytes(ctx context.Context, data []byte, hint string, quality int) ([]byte, pipeline.Result, error)
	RunBatch(ctx context.Context, req pipeline.BatchRequest, st *stats.Statistics, progress pipeline.ProgressFunc) ([]pipeline.FileOutcome, error)
	Availability() *backend.Availability
}

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	runner     Runner
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	// Current batch operation state
	operationMutex sync.RWMutex
	isRunning      bool
	currentStats   *stats.Statistics
}

// errorBody is the JSON error envelope returned for every failed request.
type errorBody struct {
	ErrorKind string `json:"errorKind"`
	Message   string `json:"message"`
}

type batchRequest struct {
	Directory       string `json:"directory"`
	TargetDirectory string `json:"target_directory,omitempty"`
	Quality         *int   `json:"quality,omitempty"`
	Force           bool   `json:"force"`
}

type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(cfg *config.Config, log *logrus.Logger, runner Runner) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		runner:    runner,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local demo, all origins accepted
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/batch", s.handleBatch).Methods("POST")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/probe", s.handleProbe).Methods("POST")
	api.HandleFunc("/formats", s.handleFormats).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.RequestTimeout() + 30*time.Second,
		WriteTimeout: s.cfg.RequestTimeout() + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleCompress accepts a multipart upload (file, quality, optional
// format hint) and responds with the compressed bytes or a JSON error.
func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(s.cfg.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		s.writeErrorBody(w, http.StatusBadRequest, "InvalidRequest", "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeErrorBody(w, http.StatusBadRequest, "InvalidRequest", "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorBody(w, http.StatusBadRequest, "InvalidRequest", "failed to read upload")
		return
	}

	quality := s.cfg.DefaultQuality
	if q := r.FormValue("quality"); q != "" {
		quality, err = strconv.Atoi(q)
		if err != nil {
			s.writeErrorBody(w, http.StatusBadRequest, errs.KindInvalidQuality.String(), "quality must be an integer")
			return
		}
	}

	hint := r.FormValue("format")
	if hint == "" && header != nil {
		hint = format.FromExtension(header.Filename).String()
		if hint == "unknown" {
			hint = ""
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout())
	defer cancel()

	output, res, err := s.runner.CompressBytes(ctx, data, hint, quality)
	if err != nil {
		s.writeError(w, err)
		return
	}
	logger.WithRequest(s.log, header.Filename, res.Backend).
		Infof("Upload compressed: %d -> %d bytes", res.OriginalSize, res.CompressedSize)

	w.Header().Set("Content-Type", format.FromHint(res.Format).ContentType())
	w.Header().Set("X-Original-Size", strconv.FormatInt(res.OriginalSize, 10))
	w.Header().Set("X-Compressed-Size", strconv.FormatInt(res.CompressedSize, 10))
	w.Header().Set("X-Backend", res.Backend)
	w.Header().Set("X-No-Improvement", strconv.FormatBool(res.NoImprovement))
	w.WriteHeader(http.StatusOK)
	w.Write(output)
}

// handleBatch starts an asynchronous directory compression; progress is
// broadcast over the websocket.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorBody(w, http.StatusBadRequest, "InvalidRequest", "invalid request body")
		return
	}
	if req.Directory == "" {
		s.writeErrorBody(w, http.StatusBadRequest, "InvalidRequest", "directory is required")
		return
	}
	if _, err := os.Stat(req.Directory); os.IsNotExist(err) {
		s.writeErrorBody(w, http.StatusBadRequest, "InvalidRequest", "directory does not exist")
		return
	}

	quality := s.cfg.DefaultQuality
	if req.Quality != nil {
		quality = *req.Quality
	}
	if quality < 0 || quality > 100 {
		s.writeErrorBody(w, http.StatusBadRequest, errs.KindInvalidQuality.String(),
			fmt.Sprintf("quality level %d out of range [0,100]", quality))
		return
	}

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeErrorBody(w, http.StatusConflict, "Busy", "batch operation already in progress")
		return
	}
	s.isRunning = true
	s.currentStats = stats.NewStatistics()
	s.operationMutex.Unlock()

	go s.runBatchAsync(pipeline.BatchRequest{
		InputPath: req.Directory,
		TargetDir: req.TargetDirectory,
		Quality:   quality,
		Force:     req.Force,
	})

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": "batch started",
	})
}

func (s *Server) runBatchAsync(req pipeline.BatchRequest) {
	s.broadcastWSMessage("batch_started", map[string]interface{}{
		"directory": req.InputPath,
		"quality":   req.Quality,
	})

	s.operationMutex.RLock()
	st := s.currentStats
	s.operationMutex.RUnlock()

	progress := func(out pipeline.FileOutcome) {
		if out.Err != nil {
			s.broadcastWSMessage("file_error", map[string]interface{}{
				"error": out.Err.Error(),
				"kind":  errs.KindOf(out.Err).String(),
			})
			return
		}
		s.broadcastWSMessage("file_done", out.Result)
	}

	_, err := s.runner.RunBatch(context.Background(), req, st, progress)

	s.operationMutex.Lock()
	s.isRunning = false
	s.operationMutex.Unlock()

	if err != nil {
		s.broadcastWSMessage("batch_error", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	s.broadcastWSMessage("batch_completed", map[string]interface{}{
		"summary": st.GetSummary(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	st := s.currentStats
	s.operationMutex.RUnlock()

	var summary interface{}
	var fileErrors interface{}
	if st != nil {
		summary = st.GetSummary()
		fileErrors = st.Errors()
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":  running,
		"backends": s.runner.Availability().Current().Statuses(),
		"statistics": map[string]interface{}{
			"summary": summary,
			"errors":  fileErrors,
		},
	})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	s.runner.Availability().Reprobe()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"backends": s.runner.Availability().Current().Statuses(),
	})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"formats": []string{format.JPEG.String(), format.PNG.String()},
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	msgBytes, err := json.Marshal(wsMessage{Type: messageType, Data: data})
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			go func(c *websocket.Conn) {
				s.wsMutex.Lock()
				delete(s.wsClients, c)
				s.wsMutex.Unlock()
				c.Close()
			}(conn)
		}
	}
}

const indexPage = `<!DOCTYPE html>
<html>
<head><title>AGPicCompress</title></head>
<body>
<h1>AGPicCompress demo</h1>
<form method="POST" action="/api/compress" enctype="multipart/form-data">
  <p><input type="file" name="file" accept=".jpg,.jpeg,.png" required></p>
  <p>Quality (0-100): <input type="number" name="quality" min="0" max="100" value="80"></p>
  <p><button type="submit">Compress</button></p>
</form>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, indexPage)
}

// writeError maps the error taxonomy onto HTTP statuses: validation
// failures are 400, missing backends 503, timeouts 504, everything else
// (backend execution, I/O) 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case errs.KindUnsupportedFormat, errs.KindInvalidQuality:
		status = http.StatusBadRequest
	case errs.KindBackendUnavailable:
		status = http.StatusServiceUnavailable
	case errs.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	s.writeErrorBody(w, status, kind.String(), err.Error())
}

func (s *Server) writeErrorBody(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{ErrorKind: kind, Message: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
