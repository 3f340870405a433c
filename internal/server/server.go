package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/voicecapture/internal/config"
	"github.com/audiolibrelab/voicecapture/internal/recorder"
	"github.com/audiolibrelab/voicecapture/internal/service"
)

// stopTimeout bounds how long a stop request waits for the encoder to finalize
const stopTimeout = 10 * time.Second

// Server represents the web server for controlling VoiceCapture
type Server struct {
	service    service.Service
	configFile string
	port       string

	// Last artifact, kept for download until the next stop
	lastArtifact *recorder.Artifact
	artifactLock sync.RWMutex
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	service.Status
	Message string              `json:"message,omitempty"`
	Config  *ResolvedConfigInfo `json:"resolved_config"`
}

// ResolvedConfigInfo contains configuration information for the UI
type ResolvedConfigInfo struct {
	ActiveProfile   string `json:"active_profile"`
	OutputDir       string `json:"output_dir"`
	SampleRate      int    `json:"sample_rate"`
	Channels        int    `json:"channels"`
	Source          string `json:"source"`
	PreferredFormat string `json:"preferred_format"`
	Visualizer      bool   `json:"visualizer"`
}

// SourcesResponse represents the JSON response for sources endpoint
type SourcesResponse struct {
	Backend string   `json:"backend"`
	Sources []string `json:"sources"`
}

// FileInfo contains information about a saved recording
type FileInfo struct {
	service.RecordingInfo
	DownloadURL string `json:"download_url"`
}

// FilesResponse represents the JSON response for files endpoint
type FilesResponse struct {
	Files           []FileInfo `json:"files"`
	TotalCount      int        `json:"total_count"`
	OutputDirectory string     `json:"output_directory"`
}

// StopResponse is returned when a session is finalized
type StopResponse struct {
	Success     bool                  `json:"success"`
	Message     string                `json:"message"`
	Artifact    *service.ArtifactInfo `json:"artifact"`
	DownloadURL string                `json:"download_url"`
	SaveError   string                `json:"save_error,omitempty"`
}

// New creates a new web server instance
func New(configFile string, profile string, port string) (*Server, error) {
	cfg, err := config.LoadWithProfile(configFile, profile, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	svc, err := service.New(cfg, configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	return NewWithService(svc, configFile, port), nil
}

// NewWithService creates a server around an existing service
func NewWithService(svc service.Service, configFile string, port string) *Server {
	return &Server{
		service:    svc,
		configFile: configFile,
		port:       port,
	}
}

// Handler returns the routing table of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/start", s.handleStartRecording)
	mux.HandleFunc("/stop", s.handleStopRecording)
	mux.HandleFunc("/release", s.handleRelease)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/sources", s.handleSources)
	mux.HandleFunc("/config/profiles", s.handleProfiles)
	mux.HandleFunc("/config/select", s.handleSelectProfile)
	mux.HandleFunc("/api/artifact", s.handleArtifact)
	mux.HandleFunc("/api/files", s.handleFiles)
	mux.HandleFunc("/api/files/download/", s.handleFileDownload)
	mux.HandleFunc("/ws/waveform", s.handleWaveform)
	return mux
}

// Start starts the web server and releases the microphone when ctx is done
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	localIP := getLocalIP()
	slog.Info("Starting VoiceCapture Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.service.Release()
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.service.StopRecording(shutdownCtx); err != nil && !errors.Is(err, service.ErrNotRecording) {
		slog.Warn("Failed to finalize recording on shutdown", "error", err)
	}
	s.service.Release()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// handleIndex serves the main web UI
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, indexHTML)
}

// handleStartRecording opens the microphone if needed and starts a session
func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.service.StartRecording(r.Context()); err != nil {
		s.sendErrorResponse(w, http.StatusConflict,
			fmt.Sprintf("Failed to start recording: %v", err),
			"operation", "start_recording")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Recording started",
	})
}

// handleStopRecording finalizes the session; a "name" form value also saves it
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid form data", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()

	artifact, err := s.service.StopRecording(ctx)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrNotRecording) {
			status = http.StatusConflict
		}
		s.sendErrorResponse(w, status,
			fmt.Sprintf("Failed to stop recording: %v", err),
			"operation", "stop_recording")
		return
	}

	s.artifactLock.Lock()
	s.lastArtifact = artifact
	s.artifactLock.Unlock()

	response := StopResponse{
		Success:     true,
		Message:     "Recording stopped",
		DownloadURL: "/api/artifact",
	}

	if name := strings.TrimSpace(r.FormValue("name")); name != "" {
		if path, err := s.service.SaveArtifact(name, artifact); err != nil {
			response.SaveError = err.Error()
			slog.Error("Failed to save recording", "name", name, "error", err)
		} else {
			response.Message = "Recording stopped and saved as " + filepath.Base(path)
		}
	}
	response.Artifact = s.service.GetStatus().LastArtifact

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleRelease closes the microphone
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	s.service.Release()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Microphone released",
	})
}

// handleStatus returns the widget status and resolved configuration
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	status := s.service.GetStatus()
	response := StatusResponse{
		Status:  status,
		Message: statusMessage(status),
		Config:  s.getResolvedConfigInfo(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSources lists the capture sources of the active backend
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	sources, err := s.service.ListSources()
	if err != nil {
		s.sendErrorResponse(w, http.StatusServiceUnavailable,
			fmt.Sprintf("Failed to list sources: %v", err),
			"operation", "list_sources")
		return
	}
	if sources == nil {
		sources = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SourcesResponse{
		Backend: s.service.GetStatus().Backend,
		Sources: sources,
	})
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	profiles, active, err := config.ListProfiles(s.configFile)
	if err != nil {
		slog.Debug("No profiles available", "config_file", s.configFile, "error", err)
		profiles = []string{config.DefaultProfile}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"profiles": profiles,
		"active":   active,
		"current":  s.service.GetConfig().Profile,
	})
}

// handleSelectProfile rebuilds the widget from another profile
func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid form data", "error", err)
		return
	}

	profile := r.FormValue("profile")
	if profile == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Profile name is required")
		return
	}

	if err := s.service.LoadProfile(profile); err != nil {
		s.sendErrorResponse(w, http.StatusConflict, err.Error(), "profile", profile)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Profile '%s' loaded", profile),
		"profile": profile,
	})
}

// handleArtifact serves the payload of the last stopped session
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.artifactLock.RLock()
	artifact := s.lastArtifact
	s.artifactLock.RUnlock()

	if artifact == nil {
		http.Error(w, "No recording available", http.StatusNotFound)
		return
	}

	filename := fmt.Sprintf("recording_%s.%s", artifact.CreatedAt.Format("20060102_150405"), service.Extension(artifact.MimeType))

	w.Header().Set("Content-Type", artifact.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=\"%s\"", filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", artifact.Size()))
	w.Header().Set("X-Artifact-Id", artifact.ID.String())
	w.Write(artifact.Data)
}

// handleFiles lists saved recordings
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	recordings, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "list_files")
		return
	}

	files := make([]FileInfo, 0, len(recordings))
	for _, rec := range recordings {
		files = append(files, FileInfo{
			RecordingInfo: rec,
			DownloadURL:   "/api/files/download/" + rec.Name,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(FilesResponse{
		Files:           files,
		TotalCount:      len(files),
		OutputDirectory: s.service.GetConfig().Output.Directory,
	})
}

func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract filename from URL
	filename := strings.TrimPrefix(r.URL.Path, "/api/files/download/")
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}

	// Validate filename (prevent path traversal)
	if strings.Contains(filename, "..") || strings.Contains(filename, "/") || strings.Contains(filename, "\\") {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	ext := strings.ToLower(filepath.Ext(filename))
	contentType, ok := downloadTypes[ext]
	if !ok {
		http.Error(w, "File type not supported", http.StatusForbidden)
		return
	}

	filePath := filepath.Join(s.service.GetConfig().Output.Directory, filename)
	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "File not found", http.StatusNotFound)
		} else {
			http.Error(w, "Error accessing file", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))

	file, err := os.Open(filePath)
	if err != nil {
		http.Error(w, "Error opening file", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	if _, err := io.Copy(w, file); err != nil {
		slog.Error("Error serving file download", "file", filename, "error", err)
	}
}

var downloadTypes = map[string]string{
	".wav": "audio/wav",
	".pcm": "audio/L16",
}

// handleWaveform upgrades to a websocket streaming waveform frames
func (s *Server) handleWaveform(w http.ResponseWriter, r *http.Request) {
	waveform := s.service.Waveform()
	if waveform == nil {
		s.sendErrorResponse(w, http.StatusNotFound, "Waveform visualization is disabled")
		return
	}
	waveform.ServeHTTP(w, r)
}

func (s *Server) getResolvedConfigInfo() *ResolvedConfigInfo {
	cfg := s.service.GetConfig()
	return &ResolvedConfigInfo{
		ActiveProfile:   cfg.Profile,
		OutputDir:       cfg.Output.Directory,
		SampleRate:      cfg.Audio.SampleRate,
		Channels:        cfg.Audio.Channels,
		Source:          cfg.Audio.Source,
		PreferredFormat: cfg.Encoder.PreferredFormat,
		Visualizer:      cfg.Visualizer.IsEnabled(),
	}
}

func statusMessage(status service.Status) string {
	switch status.State {
	case recorder.StateUninitialized:
		if status.LastError != "" {
			return status.LastError
		}
		return "Microphone closed"
	case recorder.StateReady:
		return "Ready to record"
	case recorder.StateRecording:
		return fmt.Sprintf("Recording (%.1f dBFS)", status.Level.RMS)
	default:
		return ""
	}
}

// requireMethod answers 405 in JSON when the method does not match
func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	// Send JSON error response
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
