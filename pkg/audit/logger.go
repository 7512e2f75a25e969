// Package audit provides a structured audit trail for analysis operations.
//
// Every dispatch to an external CLI engine is a subprocess execution with
// security implications, so the trail records the full analysis lifecycle:
// what was dispatched, to which engine, how it ended, and anything the
// allow-list rejected. Events are buffered and appended to a JSONL file.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Analysis lifecycle
	EventAnalysisStarted   EventType = "analysis_started"
	EventAnalysisCompleted EventType = "analysis_completed"
	EventAnalysisFailed    EventType = "analysis_failed"

	// Cache
	EventCacheHit EventType = "cache_hit"

	// Security
	EventExecutableRejected EventType = "executable_rejected"
	EventSecretsDetected    EventType = "secrets_detected"
)

// Severity represents log severity level.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARN"
	SeverityError   Severity = "ERROR"
)

// Event is a single audit record.
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	Type       EventType      `json:"type"`
	Severity   Severity       `json:"severity"`
	AnalysisID string         `json:"analysis_id,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Message    string         `json:"message"`
	Error      string         `json:"error,omitempty"`
	Duration   time.Duration  `json:"duration_ms,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// LoggerConfig configures the audit logger.
type LoggerConfig struct {
	// LogFile is the path to the audit log file.
	// Default: ~/.crosscheck/audit.log
	LogFile string

	// BufferSize is the number of events to buffer before flushing.
	// Default: 100
	BufferSize int

	// FlushInterval is how often to flush buffered events.
	// Default: 5 seconds
	FlushInterval time.Duration

	// Verbose enables console output of audit events.
	Verbose bool
}

// DefaultLoggerConfig returns sensible defaults.
func DefaultLoggerConfig() *LoggerConfig {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}

	return &LoggerConfig{
		LogFile:       filepath.Join(home, ".crosscheck", "audit.log"),
		BufferSize:    100,
		FlushInterval: 5 * time.Second,
	}
}

// Logger is the audit logger.
type Logger struct {
	config *LoggerConfig
	file   *os.File
	mu     sync.Mutex

	buffer   []Event
	bufferMu sync.Mutex

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewLogger creates a new audit logger.
func NewLogger(config *LoggerConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}

	if config.LogFile == "" {
		config.LogFile = DefaultLoggerConfig().LogFile
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	dir := filepath.Dir(config.LogFile)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &Logger{
		config: config,
		file:   file,
		buffer: make([]Event, 0, config.BufferSize),
		stopCh: make(chan struct{}),
	}

	return l, nil
}

// Start begins background flushing.
func (l *Logger) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.mu.Unlock()

	l.wg.Add(1)
	go l.flushLoop()
}

// Stop stops the logger and flushes remaining events.
func (l *Logger) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		l.Flush()
		return l.file.Close()
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()

	l.wg.Wait()

	l.Flush()
	return l.file.Close()
}

// Log records an audit event.
func (l *Logger) Log(event Event) {
	event.Timestamp = time.Now()

	l.bufferMu.Lock()
	l.buffer = append(l.buffer, event)
	shouldFlush := len(l.buffer) >= l.config.BufferSize
	l.bufferMu.Unlock()

	if l.config.Verbose {
		l.printEvent(event)
	}

	if shouldFlush {
		go l.Flush()
	}
}

// Convenience methods for common event types

// AnalysisStarted logs the dispatch of an analysis to an engine.
func (l *Logger) AnalysisStarted(analysisID, provider string) {
	l.Log(Event{
		Type:       EventAnalysisStarted,
		Severity:   SeverityInfo,
		AnalysisID: analysisID,
		Provider:   provider,
		Message:    fmt.Sprintf("Analysis dispatched to %s", provider),
	})
}

// AnalysisCompleted logs a successful analysis.
func (l *Logger) AnalysisCompleted(analysisID, provider string, duration time.Duration, findings int) {
	l.Log(Event{
		Type:       EventAnalysisCompleted,
		Severity:   SeverityInfo,
		AnalysisID: analysisID,
		Provider:   provider,
		Message:    "Analysis completed",
		Duration:   duration,
		Details:    map[string]any{"findings": findings},
	})
}

// AnalysisFailed logs a failed analysis.
func (l *Logger) AnalysisFailed(analysisID, provider string, err error) {
	event := Event{
		Type:       EventAnalysisFailed,
		Severity:   SeverityError,
		AnalysisID: analysisID,
		Provider:   provider,
		Message:    "Analysis failed",
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// CacheHit logs a request served from the result cache.
func (l *Logger) CacheHit(analysisID, provider string) {
	l.Log(Event{
		Type:       EventCacheHit,
		Severity:   SeverityInfo,
		AnalysisID: analysisID,
		Provider:   provider,
		Message:    "Result served from cache",
	})
}

// SecretsDetected logs secret scanner findings folded into a result.
func (l *Logger) SecretsDetected(analysisID string, count int) {
	l.Log(Event{
		Type:       EventSecretsDetected,
		Severity:   SeverityWarning,
		AnalysisID: analysisID,
		Message:    fmt.Sprintf("Secret scanner reported %d finding(s)", count),
		Details:    map[string]any{"count": count},
	})
}

// ExecutableRejected logs an allow-list rejection.
func (l *Logger) ExecutableRejected(provider, path string, err error) {
	event := Event{
		Type:     EventExecutableRejected,
		Severity: SeverityError,
		Provider: provider,
		Message:  "Executable rejected by allow-list",
		Details:  map[string]any{"path": path},
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// Flush writes buffered events to disk.
func (l *Logger) Flush() {
	l.bufferMu.Lock()
	if len(l.buffer) == 0 {
		l.bufferMu.Unlock()
		return
	}
	events := l.buffer
	l.buffer = make([]Event, 0, l.config.BufferSize)
	l.bufferMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = l.file.Write(data)
		_, _ = l.file.Write([]byte("\n"))
	}

	_ = l.file.Sync()
}

// flushLoop periodically flushes buffered events.
func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.Flush()
		}
	}
}

// printEvent prints an event to console in human-readable format.
func (l *Logger) printEvent(event Event) {
	timestamp := event.Timestamp.Format("2006-01-02 15:04:05")
	fmt.Printf("[%s] [%s] %s: %s\n", timestamp, event.Severity, event.Type, event.Message)
	if event.Error != "" {
		fmt.Printf("  Error: %s\n", event.Error)
	}
}
