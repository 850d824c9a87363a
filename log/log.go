package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog     zerolog.Logger
	diagFile    *os.File
	verdictFile *os.File
	logMu       sync.Mutex
	logReady    bool
	pid         int
	dir         string
)

// Metrics describes one completed analysis round-trip.
type Metrics struct {
	PayloadKB    float64
	EncodeTimeMs float64
	Attempts     int
	TotalTimeMs  float64
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	// Priority 2: TRUTHSCAN_LOG_PATH environment variable
	envPath := os.Getenv("TRUTHSCAN_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	verdictPath := filepath.Join(dir, "verdict_log.txt")
	verdictFile, err = os.OpenFile(verdictPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if verdictFile != nil {
		verdictFile.Close()
		verdictFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// AnalysisMetrics records one completed round-trip to the remote engine.
func AnalysisMetrics(m Metrics, mode, mimeType, model string) {
	if !logReady {
		return
	}

	diagLog.Info().
		Str("mode", mode).
		Str("mime", mimeType).
		Str("model", model).
		Float64("payload_kb", m.PayloadKB).
		Float64("encode_ms", m.EncodeTimeMs).
		Int("attempts", m.Attempts).
		Float64("total_ms", m.TotalTimeMs).
		Msg("analysis")
}

// VerdictText appends a completed verdict to the plain verdict log.
func VerdictText(operator, verdict, risk string, confidence float64) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\t%s\t%.2f\n",
		time.Now().Format("2006-01-02 15:04:05"), pid, operator, verdict, risk, confidence)
	verdictFile.WriteString(line)
}

func Verdict(verdict, risk, detectedLang string, confidence float64, match bool) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("verdict", verdict).
		Str("risk", risk).
		Str("detected_lang", detectedLang).
		Float64("confidence", confidence).
		Bool("language_match", match).
		Msg("verdict")
}

type LiveMetricsData struct {
	Chunks   int
	Failed   int
	SentKB   float64
	SessionS float64
}

func LiveMetrics(m LiveMetricsData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("chunks", m.Chunks).
		Int("failed", m.Failed).
		Float64("sent_kb", m.SentKB).
		Float64("session_s", m.SessionS).
		Msg("live_session")
}

func SessionStart(operator, model, lang string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("operator", operator).
		Str("model", model).
		Str("lang", lang).
		Msg("session_start")
}

func SessionEnd(count int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("count", count).
		Msg("session_end")
}
