package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"truthscan/audio"
	"truthscan/clipboard"
	"truthscan/forensic"
	"truthscan/history"
	"truthscan/log"
	"truthscan/scan"
	"truthscan/shutdown"
)

var version = "dev"

func main() {
	fileFlag := flag.String("file", "", "Analyze an audio file from disk")
	urlFlag := flag.String("url", "", "Fetch and analyze a remote audio sample")
	textFlag := flag.String("text", "", "Analyze plain text (message or transcript)")
	smsFlag := flag.String("sms", "", "Auxiliary SMS/text content for cross-verification")
	langFlag := flag.String("lang", "English", "Target language (Tamil, English, Hindi, Malayalam, Telugu, or auto)")
	operatorFlag := flag.String("operator", "", "Operator identity stamped into results (default: $USER)")
	liveFlag := flag.Bool("live", false, "Live-call mode: stream mic chunks for rolling verdicts")
	copyFlag := flag.Bool("copy", false, "Copy the forensic report to the clipboard on completion")
	historyFlag := flag.Bool("history", false, "Print the scan history and exit")
	deleteFlag := flag.String("delete", "", "Delete one history entry by id and exit")
	clearFlag := flag.Bool("clear-history", false, "Clear the scan history and exit")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Resolve log directory early
	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)

	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *versionFlag {
		fmt.Printf("truthscan %s\n", version)
		os.Exit(0)
	}

	store, err := history.OpenDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not open history: %v\n", err)
		os.Exit(1)
	}

	if *historyFlag || *deleteFlag != "" || *clearFlag {
		os.Exit(runHistoryCommand(store, *historyFlag, *deleteFlag, *clearFlag))
	}

	lang, err := forensic.ParseLanguage(*langFlag)
	if err != nil {
		fmt.Printf("Error: %v (use Tamil, English, Hindi, Malayalam, Telugu, or auto)\n", err)
		os.Exit(1)
	}

	operator := *operatorFlag
	if operator == "" {
		operator = os.Getenv("USER")
	}
	if operator == "" {
		operator = "operator"
	}

	engine, err := forensic.New()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	} else {
		log.SessionStart(operator, engine.Model(), string(lang))
	}

	cfg := scan.Config{
		Engine:         engine,
		History:        store,
		Session:        scan.SessionContext{Operator: operator},
		TargetLanguage: lang,
		AuxiliaryText:  *smsFlag,
	}

	needsMic := *fileFlag == "" && *urlFlag == "" && *textFlag == ""
	var audioCtx audio.Context
	if needsMic {
		audioCtx, err = audio.NewContext()
		if err != nil {
			fmt.Printf("Error initializing audio: %v\n", err)
			os.Exit(1)
		}
		defer audioCtx.Close()
		cfg.Audio = audioCtx

		if *setupFlag && *deviceFlag == "" {
			if dev, err := audio.SelectDevice(audioCtx); err == nil {
				cfg.Device = dev
			} else {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
		} else if *deviceFlag != "" {
			dev, err := findDevice(audioCtx, *deviceFlag)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			cfg.Device = dev
		}
	}

	controller := scan.New(cfg)
	ctx := context.Background()

	var code int
	switch {
	case *fileFlag != "":
		code = runOneShot(ctx, controller, *copyFlag, func() (<-chan struct{}, error) {
			return controller.SubmitFile(ctx, *fileFlag)
		})
	case *urlFlag != "":
		code = runOneShot(ctx, controller, *copyFlag, func() (<-chan struct{}, error) {
			return controller.SubmitURL(ctx, *urlFlag)
		})
	case *textFlag != "":
		code = runOneShot(ctx, controller, *copyFlag, func() (<-chan struct{}, error) {
			return controller.SubmitText(ctx, *textFlag)
		})
	case *liveFlag:
		code = runLive(ctx, controller, *copyFlag)
	default:
		code = runMic(ctx, controller, *copyFlag)
	}

	log.SessionEnd(store.Len())
	log.Close()
	os.Exit(code)
}

func runHistoryCommand(store *history.Store, list bool, deleteID string, clear bool) int {
	switch {
	case deleteID != "":
		ok, err := store.Remove(deleteID)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Printf("No entry with id %s\n", deleteID)
			return 1
		}
		fmt.Println("Deleted.")
	case clear:
		if err := store.Clear(); err != nil {
			fmt.Printf("Error: %v\n", err)
			return 1
		}
		fmt.Println("History cleared.")
	case list:
		entries := store.List()
		if len(entries) == 0 {
			fmt.Println("No scan history.")
			return 0
		}
		for _, e := range entries {
			fmt.Printf("%s  %-8s %-18s %-6s %.2f  %s\n",
				e.Timestamp, shortID(e.ID), e.Verdict, e.RiskLevel, e.ConfidenceScore, e.DetectedLanguage)
		}
		st := store.Stats()
		fmt.Printf("\n%d scans, %d fraud verdicts, %d high-risk\n", st.Total, st.Fraud, st.HighRisk)
	}
	return 0
}

// shortID abbreviates a scan id for display. History files edited by hand
// may carry ids shorter than the generated uuids.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runOneShot(ctx context.Context, c *scan.Controller, copyReport bool, submit func() (<-chan struct{}, error)) int {
	done, err := submit()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return 1
	}
	fmt.Println("Analyzing...")
	<-done
	return finish(c, copyReport)
}

// runMic records from the microphone between two Enter presses, then
// analyzes the captured audio.
func runMic(ctx context.Context, c *scan.Controller, copyReport bool) int {
	sig := make(chan os.Signal, 1)
	shutdown.Notify(sig)
	go func() {
		<-sig
		log.Close()
		os.Exit(130)
	}()

	reader := bufio.NewReader(os.Stdin)
	fmt.Println("Press Enter to start recording, Enter again to analyze, Ctrl+C to quit.")
	if _, err := reader.ReadString('\n'); err != nil {
		return 0
	}

	if err := c.StartRecording(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return 1
	}
	fmt.Println("Recording... press Enter to stop.")
	if _, err := reader.ReadString('\n'); err != nil {
		c.Reset()
		return 0
	}

	done, err := c.StopAndAnalyze(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return 1
	}
	fmt.Println("Analyzing...")
	<-done
	return finish(c, copyReport)
}

// runLive streams mic chunks and prints rolling verdicts until Enter, then
// closes the session with a terminal wrap-up analysis.
func runLive(ctx context.Context, c *scan.Controller, copyReport bool) int {
	sig := make(chan os.Signal, 1)
	shutdown.Notify(sig)

	if err := c.StartLiveCall(ctx); err != nil {
		fmt.Printf("Error: %v\n", err)
		return 1
	}
	fmt.Println("Live call monitoring. Press Enter to stop and run the final analysis.")

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		bufio.NewReader(os.Stdin).ReadString('\n')
	}()

	updates := c.LiveUpdates()
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			printLiveUpdate(u)
		case <-sig:
			c.Reset()
			log.Close()
			return 130
		case <-stopped:
			done, err := c.StopLiveCall(ctx, true)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				return 1
			}
			fmt.Println("Running final analysis...")
			<-done
			return finish(c, copyReport)
		}
	}
}

func printLiveUpdate(u forensic.LiveUpdate) {
	if u.Err != nil {
		fmt.Printf("  [chunk failed: %v]\n", u.Err)
		return
	}
	line := fmt.Sprintf("  %-18s %.0f%%", u.Verdict, u.Confidence*100)
	if u.Mismatch {
		line += "  LANGUAGE MISMATCH"
	}
	if u.CurrentIntent != "" {
		line += "  " + u.CurrentIntent
	}
	fmt.Println(line)
}

func finish(c *scan.Controller, copyReport bool) int {
	if c.State() == scan.Error {
		fmt.Printf("Analysis failed: %v\n", c.Err())
		return 1
	}
	res := c.Result()
	if res == nil {
		fmt.Println("No result.")
		return 1
	}
	printResult(res)

	if copyReport {
		if err := clipboard.Copy(formatDossier(res)); err != nil {
			fmt.Printf("Warning: could not copy to clipboard: %v\n", err)
		} else {
			fmt.Println("(dossier copied to clipboard)")
		}
	}

	if res.Verdict == forensic.VerdictSyntheticFraud || res.Verdict == forensic.VerdictBlockNow {
		return 2
	}
	return 0
}

func printResult(res *forensic.Result) {
	fmt.Printf("\nVerdict:    %s\n", res.Verdict)
	fmt.Printf("Risk:       %s\n", res.RiskLevel)
	fmt.Printf("Confidence: %.0f%%\n", res.ConfidenceScore*100)
	fmt.Printf("Language:   %s", res.DetectedLanguage)
	if !res.LanguageMatch {
		fmt.Print("  (MISMATCH — risk escalated, not archived)")
	}
	fmt.Println()

	fmt.Println("\nForensic layers:")
	for _, l := range []struct{ name, text string }{
		{"spatial acoustics", res.Layers.SpatialAcoustics},
		{"emotional micro-dynamics", res.Layers.EmotionalMicroDynamics},
		{"cultural linguistics", res.Layers.CulturalLinguistics},
		{"breath/emotion sync", res.Layers.BreathEmotionSync},
		{"spectral artifacts", res.Layers.SpectralArtifacts},
		{"code switching", res.Layers.CodeSwitching},
	} {
		fmt.Printf("  %-26s %s\n", l.name+":", l.text)
	}

	actions := make([]string, len(res.SafetyActions))
	for i, a := range res.SafetyActions {
		actions[i] = string(a)
	}
	fmt.Printf("\nActions:    %s\n", strings.Join(actions, ", "))
	if res.ForensicReport != "" {
		fmt.Printf("Report:     %s\n", res.ForensicReport)
	}
}

func formatDossier(res *forensic.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TRUTHSCAN DOSSIER %s\n", res.ID)
	fmt.Fprintf(&b, "Time: %s  Operator: %s\n", res.Timestamp, res.Operator)
	fmt.Fprintf(&b, "Verdict: %s  Risk: %s  Confidence: %.2f\n", res.Verdict, res.RiskLevel, res.ConfidenceScore)
	fmt.Fprintf(&b, "Language: %s (match: %v)\n\n", res.DetectedLanguage, res.LanguageMatch)
	fmt.Fprintf(&b, "%s\n", res.ForensicReport)
	return b.String()
}

func findDevice(ctx audio.Context, name string) (*audio.DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	for i, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), strings.ToLower(name)) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("no capture device matching %q", name)
}
