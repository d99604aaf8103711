package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"sherlock/detect"
	"sherlock/pipeline"
	"sherlock/storage"
	"sherlock/tasks"
	"sherlock/utils"
	"sherlock/video"
)

// AnalysisConfig holds CLI configuration
type AnalysisConfig struct {
	VideoPath  string
	ModelID    string
	Rate       float64
	MaxFrames  int
	Threshold  float64
	BatchSize  int
	OutputJSON string
	Persist    bool
}

func parseFlags() AnalysisConfig {
	var config AnalysisConfig
	flag.StringVar(&config.VideoPath, "file", "", "path to the video file to analyze (required)")
	flag.StringVar(&config.ModelID, "model", "", "detection model id (default: server default)")
	flag.Float64Var(&config.Rate, "rate", 1.0, "frame extraction rate in frames per second")
	flag.IntVar(&config.MaxFrames, "max-frames", 300, "maximum number of frames to analyze")
	flag.Float64Var(&config.Threshold, "threshold", 0.5, "fake probability threshold")
	flag.IntVar(&config.BatchSize, "batch", 32, "scoring batch size")
	flag.StringVar(&config.OutputJSON, "out", "", "write the full report to this JSON file")
	flag.BoolVar(&config.Persist, "persist", false, "save the report to the configured result store")
	flag.Parse()

	if config.VideoPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	return config
}

func main() {
	godotenv.Load()
	config := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime)
	log.Println("=== Video Analysis Pipeline ===")
	log.Printf("Video: %s\n", config.VideoPath)

	if err := video.CheckFFmpegAvailable(); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	if _, err := os.Stat(config.VideoPath); err != nil {
		log.Fatalf("ERROR: cannot read video file: %v", err)
	}

	inferenceURL := utils.GetEnv("INFERENCE_SERVICE_URL", "http://localhost:5001")
	weightsDir := utils.GetEnv("MODEL_WEIGHTS_DIR", "weights")
	defaultModel := utils.GetEnv("DEFAULT_MODEL", "xception")

	client := detect.NewInferenceClient(inferenceURL)
	scorers, err := detect.NewRegistry(client, weightsDir, defaultModel)
	if err != nil {
		log.Fatalf("ERROR: failed to build model registry: %v", err)
	}
	if config.ModelID == "" {
		config.ModelID = scorers.DefaultID()
	}
	log.Printf("Model: %s\n", config.ModelID)
	log.Printf("Extraction: %.2f fps, max %d frames\n", config.Rate, config.MaxFrames)
	log.Println()

	var store storage.Store
	if config.Persist {
		store, err = storage.NewStore()
		if err != nil {
			log.Fatalf("ERROR: failed to initialize result store: %v", err)
		}
		defer store.Close()
	}

	registry := tasks.NewRegistry(1)
	extractor := video.NewFFmpegExtractor(config.Rate, config.MaxFrames)
	orchestrator := pipeline.NewOrchestrator(registry, extractor, scorers, store,
		config.Threshold, config.BatchSize, 1)

	taskID := uuid.New().String()
	task := tasks.Task{
		ID:       taskID,
		Filename: filepath.Base(config.VideoPath),
		FilePath: config.VideoPath,
		ModelID:  config.ModelID,
		Status:   tasks.StatusUploaded,
	}
	if err := registry.Create(task); err != nil {
		log.Fatalf("ERROR: failed to register analysis task: %v", err)
	}

	registry.OnUpdate(func(t tasks.Task) {
		log.Printf("status=%s progress=%d%%\n", t.Status, t.Progress)
	})

	started := time.Now()
	orchestrator.Run(context.Background(), taskID, config.VideoPath, config.ModelID)
	elapsed := time.Since(started)

	final, err := registry.Get(taskID)
	if err != nil {
		log.Fatalf("ERROR: analysis task disappeared: %v", err)
	}

	log.Println()
	switch {
	case final.Status == tasks.StatusFailed:
		log.Fatalf("Analysis failed after %s: %s", elapsed.Round(time.Millisecond), final.Error)
	case final.Report == nil:
		log.Fatalf("Analysis finished without a report (status=%s)", final.Status)
	}

	report := final.Report
	log.Printf("Analysis complete in %s\n", elapsed.Round(time.Millisecond))
	log.Printf("Verdict: %s (confidence %.2f%%)\n", report.Verdict, report.Confidence)
	log.Printf("Fake probability: %.2f%% over %d analyzed frames\n",
		report.FakeProbability, report.FrameCount)
	for _, frame := range report.SuspiciousFrames {
		log.Printf("  suspicious frame %d @ %.2fs score=%.2f%%\n",
			frame.FrameIndex, frame.Timestamp, frame.FakeScore)
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("ERROR: failed to encode report: %v", err)
	}
	if config.OutputJSON != "" {
		if err := os.WriteFile(config.OutputJSON, encoded, 0644); err != nil {
			log.Fatalf("ERROR: failed to write report file: %v", err)
		}
		log.Printf("Report written to %s\n", config.OutputJSON)
	} else {
		os.Stdout.Write(append(encoded, '\n'))
	}
}
