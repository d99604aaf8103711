package storage

import (
	"fmt"
	"strings"
	"time"

	"sherlock/detect"
	"sherlock/utils"
)

// Record is one self-describing persisted report. Each save is a separate
// immutable record; there are no in-place updates.
type Record struct {
	TaskID    string        `json:"task_id" bson:"task_id"`
	Timestamp time.Time     `json:"timestamp" bson:"timestamp"`
	Filename  string        `json:"filename" bson:"filename"`
	ModelID   string        `json:"model_used" bson:"model_used"`
	Report    detect.Report `json:"results" bson:"results"`
}

// Summary is the reduced listing view of one stored record.
type Summary struct {
	TaskID          string    `json:"task_id"`
	Timestamp       time.Time `json:"timestamp"`
	Filename        string    `json:"filename"`
	ModelID         string    `json:"model_used"`
	Verdict         string    `json:"prediction"`
	Confidence      float64   `json:"confidence"`
	FakeProbability float64   `json:"fakeProbability"`
	TotalFrames     int       `json:"totalFrames"`
	StorageKey      string    `json:"storageKey"`
}

// Stats summarises the store's footprint.
type Stats struct {
	Count          int    `json:"totalResults"`
	TotalSizeBytes int64  `json:"totalSizeBytes"`
	Location       string `json:"location"`
}

// Store persists completed reports keyed by task id, surviving process
// restarts and registry eviction. Lookups match the most recent record
// for an id.
type Store interface {
	Save(rec Record) (string, error)
	Load(taskID string) (Record, bool, error)
	List(limit, offset int) ([]Summary, error)
	Delete(taskID string) (bool, error)
	Stats() (Stats, error)
	Close() error
}

// NewStore builds the configured store backend. STORE_TYPE selects
// between "file" (default), "sqlite" and "mongo".
func NewStore() (Store, error) {
	storeType := strings.ToLower(utils.GetEnv("STORE_TYPE", "file"))

	switch storeType {
	case "file":
		return NewFileStore(utils.GetEnv("STORED_RESULTS_DIR", "stored_results"))
	case "sqlite":
		return NewSQLiteStore(utils.GetEnv("SQLITE_DB_PATH", "db/reports.db"))
	case "mongo":
		return NewMongoStore(
			utils.GetEnv("MONGO_URI", "mongodb://localhost:27017"),
			utils.GetEnv("MONGO_DB", "sherlock"),
		)
	default:
		return nil, fmt.Errorf("unsupported STORE_TYPE %q", storeType)
	}
}

func summarize(rec Record, key string) Summary {
	return Summary{
		TaskID:          rec.TaskID,
		Timestamp:       rec.Timestamp,
		Filename:        rec.Filename,
		ModelID:         rec.ModelID,
		Verdict:         rec.Report.Verdict,
		Confidence:      rec.Report.Confidence,
		FakeProbability: rec.Report.FakeProbability,
		TotalFrames:     rec.Report.Statistics.TotalFrames,
		StorageKey:      key,
	}
}
