package store

import (
	"time"

	"gorm.io/datatypes"
)

// Run status constants.
const (
	RunStatusCreated   = "created"
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
)

// Telemetry event types.
const (
	EventRequest    = "request"
	EventResponse   = "response"
	EventError      = "error"
	EventTokenUsage = "token_usage"
)

// User source constants.
const (
	SourceConfig = "config"
)

// Agent is a model plus the free-form settings used to call it.
type Agent struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	Name      string            `gorm:"uniqueIndex;not null" json:"name"`
	Model     string            `gorm:"not null" json:"model"`
	Config    datatypes.JSONMap `json:"config"`
	CreatedAt time.Time         `json:"created_at"`
}

// TestCase is a prompt and a description of the expected behavior.
type TestCase struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Name             string    `gorm:"not null" json:"name"`
	Prompt           string    `gorm:"type:text;not null" json:"prompt"`
	ExpectedBehavior *string   `gorm:"type:text" json:"expected_behavior"`
	CreatedAt        time.Time `json:"created_at"`
}

// Expected returns the expected behavior or an empty string.
func (tc *TestCase) Expected() string {
	if tc.ExpectedBehavior == nil {
		return ""
	}

	return *tc.ExpectedBehavior
}

// EvaluationRun groups the result rows produced for one launch.
// AgentID holds the first requested agent.
type EvaluationRun struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	RunName     string     `gorm:"not null" json:"run_name"`
	Status      string     `gorm:"not null;default:created;index" json:"status"`
	AgentID     uint       `gorm:"not null" json:"agent_id"`
	WorkerID    string     `json:"worker_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TestResult is the outcome of one (agent, test case) pair in a run.
// Rows are created as placeholders and filled in by the worker.
type TestResult struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RunID      uint      `gorm:"index" json:"run_id"`
	TestCaseID uint      `json:"test_case_id"`
	AgentID    uint      `json:"agent_id"`
	Response   string    `gorm:"type:text" json:"response"`
	Score      float64   `json:"score"`
	LatencyMs  float64   `gorm:"column:latency_ms" json:"latency_ms"`
	CostUSD    float64   `gorm:"column:cost_usd" json:"cost_usd"`
	CreatedAt  time.Time `json:"created_at"`
}

// TelemetryEvent is an unstructured event loosely keyed to a run and,
// optionally, a result row.
type TelemetryEvent struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	RunID        uint           `gorm:"index" json:"run_id"`
	TestResultID *uint          `json:"test_result_id"`
	EventType    string         `json:"event_type"`
	Payload      datatypes.JSON `json:"payload"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AgentSummary aggregates the result rows of one agent within a run.
type AgentSummary struct {
	AgentID      uint    `gorm:"column:agent_id" json:"agent_id"`
	Results      int64   `gorm:"column:results" json:"results"`
	AvgScore     float64 `gorm:"column:avg_score" json:"avg_score"`
	TotalCostUSD float64 `gorm:"column:total_cost_usd" json:"total_cost_usd"`
	AvgLatencyMs float64 `gorm:"column:avg_latency_ms" json:"avg_latency_ms"`
}

// User is a basic-auth principal seeded from config.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Source       string    `gorm:"not null" json:"source"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
