package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agenteval/agenteval/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a unique constraint.
var ErrConflict = errors.New("conflict")

// Store provides persistence for evaluation resources.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Agents.
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id uint) (*Agent, error)
	ListAgents(ctx context.Context) ([]Agent, error)
	GetAgentsByIDs(ctx context.Context, ids []uint) (map[uint]*Agent, error)

	// Test cases.
	CreateTestCase(ctx context.Context, tc *TestCase) error
	GetTestCase(ctx context.Context, id uint) (*TestCase, error)
	ListTestCases(ctx context.Context) ([]TestCase, error)
	GetTestCasesByIDs(
		ctx context.Context, ids []uint,
	) (map[uint]*TestCase, error)

	// Runs.
	CreateRun(
		ctx context.Context,
		name string,
		agentIDs, testCaseIDs []uint,
	) (*EvaluationRun, error)
	GetRun(ctx context.Context, id uint) (*EvaluationRun, error)
	ListRuns(ctx context.Context) ([]EvaluationRun, error)
	ClaimPendingRun(
		ctx context.Context, workerID string,
	) (*EvaluationRun, error)
	CompleteRun(ctx context.Context, id uint) error

	// Results.
	ListResultsByRun(ctx context.Context, runID uint) ([]TestResult, error)
	UpdateResult(ctx context.Context, result *TestResult) error
	SummarizeRun(ctx context.Context, runID uint) ([]AgentSummary, error)

	// Telemetry.
	CreateTelemetryEvent(ctx context.Context, event *TelemetryEvent) error
	ListTelemetryEventsByRun(
		ctx context.Context, runID uint,
	) ([]TelemetryEvent, error)

	// Users.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	SeedUsers(ctx context.Context, users []config.BasicAuthUser) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dialector = postgres.Open(s.cfg.PostgresDSN())
	case "mysql":
		dialector = mysql.Open(s.cfg.MySQLDSN())
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if s.cfg.Driver == "sqlite" {
		// A single connection keeps ":memory:" databases shared and
		// avoids SQLITE_BUSY between the API and the worker.
		sqlDB, err := s.db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Agent{},
		&TestCase{},
		&EvaluationRun{},
		&TestResult{},
		&TelemetryEvent{},
		&User{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// notFound maps gorm's record-not-found error onto ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	return err
}

// --- Agents ---

func (s *store) CreateAgent(ctx context.Context, agent *Agent) error {
	if err := s.db.WithContext(ctx).Create(agent).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("agent %q: %w", agent.Name, ErrConflict)
		}

		return fmt.Errorf("creating agent: %w", err)
	}

	return nil
}

func (s *store) GetAgent(ctx context.Context, id uint) (*Agent, error) {
	var agent Agent
	if err := s.db.WithContext(ctx).First(&agent, id).Error; err != nil {
		return nil, fmt.Errorf("getting agent %d: %w", id, notFound(err))
	}

	return &agent, nil
}

func (s *store) ListAgents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}

	return agents, nil
}

// GetAgentsByIDs loads the given agents keyed by id. Missing ids are
// simply absent from the map.
func (s *store) GetAgentsByIDs(
	ctx context.Context, ids []uint,
) (map[uint]*Agent, error) {
	out := make(map[uint]*Agent, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var agents []Agent
	if err := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("loading agents: %w", err)
	}

	for i := range agents {
		out[agents[i].ID] = &agents[i]
	}

	return out, nil
}

// --- Test cases ---

func (s *store) CreateTestCase(ctx context.Context, tc *TestCase) error {
	if err := s.db.WithContext(ctx).Create(tc).Error; err != nil {
		return fmt.Errorf("creating test case: %w", err)
	}

	return nil
}

func (s *store) GetTestCase(
	ctx context.Context, id uint,
) (*TestCase, error) {
	var tc TestCase
	if err := s.db.WithContext(ctx).First(&tc, id).Error; err != nil {
		return nil, fmt.Errorf("getting test case %d: %w", id, notFound(err))
	}

	return &tc, nil
}

func (s *store) ListTestCases(ctx context.Context) ([]TestCase, error) {
	var tcs []TestCase
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&tcs).Error; err != nil {
		return nil, fmt.Errorf("listing test cases: %w", err)
	}

	return tcs, nil
}

// GetTestCasesByIDs loads the given test cases keyed by id.
func (s *store) GetTestCasesByIDs(
	ctx context.Context, ids []uint,
) (map[uint]*TestCase, error) {
	out := make(map[uint]*TestCase, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var tcs []TestCase
	if err := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&tcs).Error; err != nil {
		return nil, fmt.Errorf("loading test cases: %w", err)
	}

	for i := range tcs {
		out[tcs[i].ID] = &tcs[i]
	}

	return out, nil
}

// --- Runs ---

// CreateRun inserts a pending run and one placeholder result per
// (agent, test case) pair in a single transaction. Referenced ids are
// not checked; the worker skips rows it cannot resolve.
func (s *store) CreateRun(
	ctx context.Context,
	name string,
	agentIDs, testCaseIDs []uint,
) (*EvaluationRun, error) {
	if len(agentIDs) == 0 {
		return nil, fmt.Errorf("creating run: at least one agent is required")
	}

	run := &EvaluationRun{
		RunName: name,
		AgentID: agentIDs[0],
		Status:  RunStatusPending,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}

		results := make([]TestResult, 0, len(agentIDs)*len(testCaseIDs))

		for _, agentID := range agentIDs {
			for _, tcID := range testCaseIDs {
				results = append(results, TestResult{
					RunID:      run.ID,
					TestCaseID: tcID,
					AgentID:    agentID,
				})
			}
		}

		if len(results) == 0 {
			return nil
		}

		const batchSize = 100

		if err := tx.CreateInBatches(results, batchSize).Error; err != nil {
			return fmt.Errorf("inserting placeholder results: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"run_id":     run.ID,
		"agents":     len(agentIDs),
		"test_cases": len(testCaseIDs),
	}).Debug("Created run")

	return run, nil
}

func (s *store) GetRun(
	ctx context.Context, id uint,
) (*EvaluationRun, error) {
	var run EvaluationRun
	if err := s.db.WithContext(ctx).First(&run, id).Error; err != nil {
		return nil, fmt.Errorf("getting run %d: %w", id, notFound(err))
	}

	return &run, nil
}

func (s *store) ListRuns(ctx context.Context) ([]EvaluationRun, error) {
	var runs []EvaluationRun
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// ClaimPendingRun marks the oldest pending run as running and returns
// it. ErrNotFound is returned when there is nothing to claim.
func (s *store) ClaimPendingRun(
	ctx context.Context, workerID string,
) (*EvaluationRun, error) {
	var run EvaluationRun

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("status = ?", RunStatusPending).
			Order("id ASC").
			First(&run).Error; err != nil {
			return notFound(err)
		}

		now := time.Now().UTC()

		result := tx.Model(&EvaluationRun{}).
			Where("id = ? AND status = ?", run.ID, RunStatusPending).
			Updates(map[string]any{
				"status":     RunStatusRunning,
				"worker_id":  workerID,
				"started_at": now,
			})
		if result.Error != nil {
			return fmt.Errorf("marking run running: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		run.Status = RunStatusRunning
		run.WorkerID = workerID
		run.StartedAt = &now

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claiming pending run: %w", err)
	}

	return &run, nil
}

func (s *store) CompleteRun(ctx context.Context, id uint) error {
	if err := s.db.WithContext(ctx).
		Model(&EvaluationRun{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       RunStatusCompleted,
			"completed_at": time.Now().UTC(),
		}).Error; err != nil {
		return fmt.Errorf("completing run %d: %w", id, err)
	}

	return nil
}

// --- Results ---

func (s *store) ListResultsByRun(
	ctx context.Context, runID uint,
) ([]TestResult, error) {
	var results []TestResult
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing results for run %d: %w", runID, err)
	}

	return results, nil
}

// UpdateResult writes the evaluated fields of an existing result row.
func (s *store) UpdateResult(ctx context.Context, result *TestResult) error {
	if err := s.db.WithContext(ctx).
		Model(&TestResult{}).
		Where("id = ?", result.ID).
		Updates(map[string]any{
			"response":   result.Response,
			"score":      result.Score,
			"latency_ms": result.LatencyMs,
			"cost_usd":   result.CostUSD,
			"created_at": result.CreatedAt,
		}).Error; err != nil {
		return fmt.Errorf("updating result %d: %w", result.ID, err)
	}

	return nil
}

// SummarizeRun aggregates result rows per agent.
func (s *store) SummarizeRun(
	ctx context.Context, runID uint,
) ([]AgentSummary, error) {
	var summaries []AgentSummary
	if err := s.db.WithContext(ctx).
		Model(&TestResult{}).
		Select("agent_id, COUNT(*) AS results, " +
			"AVG(score) AS avg_score, " +
			"SUM(cost_usd) AS total_cost_usd, " +
			"AVG(latency_ms) AS avg_latency_ms").
		Where("run_id = ?", runID).
		Group("agent_id").
		Order("agent_id ASC").
		Scan(&summaries).Error; err != nil {
		return nil, fmt.Errorf("summarizing run %d: %w", runID, err)
	}

	return summaries, nil
}

// --- Telemetry ---

func (s *store) CreateTelemetryEvent(
	ctx context.Context, event *TelemetryEvent,
) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("creating telemetry event: %w", err)
	}

	return nil
}

func (s *store) ListTelemetryEventsByRun(
	ctx context.Context, runID uint,
) ([]TelemetryEvent, error) {
	var events []TelemetryEvent
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("listing telemetry for run %d: %w", runID, err)
	}

	return events, nil
}

// --- Users ---

func (s *store) GetUserByUsername(
	ctx context.Context, username string,
) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		First(&user).Error; err != nil {
		return nil, fmt.Errorf("getting user by username: %w", notFound(err))
	}

	return &user, nil
}

// SeedUsers upserts config-sourced users, re-hashing their passwords.
func (s *store) SeedUsers(
	ctx context.Context, users []config.BasicAuthUser,
) error {
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword(
			[]byte(u.Password), bcrypt.DefaultCost,
		)
		if err != nil {
			return fmt.Errorf("hashing password for %q: %w", u.Username, err)
		}

		user := User{Username: u.Username}

		if err := s.db.WithContext(ctx).
			Where("username = ?", u.Username).
			Assign(User{PasswordHash: string(hash), Source: SourceConfig}).
			FirstOrCreate(&user).Error; err != nil {
			return fmt.Errorf("seeding config user %q: %w", u.Username, err)
		}
	}

	s.log.WithField("count", len(users)).
		Info("Seeded users from config")

	return nil
}
