package repository

import (
	"context"
	"database/sql"
	"time"

	"cat_feeder/internal/models"
)

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*models.User, error)
}

// ProfileRepo stores the single calibration and actuator profiles.
type ProfileRepo interface {
	LoadCalibration(ctx context.Context) (models.CalibrationProfile, error)
	SaveCalibration(ctx context.Context, p models.CalibrationProfile) error
	LoadActuator(ctx context.Context) (models.ActuatorProfile, error)
	SaveActuator(ctx context.Context, p models.ActuatorProfile) error
}

type RuleRepo interface {
	ListRules(ctx context.Context) ([]models.FeedingRule, error)
	GetRule(ctx context.Context, id int64) (models.FeedingRule, error)
	CreateRule(ctx context.Context, r models.FeedingRule) (models.FeedingRule, error)
	UpdateRule(ctx context.Context, r models.FeedingRule) error
	DeleteRule(ctx context.Context, id int64) error
	ReplaceRules(ctx context.Context, rules []models.FeedingRule) error
}

// FeedingFilter narrows feeding event queries; zero fields match everything.
type FeedingFilter struct {
	From    time.Time
	To      time.Time
	Source  models.TriggerSource
	Outcome models.Outcome
	Limit   int
}

// FeedingRepo is append-only: events are never updated or deleted.
type FeedingRepo interface {
	AppendFeeding(ctx context.Context, e models.FeedingEvent) error
	ImportFeeding(ctx context.Context, e models.FeedingEvent) (bool, error)
	ListFeedings(ctx context.Context, f FeedingFilter) ([]models.FeedingEvent, error)
	LastFeeding(ctx context.Context) (*models.FeedingEvent, error)
	FeedingStats(ctx context.Context, from, to time.Time) (models.FeedingStats, error)
}

type EventRepo interface {
	Append(ctx context.Context, e models.SystemEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.SystemEvent, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type WeightRepo interface {
	AppendSample(ctx context.Context, s models.WeightSample) error
	ListSamples(ctx context.Context, from, to time.Time, limit int) ([]models.WeightSample, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Repository struct {
	Profiles  ProfileRepo
	Rules     RuleRepo
	Feedings  FeedingRepo
	EventRepo EventRepo
	Weights   WeightRepo
	Auth      Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Profiles:  NewProfileSQLite(db),
		Rules:     NewRuleSQLite(db),
		Feedings:  NewFeedingSQLite(db),
		EventRepo: NewEventSQLite(db),
		Weights:   NewWeightSQLite(db),
		Auth:      NewUserSQLite(db),
	}
}

// tsLayout is how timestamps are stored; it sorts lexically.
const tsLayout = "2006-01-02 15:04:05.000"

func ts(t time.Time) string { return t.UTC().Format(tsLayout) }
