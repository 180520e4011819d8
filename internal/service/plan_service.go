package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/gympoint/gympoint-api/internal/models"
	appErrors "github.com/gympoint/gympoint-api/pkg/errors"
)

type planRepository interface {
	List(ctx context.Context) ([]models.Plan, error)
	FindByID(ctx context.Context, id string) (*models.Plan, error)
	ExistsByTitle(ctx context.Context, title, excludeID string) (bool, error)
	Create(ctx context.Context, plan *models.Plan) error
	Update(ctx context.Context, plan *models.Plan) error
	Delete(ctx context.Context, id string) error
}

type planCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string)
}

// PlanRequest holds payload for creating or updating plans.
type PlanRequest struct {
	Title          string  `json:"title" validate:"required,min=3"`
	DurationMonths int     `json:"duration_months" validate:"required,gt=0"`
	Price          float64 `json:"price" validate:"required,gt=0"`
}

// PlanService handles the plan catalog. Lookups by id are cached; the
// enrollment lifecycle reads plans through this service.
type PlanService struct {
	repo      planRepository
	cache     planCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPlanService constructs the plan service.
func NewPlanService(repo planRepository, cache planCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *PlanService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &PlanService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// List returns all plans.
func (s *PlanService) List(ctx context.Context) ([]models.Plan, error) {
	plans, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list plans")
	}
	return plans, nil
}

// Get returns a plan by id.
func (s *PlanService) Get(ctx context.Context, id string) (*models.Plan, error) {
	plan, err := s.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	return plan, nil
}

// FindByID resolves a plan through the cache, falling back to the database.
// It keeps the raw sql.ErrNoRows contract so callers can translate absence
// themselves.
func (s *PlanService) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	if s.cache != nil {
		var cached models.Plan
		if err := s.cache.Get(ctx, planCacheKey(id), &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("plan cache read failed", zap.String("plan_id", id), zap.Error(err))
		}
	}

	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, planCacheKey(id), plan, s.cacheTTL); err != nil {
			s.logger.Warn("plan cache write failed", zap.String("plan_id", id), zap.Error(err))
		}
	}
	return plan, nil
}

// Create registers a new plan.
func (s *PlanService) Create(ctx context.Context, req PlanRequest) (*models.Plan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid plan payload")
	}
	exists, err := s.repo.ExistsByTitle(ctx, req.Title, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate title")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "plan title already exists")
	}
	plan := &models.Plan{Title: req.Title, DurationMonths: req.DurationMonths, Price: req.Price}
	if err := s.repo.Create(ctx, plan); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create plan")
	}
	return plan, nil
}

// Update overwrites plan fields and invalidates the cache entry.
func (s *PlanService) Update(ctx context.Context, id string, req PlanRequest) (*models.Plan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid plan payload")
	}
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	if req.Title != plan.Title {
		exists, err := s.repo.ExistsByTitle(ctx, req.Title, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate title")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, "plan title already exists")
		}
	}
	plan.Title = req.Title
	plan.DurationMonths = req.DurationMonths
	plan.Price = req.Price
	if err := s.repo.Update(ctx, plan); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update plan")
	}
	if s.cache != nil {
		s.cache.Delete(ctx, planCacheKey(id))
	}
	return plan, nil
}

// Delete removes a plan and invalidates the cache entry.
func (s *PlanService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "plan not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete plan")
	}
	if s.cache != nil {
		s.cache.Delete(ctx, planCacheKey(id))
	}
	return nil
}

func planCacheKey(id string) string {
	return "plan:" + id
}
