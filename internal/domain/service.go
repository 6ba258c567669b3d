// Package domain defines the business logic for activity management.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrValidation indicates malformed input or a cross-field rule violation.
	ErrValidation = errors.New("validation failed")
	// ErrSlugTaken indicates another activity already owns the slug.
	ErrSlugTaken = errors.New("slug already taken")
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
)

// ActivityRepository captures persistence operations.
type ActivityRepository interface {
	SlugExists(ctx context.Context, slug string) (bool, error)
	Create(ctx context.Context, activity Activity) error
	List(ctx context.Context) ([]Activity, error)
	Get(ctx context.Context, activityID string) (*Activity, error)
	GetBySlug(ctx context.Context, slug, lang string) (*Activity, error)
	Update(ctx context.Context, activity Activity, contents []ActivityContent) error
}

// Service orchestrates activity workflows.
type Service struct {
	repo ActivityRepository
}

// NewService constructs a Service.
func NewService(repo ActivityRepository) *Service {
	return &Service{repo: repo}
}

// ContentInput carries one language rendition in a create or update payload.
type ContentInput struct {
	Lang        string
	Title       string
	Description string
}

// CreateActivityInput captures the payload from the API layer.
type CreateActivityInput struct {
	Name               string
	Slug               string
	StartAt            time.Time
	EndAt              time.Time
	ClosedAt           *time.Time
	SupportedLanguages []string
	Contents           []ContentInput
}

// UpdateActivityInput is a partial update. Nil pointers and nil slices mean
// "leave unchanged". ClosedAt uses an explicit Set flag so clearing the value
// is distinguishable from omitting it.
type UpdateActivityInput struct {
	Name               *string
	Slug               *string
	StartAt            *time.Time
	EndAt              *time.Time
	ClosedAt           *time.Time
	ClosedAtSet        bool
	SupportedLanguages []string
	Contents           []ContentInput
}

// CreateActivity validates the input and persists the activity with its
// contents in a single write. No rows are written when any check fails.
func (s *Service) CreateActivity(ctx context.Context, input CreateActivityInput) (*Activity, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := validateSchedule(input.StartAt, input.EndAt, input.ClosedAt); err != nil {
		return nil, err
	}
	if err := ValidateSlug(input.Slug); err != nil {
		return nil, err
	}

	taken, err := s.repo.SlugExists(ctx, input.Slug)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: %s", ErrSlugTaken, input.Slug)
	}

	supported, err := NormalizeLanguages(input.SupportedLanguages)
	if err != nil {
		return nil, err
	}
	if err := validateContents(supported, input.Contents); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	activity := Activity{
		ID:                 uuid.NewString(),
		Name:               input.Name,
		Slug:               input.Slug,
		StartAt:            input.StartAt.UTC(),
		EndAt:              input.EndAt.UTC(),
		ClosedAt:           normalizeClosedAt(input.ClosedAt),
		SupportedLanguages: supported,
		CreatedAt:          now,
		UpdatedAt:          now,
		Contents:           buildContents(uuid.NewString, input.Contents, now),
	}
	for i := range activity.Contents {
		activity.Contents[i].ActivityID = activity.ID
	}

	if err := s.repo.Create(ctx, activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// ListActivities returns all activities ordered by descending creation time,
// without content detail.
func (s *Service) ListActivities(ctx context.Context) ([]Activity, error) {
	return s.repo.List(ctx)
}

// GetActivity fetches an activity with all of its contents, unfiltered.
func (s *Service) GetActivity(ctx context.Context, activityID string) (*Activity, error) {
	activity, err := s.repo.Get(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	return activity, nil
}

// GetActivityBySlug returns the public projection of an activity. Contents are
// narrowed to lang when given (case-insensitive) and always filtered down to
// the currently supported languages.
func (s *Service) GetActivityBySlug(ctx context.Context, slug, lang string) (*Activity, error) {
	activity, err := s.repo.GetBySlug(ctx, slug, strings.ToLower(strings.TrimSpace(lang)))
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	activity.Contents = activity.FilterContents()
	return activity, nil
}

// UpdateActivity applies a partial update. Field updates and per-language
// content upserts happen inside one transaction so readers never observe a
// half-applied language set.
func (s *Service) UpdateActivity(ctx context.Context, activityID string, input UpdateActivityInput) (*Activity, error) {
	existing, err := s.repo.Get(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrActivityNotFound
	}

	updated := *existing

	if input.StartAt != nil || input.EndAt != nil || input.ClosedAtSet {
		startAt := existing.StartAt
		if input.StartAt != nil {
			startAt = input.StartAt.UTC()
		}
		endAt := existing.EndAt
		if input.EndAt != nil {
			endAt = input.EndAt.UTC()
		}
		closedAt := existing.ClosedAt
		if input.ClosedAtSet {
			closedAt = normalizeClosedAt(input.ClosedAt)
		}
		if err := validateSchedule(startAt, endAt, closedAt); err != nil {
			return nil, err
		}
		updated.StartAt = startAt
		updated.EndAt = endAt
		updated.ClosedAt = closedAt
	}

	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, fmt.Errorf("%w: name is required", ErrValidation)
		}
		updated.Name = *input.Name
	}

	if input.Slug != nil && *input.Slug != existing.Slug {
		if err := ValidateSlug(*input.Slug); err != nil {
			return nil, err
		}
		taken, err := s.repo.SlugExists(ctx, *input.Slug)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fmt.Errorf("%w: %s", ErrSlugTaken, *input.Slug)
		}
		updated.Slug = *input.Slug
	}

	if input.SupportedLanguages != nil {
		supported, err := NormalizeLanguages(input.SupportedLanguages)
		if err != nil {
			return nil, err
		}
		updated.SupportedLanguages = supported
	}

	var contents []ActivityContent
	if input.Contents != nil {
		if err := validateContents(updated.SupportedLanguages, input.Contents); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		contents = buildContents(uuid.NewString, input.Contents, now)
		for i := range contents {
			contents[i].ActivityID = existing.ID
		}
	}

	updated.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, updated, contents); err != nil {
		return nil, err
	}

	refreshed, err := s.repo.Get(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if refreshed == nil {
		return nil, ErrActivityNotFound
	}
	return refreshed, nil
}

func normalizeClosedAt(closedAt *time.Time) *time.Time {
	if closedAt == nil {
		return nil
	}
	utc := closedAt.UTC()
	return &utc
}

func buildContents(newID func() string, inputs []ContentInput, now time.Time) []ActivityContent {
	out := make([]ActivityContent, 0, len(inputs))
	for _, input := range inputs {
		out = append(out, ActivityContent{
			ID:          newID(),
			Lang:        strings.ToLower(strings.TrimSpace(input.Lang)),
			Title:       input.Title,
			Description: input.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return out
}
