package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/noah-isme/sma-presence-api/internal/models"
	appErrors "github.com/noah-isme/sma-presence-api/pkg/errors"
)

const locationCachePrefix = "presence:location:"

type locationProfileReader interface {
	FindByID(ctx context.Context, id string) (*models.LocationProfile, error)
}

// LocationService reads location profiles. Profiles are owned by the administrative
// system, so they are cached and never written here.
type LocationService struct {
	repo  locationProfileReader
	cache *CacheService
}

// NewLocationService constructs a LocationService. cache may be nil.
func NewLocationService(repo locationProfileReader, cache *CacheService) *LocationService {
	return &LocationService{repo: repo, cache: cache}
}

// Get returns the profile for id.
func (s *LocationService) Get(ctx context.Context, id string) (*models.LocationProfile, error) {
	if id == "" {
		return nil, appErrors.ErrProfileNotFound
	}
	return Remember(ctx, s.cache, locationCachePrefix+id, func(ctx context.Context) (*models.LocationProfile, error) {
		profile, err := s.repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.ErrProfileNotFound
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load location profile")
		}
		if profile == nil {
			return nil, appErrors.ErrProfileNotFound
		}
		return profile, nil
	})
}

// Invalidate drops a cached profile after the administrative system changed it.
func (s *LocationService) Invalidate(ctx context.Context, id string) error {
	if err := s.cache.Invalidate(ctx, fmt.Sprintf("%s%s", locationCachePrefix, id)); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to invalidate location cache")
	}
	return nil
}
