package user

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const feedCacheKey = "users:feed"

// FeedCache stores the public discovery feed between writes.
type FeedCache interface {
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CreateInput carries the fields of a new profile.
type CreateInput struct {
	ExternalID string `validate:"required,max=255"`
	FirstName  string `validate:"required,max=100"`
	LastName   string `validate:"max=100"`
	Phone      string `validate:"max=40"`
	Instagram  string `validate:"max=100"`
	PhotoURL   string
}

// UpdateInput is a partial update; nil fields keep their stored value.
type UpdateInput struct {
	FirstName *string
	LastName  *string
	Phone     *string
	Instagram *string
	PhotoURL  *string
}

type Service struct {
	repo     Repository
	cache    FeedCache
	cacheTTL time.Duration
	validate *validator.Validate
	log      zerolog.Logger
	now      func() time.Time
}

// NewService builds the profile service. cache may be nil.
func NewService(repo Repository, cache FeedCache, cacheTTL time.Duration, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		validate: validator.New(),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CheckCreate reports the error Create would fail with before any side effect,
// so callers can reject a request before publishing its photo.
func (s *Service) CheckCreate(ctx context.Context, in CreateInput) error {
	in, err := s.validateCreate(in)
	if err != nil {
		return err
	}

	_, err = s.repo.GetByExternalID(ctx, in.ExternalID)
	switch {
	case err == nil:
		return ErrExternalIDTaken
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return err
	}
}

func (s *Service) Create(ctx context.Context, in CreateInput) (User, error) {
	in, err := s.validateCreate(in)
	if err != nil {
		return User{}, err
	}

	created, err := s.repo.Create(ctx, User{
		ID:         uuid.NewString(),
		ExternalID: in.ExternalID,
		FirstName:  in.FirstName,
		LastName:   strings.TrimSpace(in.LastName),
		Phone:      strings.TrimSpace(in.Phone),
		Instagram:  strings.TrimSpace(in.Instagram),
		PhotoURL:   in.PhotoURL,
		// a submitted profile counts as complete whatever optional fields it carries
		ProfileIncomplete: false,
		CreatedAt:         s.now(),
	})
	if err != nil {
		return User{}, err
	}

	s.invalidateFeed(ctx)
	return created, nil
}

func (s *Service) Update(ctx context.Context, externalID string, in UpdateInput) (User, error) {
	existing, err := s.repo.GetByExternalID(ctx, externalID)
	if err != nil {
		return User{}, err
	}

	if err := ValidateUpdate(in); err != nil {
		return User{}, err
	}
	if in.FirstName != nil {
		existing.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		existing.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Phone != nil {
		existing.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.Instagram != nil {
		existing.Instagram = strings.TrimSpace(*in.Instagram)
	}
	if in.PhotoURL != nil {
		existing.PhotoURL = *in.PhotoURL
	}
	existing.ProfileIncomplete = false

	updated, err := s.repo.UpdateProfile(ctx, existing)
	if err != nil {
		return User{}, err
	}

	s.invalidateFeed(ctx)
	return updated, nil
}

// MarkIncomplete flags the profile for re-completion. Unknown ids are ignored.
func (s *Service) MarkIncomplete(ctx context.Context, externalID string) error {
	err := s.repo.SetProfileIncomplete(ctx, externalID, true)
	if errors.Is(err, ErrNotFound) {
		s.log.Debug().Str("clerk_id", externalID).Msg("needs-update for unknown user ignored")
		return nil
	}
	return err
}

// GetByExternalID reports whether the profile exists; a missing profile is not an error.
func (s *Service) GetByExternalID(ctx context.Context, externalID string) (User, bool, error) {
	u, err := s.repo.GetByExternalID(ctx, externalID)
	if errors.Is(err, ErrNotFound) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (User, error) {
	return s.repo.GetByID(ctx, id)
}

// ResolveID maps an external identity to the internal user id.
func (s *Service) ResolveID(ctx context.Context, externalID string) (string, error) {
	u, err := s.repo.GetByExternalID(ctx, externalID)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// List returns the whole discovery feed, the requester included.
func (s *Service) List(ctx context.Context) ([]PublicProfile, error) {
	if s.cache != nil {
		var cached []PublicProfile
		hit, err := s.cache.GetJSON(ctx, feedCacheKey, &cached)
		if err != nil {
			s.log.Warn().Err(err).Msg("feed cache read failed")
		}
		if hit {
			return cached, nil
		}
	}

	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	feed := make([]PublicProfile, 0, len(users))
	for _, u := range users {
		feed = append(feed, u.Public())
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, feedCacheKey, feed, s.cacheTTL); err != nil {
			s.log.Warn().Err(err).Msg("feed cache write failed")
		}
	}
	return feed, nil
}

// ListExcluding drops the requester and everyone they already liked or disliked.
func (s *Service) ListExcluding(ctx context.Context, externalID string) ([]PublicProfile, error) {
	requester, err := s.repo.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	feed, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]PublicProfile, 0, len(feed))
	for _, p := range feed {
		if p.ID == requester.ID || requester.HasLiked(p.ID) || requester.HasDisliked(p.ID) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) ListMatches(ctx context.Context, externalID string) ([]MatchProfile, error) {
	u, err := s.repo.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return s.matchProfiles(ctx, u)
}

func (s *Service) ListMatchesByID(ctx context.Context, id string) ([]MatchProfile, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.matchProfiles(ctx, u)
}

func (s *Service) matchProfiles(ctx context.Context, u User) ([]MatchProfile, error) {
	matched, err := s.repo.ListByIDs(ctx, u.Matches)
	if err != nil {
		return nil, err
	}

	out := make([]MatchProfile, 0, len(matched))
	for _, m := range matched {
		out = append(out, m.MatchProfile())
	}
	return out, nil
}

func (s *Service) invalidateFeed(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, feedCacheKey); err != nil {
		s.log.Warn().Err(err).Msg("feed cache invalidation failed")
	}
}

// ValidateUpdate rejects an update that would blank the required first name.
func ValidateUpdate(in UpdateInput) error {
	if in.FirstName != nil && strings.TrimSpace(*in.FirstName) == "" {
		return fmt.Errorf("%w: firstName is required", ErrInvalidInput)
	}
	return nil
}

func (s *Service) validateCreate(in CreateInput) (CreateInput, error) {
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	in.FirstName = strings.TrimSpace(in.FirstName)
	if err := s.validate.Struct(in); err != nil {
		return in, fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}
	return in, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fieldName(fe.Field())+" "+fe.Tag())
	}
	slices.Sort(fields)
	return strings.Join(fields, ", ")
}

func fieldName(field string) string {
	switch field {
	case "ExternalID":
		return "clerkId"
	case "FirstName":
		return "firstName"
	case "LastName":
		return "lastName"
	case "Phone":
		return "phone"
	case "Instagram":
		return "instagram"
	default:
		return field
	}
}
