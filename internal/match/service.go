// Package match applies likes and dislikes and turns mutual likes into matches.
package match

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wichananm65/matchup-backend/internal/metrics"
	"github.com/wichananm65/matchup-backend/internal/user"
)

var (
	ErrAlreadyActed    = errors.New("already acted on user")
	ErrAlreadyLiked    = fmt.Errorf("%w: user already liked", ErrAlreadyActed)
	ErrAlreadyDisliked = fmt.Errorf("%w: user already disliked", ErrAlreadyActed)
	ErrSelfAction      = errors.New("cannot like or dislike yourself")
	ErrTargetNotFound  = fmt.Errorf("target %w", user.ErrNotFound)
)

// Result describes the outcome of a like.
type Result struct {
	Match       bool
	MatchedUser *user.MatchedUser
}

// Service serializes relationship writes within the process so two opposite
// likes arriving together still see each other.
type Service struct {
	mu   sync.Mutex
	repo user.Repository
	log  zerolog.Logger
}

func NewService(repo user.Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Like records that actorID likes targetID. When the target already likes the
// actor both users get each other in matches, saved together with the like.
func (s *Service) Like(ctx context.Context, actorID, targetID string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	actor, target, err := s.loadPair(ctx, actorID, targetID)
	if err != nil {
		return Result{}, err
	}
	if actor.HasLiked(target.ID) {
		return Result{}, ErrAlreadyLiked
	}

	actor.Likes = append(actor.Likes, target.ID)
	actor.Dislikes = without(actor.Dislikes, target.ID)
	changed := []user.User{actor}

	result := Result{}
	if target.HasLiked(actor.ID) {
		if !actor.HasMatched(target.ID) {
			actor.Matches = append(actor.Matches, target.ID)
			changed[0] = actor
		}
		if !target.HasMatched(actor.ID) {
			target.Matches = append(target.Matches, actor.ID)
			changed = append(changed, target)
		}
		matched := target.Matched()
		result = Result{Match: true, MatchedUser: &matched}
	}

	if err := s.repo.SaveRelations(ctx, changed...); err != nil {
		return Result{}, fmt.Errorf("save like: %w", err)
	}

	if result.Match {
		metrics.RecordMatch()
		s.log.Info().Str("user_id", actor.ID).Str("target_id", target.ID).Msg("match created")
	}
	return result, nil
}

// Dislike records that actorID dislikes targetID. It clears the target from the
// actor's likes and matches only; the target's own lists are not touched.
func (s *Service) Dislike(ctx context.Context, actorID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	actor, target, err := s.loadPair(ctx, actorID, targetID)
	if err != nil {
		return err
	}
	if actor.HasDisliked(target.ID) {
		return ErrAlreadyDisliked
	}

	actor.Dislikes = append(actor.Dislikes, target.ID)
	actor.Likes = without(actor.Likes, target.ID)
	actor.Matches = without(actor.Matches, target.ID)

	if err := s.repo.SaveRelations(ctx, actor); err != nil {
		return fmt.Errorf("save dislike: %w", err)
	}
	return nil
}

// MutualCount counts the users userID likes who like userID back.
func (s *Service) MutualCount(ctx context.Context, userID string) (int, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}

	liked, err := s.repo.ListByIDs(ctx, u.Likes)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, other := range liked {
		if other.HasLiked(u.ID) {
			count++
		}
	}
	return count, nil
}

func (s *Service) loadPair(ctx context.Context, actorID, targetID string) (user.User, user.User, error) {
	if actorID == targetID {
		return user.User{}, user.User{}, ErrSelfAction
	}

	actor, err := s.repo.GetByID(ctx, actorID)
	if err != nil {
		return user.User{}, user.User{}, err
	}

	target, err := s.repo.GetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, user.User{}, ErrTargetNotFound
		}
		return user.User{}, user.User{}, err
	}
	return actor, target, nil
}

func without(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(v string) bool { return v == id })
}
