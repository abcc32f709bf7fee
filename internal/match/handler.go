package match

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/wichananm65/matchup-backend/internal/auth"
	"github.com/wichananm65/matchup-backend/internal/metrics"
	"github.com/wichananm65/matchup-backend/internal/user"
)

// Users resolves the acting user for the external-id routes and for token checks.
type Users interface {
	ResolveID(ctx context.Context, externalID string) (string, error)
	GetByID(ctx context.Context, id string) (user.User, error)
}

type Handler struct {
	service *Service
	users   Users
	guard   *auth.Guard
	log     zerolog.Logger
}

func NewHandler(service *Service, users Users, guard *auth.Guard, log zerolog.Logger) *Handler {
	return &Handler{service: service, users: users, guard: guard, log: log}
}

func (h *Handler) RegisterRoutes(r fiber.Router) {
	r.Post("/users/clerk/:externalId/like/:targetId", h.likeByExternalID)
	r.Post("/users/clerk/:externalId/dislike/:targetId", h.dislikeByExternalID)
	r.Get("/users/clerk/:externalId/match-count", h.matchCountByExternalID)

	r.Post("/users/:userId/like/:targetId", h.like)
	r.Post("/users/:userId/dislike/:targetId", h.dislike)
	r.Get("/users/:id/match-count", h.matchCount)
}

func (h *Handler) like(c *fiber.Ctx) error {
	actorID := c.Params("userId")
	if err := h.authorizeByID(c, actorID); err != nil {
		return h.writeActionError(c, "like", err)
	}
	return h.doLike(c, actorID)
}

func (h *Handler) likeByExternalID(c *fiber.Ctx) error {
	externalID := c.Params("externalId")
	if err := h.guard.Authorize(c, externalID); err != nil {
		return auth.Deny(c, err)
	}

	actorID, err := h.users.ResolveID(c.UserContext(), externalID)
	if err != nil {
		h.log.Error().Err(err).Str("clerk_id", externalID).Msg("resolve user for like")
		metrics.RecordAction("like", "error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to like user"})
	}
	return h.doLike(c, actorID)
}

func (h *Handler) doLike(c *fiber.Ctx, actorID string) error {
	result, err := h.service.Like(c.UserContext(), actorID, c.Params("targetId"))
	if err != nil {
		return h.writeActionError(c, "like", err)
	}

	outcome := "liked"
	if result.Match {
		outcome = "matched"
	}
	metrics.RecordAction("like", outcome)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message":     "User liked successfully",
		"match":       result.Match,
		"matchedUser": result.MatchedUser,
	})
}

func (h *Handler) dislike(c *fiber.Ctx) error {
	actorID := c.Params("userId")
	if err := h.authorizeByID(c, actorID); err != nil {
		return h.writeActionError(c, "dislike", err)
	}
	return h.doDislike(c, actorID)
}

func (h *Handler) dislikeByExternalID(c *fiber.Ctx) error {
	externalID := c.Params("externalId")
	if err := h.guard.Authorize(c, externalID); err != nil {
		return auth.Deny(c, err)
	}

	actorID, err := h.users.ResolveID(c.UserContext(), externalID)
	if err != nil {
		h.log.Error().Err(err).Str("clerk_id", externalID).Msg("resolve user for dislike")
		metrics.RecordAction("dislike", "error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to dislike user"})
	}
	return h.doDislike(c, actorID)
}

func (h *Handler) doDislike(c *fiber.Ctx, actorID string) error {
	if err := h.service.Dislike(c.UserContext(), actorID, c.Params("targetId")); err != nil {
		return h.writeActionError(c, "dislike", err)
	}
	metrics.RecordAction("dislike", "disliked")
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"message": "User disliked successfully"})
}

func (h *Handler) matchCount(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.authorizeByID(c, id); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "User not found"})
		}
		return auth.Deny(c, err)
	}
	return h.writeCount(c, id)
}

func (h *Handler) matchCountByExternalID(c *fiber.Ctx) error {
	externalID := c.Params("externalId")
	if err := h.guard.Authorize(c, externalID); err != nil {
		return auth.Deny(c, err)
	}

	id, err := h.users.ResolveID(c.UserContext(), externalID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "User not found"})
		}
		h.log.Error().Err(err).Str("clerk_id", externalID).Msg("resolve user for match count")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to fetch match count"})
	}
	return h.writeCount(c, id)
}

func (h *Handler) writeCount(c *fiber.Ctx, id string) error {
	count, err := h.service.MutualCount(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "User not found"})
		}
		h.log.Error().Err(err).Str("user_id", id).Msg("count mutual likes")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to fetch match count"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"count": count})
}

// authorizeByID checks the token against the external id of the user behind id.
func (h *Handler) authorizeByID(c *fiber.Ctx, id string) error {
	if !h.guard.Enabled() {
		return nil
	}
	u, err := h.users.GetByID(c.UserContext(), id)
	if err != nil {
		return err
	}
	return h.guard.Authorize(c, u.ExternalID)
}

func (h *Handler) writeActionError(c *fiber.Ctx, action string, err error) error {
	switch {
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrForbidden):
		metrics.RecordAction(action, "denied")
		return auth.Deny(c, err)
	case errors.Is(err, ErrSelfAction):
		metrics.RecordAction(action, "rejected")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "You cannot " + action + " yourself"})
	case errors.Is(err, ErrTargetNotFound):
		metrics.RecordAction(action, "not_found")
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "Target user not found"})
	case errors.Is(err, user.ErrNotFound):
		metrics.RecordAction(action, "not_found")
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "User not found"})
	case errors.Is(err, ErrAlreadyLiked):
		metrics.RecordAction(action, "rejected")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "User already liked"})
	case errors.Is(err, ErrAlreadyDisliked):
		metrics.RecordAction(action, "rejected")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "User already disliked"})
	default:
		metrics.RecordAction(action, "error")
		h.log.Error().Err(err).Str("action", action).Msg("relationship action failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to " + action + " user"})
	}
}
