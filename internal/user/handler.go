package user

import (
	"context"
	"errors"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/wichananm65/matchup-backend/internal/auth"
	"github.com/wichananm65/matchup-backend/internal/upload"
)

// PhotoPublisher turns an uploaded photo into a public URL.
type PhotoPublisher interface {
	Publish(ctx context.Context, fh *multipart.FileHeader) (string, error)
}

type Handler struct {
	service *Service
	photos  PhotoPublisher
	guard   *auth.Guard
	log     zerolog.Logger
}

type createRequest struct {
	ExternalID string `json:"clerkId" form:"clerkId"`
	FirstName  string `json:"firstName" form:"firstName"`
	LastName   string `json:"lastName" form:"lastName"`
	Phone      string `json:"phone" form:"phone"`
	Instagram  string `json:"instagram" form:"instagram"`
}

type updateRequest struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Instagram *string `json:"instagram,omitempty"`
}

type existingUser struct {
	Exists bool `json:"exists"`
	User
}

func NewHandler(service *Service, photos PhotoPublisher, guard *auth.Guard, log zerolog.Logger) *Handler {
	return &Handler{service: service, photos: photos, guard: guard, log: log}
}

// RegisterRoutes mounts the profile routes. The clerk routes go first so
// "clerk" is never taken for an internal id.
func (h *Handler) RegisterRoutes(r fiber.Router) {
	r.Post("/users", h.createUser)
	r.Get("/users", h.getUsers)

	r.Get("/users/clerk/:externalId", h.getUserByExternalID)
	r.Put("/users/clerk/:externalId", h.updateUser)
	r.Patch("/users/clerk/:externalId/needs-update", h.markUpdateNeeded)
	r.Get("/users/clerk/:externalId/matches", h.getMatchesByExternalID)

	r.Get("/users/:id", h.getUser)
	r.Get("/users/:id/matches", h.getMatches)
}

// PublicRoute reports whether a request may skip token verification. Only the
// unfiltered feed is public; the exclude filter reveals the requester's choices.
func PublicRoute(c *fiber.Ctx) bool {
	return c.Method() == fiber.MethodGet &&
		strings.TrimSuffix(c.Path(), "/") == "/api/users" &&
		c.Query("exclude") == ""
}

func (h *Handler) createUser(c *fiber.Ctx) error {
	payload := new(createRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request body"})
	}
	if err := h.guard.Authorize(c, strings.TrimSpace(payload.ExternalID)); err != nil {
		return auth.Deny(c, err)
	}

	in := CreateInput{
		ExternalID: payload.ExternalID,
		FirstName:  payload.FirstName,
		LastName:   payload.LastName,
		Phone:      payload.Phone,
		Instagram:  payload.Instagram,
	}

	// a rejected profile must not leave a published photo behind
	if err := h.service.CheckCreate(c.UserContext(), in); err != nil {
		return h.writeCreateError(c, in.ExternalID, err)
	}

	if fh := photoFile(c); fh != nil {
		url, err := h.photos.Publish(c.UserContext(), fh)
		if err != nil {
			return h.writeUploadError(c, err, "Failed to upload photo")
		}
		in.PhotoURL = url
	}

	created, err := h.service.Create(c.UserContext(), in)
	if err != nil {
		return h.writeCreateError(c, in.ExternalID, err)
	}

	h.log.Info().Str("user_id", created.ID).Msg("user created")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "User created", "user": created})
}

func (h *Handler) writeCreateError(c *fiber.Ctx, externalID string, err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	case errors.Is(err, ErrExternalIDTaken):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"message": "User already exists"})
	default:
		h.log.Error().Err(err).Str("clerk_id", externalID).Msg("create user")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to create user"})
	}
}

func (h *Handler) getUsers(c *fiber.Ctx) error {
	var (
		feed []PublicProfile
		err  error
	)
	if exclude := c.Query("exclude"); exclude != "" {
		if err := h.guard.Authorize(c, exclude); err != nil {
			return auth.Deny(c, err)
		}
		feed, err = h.service.ListExcluding(c.UserContext(), exclude)
	} else {
		feed, err = h.service.List(c.UserContext())
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "User not found"})
		}
		h.log.Error().Err(err).Msg("list users")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to fetch users"})
	}
	return c.JSON(feed)
}

func (h *Handler) getUserByExternalID(c *fiber.Ctx) error {
	externalID := c.Params("externalId")
	if err := h.guard.Authorize(c, externalID); err != nil {
		return auth.Deny(c, err)
	}

	u, found, err := h.service.GetByExternalID(c.UserContext(), externalID)
	if err != nil {
		h.log.Error().Err(err).Str("clerk_id", externalID).Msg("check user")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Error checking user"})
	}
	if !found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"exists": false})
	}
	return c.JSON(existingUser{Exists: true, User: u})
}

func (h *Handler) updateUser(c *fiber.Ctx) error {
	externalID := c.Params("externalId")
	if err := h.guard.Authorize(c, externalID); err != nil {
		return auth.Deny(c, err)
	}

	in, err := parseUpdate(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request body"})
	}
	if err := ValidateUpdate(in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	// unknown users are rejected before a photo is published for them
	if _, found, err := h.service.GetByExternalID(c.UserContext(), externalID); err != nil {
		h.log.Error().Err(err).Str("clerk_id", externalID).Msg("load user for update")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to update user"})
	} else if !found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "User not found"})
	}

	if fh := photoFile(c); fh != nil {
		url, err := h.photos.Publish(c.UserContext(), fh)
		if err != nil {
			return h.writeUploadError(c, err, "Failed to update photo")
		}
		in.PhotoURL = &url
	}

	updated, err := h.service.Update(c.UserContext(), externalID, in)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "User not found"})
		case errors.Is(err, ErrInvalidInput):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
		default:
			h.log.Error().Err(err).Str("clerk_id", externalID).Msg("update user")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to update user"})
		}
	}
	return c.JSON(updated)
}

func (h *Handler) markUpdateNeeded(c *fiber.Ctx) error {
	externalID := c.Params("externalId")
	if err := h.guard.Authorize(c, externalID); err != nil {
		return auth.Deny(c, err)
	}

	if err := h.service.MarkIncomplete(c.UserContext(), externalID); err != nil {
		h.log.Error().Err(err).Str("clerk_id", externalID).Msg("mark update needed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to mark user"})
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *Handler) getUser(c *fiber.Ctx) error {
	u, err := h.service.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "User not found"})
		}
		h.log.Error().Err(err).Msg("get user")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to find user"})
	}
	return c.JSON(u)
}

func (h *Handler) getMatches(c *fiber.Ctx) error {
	id := c.Params("id")
	if h.guard.Enabled() {
		u, err := h.service.GetByID(c.UserContext(), id)
		if err == nil {
			err = h.guard.Authorize(c, u.ExternalID)
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return auth.Deny(c, err)
		}
	}

	matches, err := h.service.ListMatchesByID(c.UserContext(), id)
	return h.writeMatches(c, matches, err)
}

func (h *Handler) getMatchesByExternalID(c *fiber.Ctx) error {
	externalID := c.Params("externalId")
	if err := h.guard.Authorize(c, externalID); err != nil {
		return auth.Deny(c, err)
	}

	matches, err := h.service.ListMatches(c.UserContext(), externalID)
	return h.writeMatches(c, matches, err)
}

func (h *Handler) writeMatches(c *fiber.Ctx, matches []MatchProfile, err error) error {
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "User not found"})
		}
		h.log.Error().Err(err).Msg("list matches")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to fetch matches"})
	}
	return c.JSON(matches)
}

func (h *Handler) writeUploadError(c *fiber.Ctx, err error, failure string) error {
	if upload.IsValidation(err) {
		if errors.Is(err, upload.ErrFileTooLarge) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Upload error: File too large"})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Only JPG, JPEG and PNG files are allowed"})
	}

	h.log.Error().Err(err).Msg("publish photo")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"message": failure,
		"error":   upload.ErrUploadFailed.Error(),
	})
}

// parseUpdate reads a partial update from either a multipart form or JSON.
// Only fields the client actually sent end up non-nil.
func parseUpdate(c *fiber.Ctx) (UpdateInput, error) {
	if !isMultipart(c) {
		var payload updateRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&payload); err != nil {
				return UpdateInput{}, err
			}
		}
		return UpdateInput{
			FirstName: payload.FirstName,
			LastName:  payload.LastName,
			Phone:     payload.Phone,
			Instagram: payload.Instagram,
		}, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return UpdateInput{}, err
	}
	field := func(name string) *string {
		if vs, ok := form.Value[name]; ok && len(vs) > 0 {
			v := vs[0]
			return &v
		}
		return nil
	}
	return UpdateInput{
		FirstName: field("firstName"),
		LastName:  field("lastName"),
		Phone:     field("phone"),
		Instagram: field("instagram"),
	}, nil
}

func photoFile(c *fiber.Ctx) *multipart.FileHeader {
	if !isMultipart(c) {
		return nil
	}
	fh, err := c.FormFile("photo")
	if err != nil {
		return nil
	}
	return fh
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm)
}
