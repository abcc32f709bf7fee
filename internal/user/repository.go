package user

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var (
	ErrNotFound          = errors.New("user not found")
	ErrExternalIDTaken   = errors.New("external id already registered")
	ErrInvalidInput      = errors.New("invalid input")
	errEmptyRelationSave = errors.New("no users to save")
)

// Repository persists users. SaveRelations writes the likes, dislikes and
// matches of every given user as one unit: either all rows change or none do.
type Repository interface {
	List(ctx context.Context) ([]User, error)
	ListByIDs(ctx context.Context, ids []string) ([]User, error)
	GetByID(ctx context.Context, id string) (User, error)
	GetByExternalID(ctx context.Context, externalID string) (User, error)
	Create(ctx context.Context, user User) (User, error)
	UpdateProfile(ctx context.Context, user User) (User, error)
	SetProfileIncomplete(ctx context.Context, externalID string, incomplete bool) error
	SaveRelations(ctx context.Context, users ...User) error
}

// InMemoryRepository is used for tests and when no DATABASE_URL is configured.
type InMemoryRepository struct {
	mu    sync.RWMutex
	users []User
}

var _ Repository = (*InMemoryRepository)(nil)

func NewInMemoryRepository(seed []User) *InMemoryRepository {
	repo := &InMemoryRepository{users: make([]User, 0, len(seed))}
	for _, u := range seed {
		repo.users = append(repo.users, u.clone().normalize())
	}
	return repo
}

func (r *InMemoryRepository) List(ctx context.Context) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u.clone())
	}
	return users, nil
}

func (r *InMemoryRepository) ListByIDs(ctx context.Context, ids []string) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]User, 0, len(ids))
	for _, u := range r.users {
		if slices.Contains(ids, u.ID) {
			users = append(users, u.clone())
		}
	}
	return users, nil
}

func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexByID(id); i >= 0 {
		return r.users[i].clone(), nil
	}
	return User{}, ErrNotFound
}

func (r *InMemoryRepository) GetByExternalID(ctx context.Context, externalID string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexByExternalID(externalID); i >= 0 {
		return r.users[i].clone(), nil
	}
	return User{}, ErrNotFound
}

func (r *InMemoryRepository) Create(ctx context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexByExternalID(user.ExternalID) >= 0 {
		return User{}, ErrExternalIDTaken
	}

	user = user.clone().normalize()
	r.users = append(r.users, user)
	return user.clone(), nil
}

func (r *InMemoryRepository) UpdateProfile(ctx context.Context, update User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexByID(update.ID)
	if i < 0 {
		return User{}, ErrNotFound
	}

	u := r.users[i]
	u.FirstName = update.FirstName
	u.LastName = update.LastName
	u.Phone = update.Phone
	u.Instagram = update.Instagram
	u.PhotoURL = update.PhotoURL
	u.ProfileIncomplete = update.ProfileIncomplete
	r.users[i] = u
	return u.clone(), nil
}

func (r *InMemoryRepository) SetProfileIncomplete(ctx context.Context, externalID string, incomplete bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexByExternalID(externalID)
	if i < 0 {
		return ErrNotFound
	}
	r.users[i].ProfileIncomplete = incomplete
	return nil
}

func (r *InMemoryRepository) SaveRelations(ctx context.Context, users ...User) error {
	if len(users) == 0 {
		return errEmptyRelationSave
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// resolve every index before touching anything so a missing row aborts the whole save
	idx := make([]int, len(users))
	for n, u := range users {
		i := r.indexByID(u.ID)
		if i < 0 {
			return ErrNotFound
		}
		idx[n] = i
	}

	for n, u := range users {
		stored := r.users[idx[n]]
		stored.Likes = slices.Clone(u.Likes)
		stored.Dislikes = slices.Clone(u.Dislikes)
		stored.Matches = slices.Clone(u.Matches)
		r.users[idx[n]] = stored.normalize()
	}
	return nil
}

func (r *InMemoryRepository) indexByID(id string) int {
	return slices.IndexFunc(r.users, func(u User) bool { return u.ID == id })
}

func (r *InMemoryRepository) indexByExternalID(externalID string) int {
	return slices.IndexFunc(r.users, func(u User) bool { return u.ExternalID == externalID })
}
