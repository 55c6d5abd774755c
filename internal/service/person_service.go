package service

import (
	"context"
	"errors"
	"strings"

	"neonetworker/internal/domain"
	"neonetworker/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	PermissionView = "view"
	PermissionEdit = "edit"
)

// PersonInput carries a create or a partial update. Nil fields are left
// unchanged on update.
type PersonInput struct {
	FirstName    *string        `json:"first_name"`
	LastName     *string        `json:"last_name"`
	Email        *string        `json:"email"`
	Phone        *string        `json:"phone"`
	Company      *string        `json:"company"`
	JobTitle     *string        `json:"job_title"`
	Status       *string        `json:"status"`
	Priority     *string        `json:"priority"`
	Gender       *string        `json:"gender"`
	JobStatus    *string        `json:"job_status"`
	Categories   *string        `json:"categories"`
	Tags         *string        `json:"tags"`
	Notes        *string        `json:"notes"`
	LinkedInURL  *string        `json:"linkedin_url"`
	Location     *string        `json:"location"`
	Source       *string        `json:"source"`
	CustomFields map[string]any `json:"custom_fields"`
}

type PersonService struct {
	people domain.PersonRepository
	users  domain.UserRepository
	logger *zerolog.Logger
}

func NewPersonService(people domain.PersonRepository, users domain.UserRepository, logger *zerolog.Logger) *PersonService {
	return &PersonService{
		people: people,
		users:  users,
		logger: logger,
	}
}

func (s *PersonService) List(ctx context.Context, user *models.User, search string) ([]*models.Person, error) {
	return s.people.ListPeople(ctx, user.ID, domain.PersonFilter{Search: search, IncludeShared: true})
}

// Search is the chat flavour of List: owned contacts only, capped.
func (s *PersonService) Search(ctx context.Context, user *models.User, term string, limit int) ([]*models.Person, error) {
	return s.people.ListPeople(ctx, user.ID, domain.PersonFilter{Search: term, Limit: limit})
}

// Get returns a contact the user owns or that was shared with them.
func (s *PersonService) Get(ctx context.Context, user *models.User, id uuid.UUID) (*models.Person, error) {
	p, _, err := s.load(ctx, user, id, PermissionView)
	return p, err
}

func (s *PersonService) Create(ctx context.Context, user *models.User, in PersonInput) (*models.Person, error) {
	p := &models.Person{OwnerID: user.ID, Status: models.PersonStatusActive, Priority: models.PriorityMedium}
	if err := applyPersonInput(p, in); err != nil {
		return nil, err
	}
	if p.FirstName == "" && p.LastName == "" {
		return nil, domain.Invalid("first_name", "first or last name is required")
	}
	if err := s.people.CreatePerson(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PersonService) Update(ctx context.Context, user *models.User, id uuid.UUID, in PersonInput) (*models.Person, error) {
	p, _, err := s.load(ctx, user, id, PermissionEdit)
	if err != nil {
		return nil, err
	}
	if err := applyPersonInput(p, in); err != nil {
		return nil, err
	}
	if p.FirstName == "" && p.LastName == "" {
		return nil, domain.Invalid("first_name", "first or last name is required")
	}
	if err := s.people.UpdatePerson(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes an owned contact.
func (s *PersonService) Delete(ctx context.Context, user *models.User, id uuid.UUID) error {
	p, owned, err := s.load(ctx, user, id, PermissionView)
	if err != nil {
		return err
	}
	if !owned {
		return domain.ErrForbidden
	}
	return s.people.DeletePerson(ctx, p.ID)
}

func (s *PersonService) DeleteAll(ctx context.Context, user *models.User) (int64, error) {
	n, err := s.people.DeleteAllPeople(ctx, user.ID)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("user_id", user.ID.String()).Int64("deleted", n).Msg("all contacts deleted")
	return n, nil
}

// Share grants the user with email access to an owned contact.
func (s *PersonService) Share(ctx context.Context, user *models.User, id uuid.UUID, email, permission string) (*models.PersonShare, error) {
	if permission == "" {
		permission = PermissionView
	}
	if permission != PermissionView && permission != PermissionEdit {
		return nil, domain.Invalid("permission", "must be view or edit")
	}

	p, owned, err := s.load(ctx, user, id, PermissionView)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, domain.ErrForbidden
	}

	target, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Invalid("email", "no user with email %s", email)
	}
	if err != nil {
		return nil, err
	}
	if target.ID == user.ID {
		return nil, domain.Invalid("email", "cannot share with yourself")
	}

	share := &models.PersonShare{
		PersonID:         p.ID,
		OwnerID:          user.ID,
		SharedWithUserID: target.ID,
		Permission:       permission,
	}
	if err := s.people.SharePerson(ctx, share); err != nil {
		return nil, err
	}
	return share, nil
}

// load fetches id and checks access. owned reports whether user owns the row.
func (s *PersonService) load(ctx context.Context, user *models.User, id uuid.UUID, need string) (*models.Person, bool, error) {
	p, err := s.people.GetPerson(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if p.OwnerID == user.ID {
		return p, true, nil
	}

	share, err := s.people.GetShare(ctx, id, user.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, domain.ErrForbidden
	}
	if err != nil {
		return nil, false, err
	}
	if need == PermissionEdit && share.Permission != PermissionEdit {
		return nil, false, domain.ErrForbidden
	}
	return p, false, nil
}

func applyPersonInput(p *models.Person, in PersonInput) error {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&p.FirstName, in.FirstName)
	setString(&p.LastName, in.LastName)
	setString(&p.Email, in.Email)
	setString(&p.Phone, in.Phone)
	setString(&p.Company, in.Company)
	setString(&p.JobTitle, in.JobTitle)
	setString(&p.Categories, in.Categories)
	setString(&p.Tags, in.Tags)
	setString(&p.Notes, in.Notes)
	setString(&p.LinkedInURL, in.LinkedInURL)
	setString(&p.Location, in.Location)
	setString(&p.Source, in.Source)

	if in.Status != nil {
		v := strings.ToLower(strings.TrimSpace(*in.Status))
		if v == "" {
			v = models.PersonStatusActive
		}
		if !models.OneOf(v, models.PersonStatuses) {
			return domain.Invalid("status", "must be one of %s", strings.Join(models.PersonStatuses, ", "))
		}
		p.Status = v
	}
	if in.Priority != nil {
		v := strings.ToLower(strings.TrimSpace(*in.Priority))
		if v == "" {
			v = models.PriorityMedium
		}
		if !models.OneOf(v, models.Priorities) {
			return domain.Invalid("priority", "must be one of %s", strings.Join(models.Priorities, ", "))
		}
		p.Priority = v
	}

	var err error
	if p.Gender, err = optionalEnum("gender", p.Gender, in.Gender, models.Genders); err != nil {
		return err
	}
	if p.JobStatus, err = optionalEnum("job_status", p.JobStatus, in.JobStatus, models.JobStatuses); err != nil {
		return err
	}

	if in.CustomFields != nil {
		if p.CustomFields == nil {
			p.CustomFields = map[string]any{}
		}
		for k, v := range in.CustomFields {
			p.CustomFields[k] = v
		}
	}
	return nil
}

// optionalEnum maps "" to nil and rejects values outside allowed.
func optionalEnum(field string, current, in *string, allowed []string) (*string, error) {
	if in == nil {
		return current, nil
	}
	v := strings.ToLower(strings.TrimSpace(*in))
	if v == "" {
		return nil, nil
	}
	if !models.OneOf(v, allowed) {
		return nil, domain.Invalid(field, "must be one of %s", strings.Join(allowed, ", "))
	}
	return &v, nil
}
