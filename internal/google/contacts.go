package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"neonetworker/internal/domain"
	"neonetworker/internal/metrics"
	"neonetworker/internal/models"

	"google.golang.org/api/people/v1"
)

const (
	contactPageSize = 1000
	contactFields   = "names,emailAddresses,phoneNumbers,organizations,biographies"
	sourceGoogle    = "google"
)

// SyncResult counts what a sync run changed.
type SyncResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// SyncContacts imports the user's Google contacts. Existing people are matched
// by email, then by Google resource name, and only empty fields are filled, so
// repeated runs are idempotent.
func (s *AuthService) SyncContacts(ctx context.Context, user *models.User) (SyncResult, error) {
	var res SyncResult
	tok, err := s.authorized(ctx, user)
	if err != nil {
		return res, err
	}
	svc, err := s.peopleService(ctx, tok)
	if err != nil {
		return res, fmt.Errorf("people client: %w", err)
	}

	pageToken := ""
	for {
		call := svc.People.Connections.List("people/me").
			PersonFields(contactFields).
			PageSize(contactPageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			metrics.IncIntegrationFailure("google")
			return res, fmt.Errorf("list connections: %w", err)
		}
		for _, contact := range page.Connections {
			if err := s.importContact(ctx, user, contact, &res); err != nil {
				return res, err
			}
		}
		if page.NextPageToken == "" {
			return res, nil
		}
		pageToken = page.NextPageToken
	}
}

func (s *AuthService) importContact(ctx context.Context, user *models.User, contact *people.Person, res *SyncResult) error {
	incoming := personFromContact(user, contact)
	if incoming.FirstName == "" && incoming.LastName == "" && incoming.Email == "" {
		res.Skipped++
		return nil
	}

	existing, err := s.findContact(ctx, user, incoming)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if err := s.people.CreatePerson(ctx, incoming); err != nil {
			return fmt.Errorf("create contact: %w", err)
		}
		res.Created++
		return nil
	case err != nil:
		return err
	}

	if !mergeContact(existing, incoming) {
		res.Skipped++
		return nil
	}
	if err := s.people.UpdatePerson(ctx, existing); err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	res.Updated++
	return nil
}

func (s *AuthService) findContact(ctx context.Context, user *models.User, p *models.Person) (*models.Person, error) {
	if p.Email != "" {
		found, err := s.people.FindPersonByEmail(ctx, user.ID, p.Email)
		if !errors.Is(err, domain.ErrNotFound) {
			return found, err
		}
	}
	if p.GoogleContactID == nil {
		return nil, domain.ErrNotFound
	}
	return s.people.FindPersonByGoogleID(ctx, user.ID, *p.GoogleContactID)
}

func personFromContact(user *models.User, c *people.Person) *models.Person {
	p := &models.Person{OwnerID: user.ID, Source: sourceGoogle}
	if c.ResourceName != "" {
		id := c.ResourceName
		p.GoogleContactID = &id
	}
	if len(c.Names) > 0 {
		p.FirstName = strings.TrimSpace(c.Names[0].GivenName)
		p.LastName = strings.TrimSpace(c.Names[0].FamilyName)
		if p.FirstName == "" && p.LastName == "" {
			p.FirstName = strings.TrimSpace(c.Names[0].DisplayName)
		}
	}
	if len(c.EmailAddresses) > 0 {
		p.Email = strings.ToLower(strings.TrimSpace(c.EmailAddresses[0].Value))
	}
	if len(c.PhoneNumbers) > 0 {
		p.Phone = strings.TrimSpace(c.PhoneNumbers[0].Value)
	}
	if len(c.Organizations) > 0 {
		p.Company = strings.TrimSpace(c.Organizations[0].Name)
		p.JobTitle = strings.TrimSpace(c.Organizations[0].Title)
	}
	if len(c.Biographies) > 0 {
		p.Notes = strings.TrimSpace(c.Biographies[0].Value)
	}
	return p
}

// mergeContact fills empty fields of dst from src and reports whether
// anything changed.
func mergeContact(dst, src *models.Person) bool {
	changed := false
	fill := func(field *string, value string) {
		if *field == "" && value != "" {
			*field = value
			changed = true
		}
	}
	fill(&dst.FirstName, src.FirstName)
	fill(&dst.LastName, src.LastName)
	fill(&dst.Email, src.Email)
	fill(&dst.Phone, src.Phone)
	fill(&dst.Company, src.Company)
	fill(&dst.JobTitle, src.JobTitle)
	fill(&dst.Notes, src.Notes)
	if dst.GoogleContactID == nil && src.GoogleContactID != nil {
		dst.GoogleContactID = src.GoogleContactID
		changed = true
	}
	return changed
}
