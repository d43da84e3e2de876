package auth

import (
	"errors"
	"net/http"
	"strings"
)

// Headers set by the gateway after token verification. Upstream services trust them.
const (
	HeaderActorID   = "X-User-Id"
	HeaderActorRole = "X-Role"
	HeaderClinicID  = "X-Clinic-Id"
	HeaderSubject   = "X-Auth-Subject"
)

var (
	ErrNoActor   = errors.New("missing actor")
	ErrForbidden = errors.New("forbidden")
)

type Role string

const (
	RolePatient Role = "patient"
	RoleClinic  Role = "clinic"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func ParseRole(v string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(v))); r {
	case RolePatient, RoleClinic, RoleDoctor, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}

// Actor identifies who is calling a workflow. ID is the patient, clinic or doctor id
// matching Role.
type Actor struct {
	ID       string
	Role     Role
	ClinicID string
	Subject  string
}

func (a Actor) Is(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// Owns reports whether the actor is the given profile, or an admin.
func (a Actor) Owns(role Role, id string) bool {
	if a.Role == RoleAdmin {
		return true
	}
	return id != "" && a.Role == role && a.ID == id
}

func ActorFromClaims(c *Claims) (Actor, error) {
	if c == nil {
		return Actor{}, ErrNoActor
	}
	role, ok := ParseRole(c.Role)
	if !ok {
		return Actor{}, ErrForbidden
	}
	id := c.ProfileID
	if id == "" {
		id = c.Subject
	}
	clinicID := c.ClinicID
	if role == RoleClinic && clinicID == "" {
		clinicID = id
	}
	return Actor{ID: id, Role: role, ClinicID: clinicID, Subject: c.Subject}, nil
}

func ActorFromRequest(r *http.Request) (Actor, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderActorID))
	if id == "" {
		return Actor{}, ErrNoActor
	}
	role, ok := ParseRole(r.Header.Get(HeaderActorRole))
	if !ok {
		return Actor{}, ErrNoActor
	}
	return Actor{
		ID:       id,
		Role:     role,
		ClinicID: strings.TrimSpace(r.Header.Get(HeaderClinicID)),
		Subject:  r.Header.Get(HeaderSubject),
	}, nil
}

// SetHeaders writes the actor onto an outgoing request.
func (a Actor) SetHeaders(h http.Header) {
	h.Set(HeaderActorID, a.ID)
	h.Set(HeaderActorRole, string(a.Role))
	if a.ClinicID != "" {
		h.Set(HeaderClinicID, a.ClinicID)
	}
	if a.Subject != "" {
		h.Set(HeaderSubject, a.Subject)
	}
}

// StripHeaders removes client-supplied actor headers before a request is proxied.
func StripHeaders(h http.Header) {
	h.Del(HeaderActorID)
	h.Del(HeaderActorRole)
	h.Del(HeaderClinicID)
	h.Del(HeaderSubject)
}
