// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens is the result of a successful login.
type Tokens struct {
	AccessToken string
	TokenType   string    // always "bearer"
	ExpiresAt   time.Time // access token expiry
}

// User is an authenticated principal. PasswordHash is a self-describing one-way hash and never
// leaves the server.
type User struct {
	ID           uuid.UUID // PK
	Email        string    // unique handle, lower-cased
	FullName     string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time // strictly increases on every mutation
}

// ItemStatus is the workflow state of an inspection item.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
	ItemCancelled  ItemStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemPending, ItemInProgress, ItemCompleted, ItemCancelled:
		return true
	}
	return false
}

// Item is an inspection record owned by exactly one user. OwnerID is set at creation and never
// reassigned.
type Item struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID // FK -> users.id
	Title       string
	Description string
	Status      ItemStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ItemInput carries the fields a caller may set when creating an item.
type ItemInput struct {
	Title       string
	Description string
	Status      ItemStatus // empty means pending
}

// ItemPatch carries optional field updates; nil fields are left untouched.
type ItemPatch struct {
	Title       *string
	Description *string
	Status      *ItemStatus
}

// ItemFilter narrows an owner's item listing.
type ItemFilter struct {
	Status ItemStatus // empty means any
	Skip   int
	Limit  int
}

// Capability names what an authorization check requires of the caller.
type Capability string

// CapOwner is the only capability of the ownership-scoped model.
const CapOwner Capability = "is-owner"

// DecisionReason explains an authorization outcome. It is for logs and metrics only.
type DecisionReason string

const (
	ReasonOK               DecisionReason = "ok"
	ReasonResourceMissing  DecisionReason = "resource-missing"
	ReasonIdentityInactive DecisionReason = "identity-inactive"
	ReasonNotOwner         DecisionReason = "not-owner"
)

// Decision is the output of the authorization gate.
type Decision struct {
	Allow  bool
	Reason DecisionReason
}
