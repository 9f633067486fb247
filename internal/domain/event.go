// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventUserLogin     = "user.login"
	EventUserLogout    = "user.logout"
	EventUserRegister  = "user.register"
	EventModelCreated  = "model.created"
	EventModelUpdated  = "model.updated"
	EventModelDeleted  = "model.deleted"
	EventModelRestored = "model.restored"
	EventSystemBootup  = "system.bootup"
	EventSystemTest    = "system.test"

	// EventCustom names the fallback entry of the event table.
	EventCustom = "custom"
)

// Ref is a polymorphic pointer to an entity of any type. Name is the
// display value captured when the event was recorded, if any.
type Ref struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (r *Ref) Valid() bool {
	return r != nil && r.Type != "" && r.ID != ""
}

// Entity is anything an event can be about or caused by.
type Entity interface {
	EntityType() string
	EntityID() string
}

// RefOf returns nil for a nil entity.
func RefOf(e Entity) *Ref {
	if e == nil {
		return nil
	}
	return &Ref{Type: e.EntityType(), ID: e.EntityID()}
}

type EventRecord struct {
	ID          uuid.UUID  `json:"id"`
	EventType   string     `json:"event_type"`
	Description string     `json:"description"`
	Subject     *Ref       `json:"subject,omitempty"`
	Causer      *Ref       `json:"causer,omitempty"`
	Properties  Properties `json:"properties,omitempty"`
	Sent        bool       `json:"discord_sent"`
	SentAt      *time.Time `json:"discord_sent_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Persisted reports whether the record made it into the store. Records
// returned after a persistence failure carry uuid.Nil.
func (r EventRecord) Persisted() bool {
	return r.ID != uuid.Nil
}
