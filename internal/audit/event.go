// Package audit mencatat event siklus hidup entitas (siapa, apa, kapan,
// perubahan sebelum/sesudah) dan menyediakan audit timeline.
package audit

import (
	"context"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Action menamai jenis event.
type Action string

const (
	ActionCreated      Action = "created"
	ActionUpdated      Action = "updated"
	ActionDeleted      Action = "deleted"
	ActionAttached     Action = "attached"
	ActionDetached     Action = "detached"
	ActionAssigned     Action = "assigned"
	ActionRevoked      Action = "revoked"
	ActionImpersonated Action = "impersonated"
)

// Event adalah satu catatan audit.
type Event struct {
	// ID unik per event; dipakai untuk menolak penulisan ganda saat task diulang.
	ID             string         `json:"id"`
	ActorID        int64          `json:"actor_id"`
	ImpersonatorID int64          `json:"impersonator_id,omitempty"`
	Action         Action         `json:"action"`
	Entity         string         `json:"entity"`
	EntityID       string         `json:"entity_id"`
	Before         map[string]any `json:"before,omitempty"`
	After          map[string]any `json:"after,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
	At             time.Time      `json:"at"`
}

// NewEvent membuat event dengan aktor dari context.
func NewEvent(ctx context.Context, action Action, entity, entityID string) Event {
	e := Event{ID: uuid.NewString(), Action: action, Entity: entity, EntityID: entityID, At: time.Now().UTC()}
	if actor, ok := shared.ActorFromContext(ctx); ok {
		e.ActorID = actor.UserID
		e.ImpersonatorID = actor.ImpersonatorID
	}
	return e
}

// WithChange menyimpan state sebelum/sesudah.
func (e Event) WithChange(before, after map[string]any) Event {
	e.Before = before
	e.After = after
	return e
}

// WithMeta menambahkan metadata.
func (e Event) WithMeta(key string, value any) Event {
	meta := make(map[string]any, len(e.Meta)+1)
	for k, v := range e.Meta {
		meta[k] = v
	}
	meta[key] = value
	e.Meta = meta
	return e
}

// Change adalah nilai lama dan baru dari satu field.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Diff mengembalikan field yang berubah antara before dan after.
func Diff(before, after map[string]any) map[string]Change {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	changes := make(map[string]Change)
	for k := range keys {
		oldV, newV := before[k], after[k]
		if !reflect.DeepEqual(oldV, newV) {
			changes[k] = Change{Old: oldV, New: newV}
		}
	}
	return changes
}

// ChangedKeys mengembalikan nama field yang berubah, terurut.
func ChangedKeys(before, after map[string]any) []string {
	diff := Diff(before, after)
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
