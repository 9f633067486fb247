// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryTask carries one event record through the queue. Attempts counts
// the delivery attempts already made.
type DeliveryTask struct {
	ID        uuid.UUID `json:"id"`
	EventID   uuid.UUID `json:"event_id"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

func NewDeliveryTask(eventID uuid.UUID, now time.Time) DeliveryTask {
	return DeliveryTask{
		ID:        uuid.New(),
		EventID:   eventID,
		CreatedAt: now.UTC(),
	}
}

// Next returns the task as it should be queued for its following attempt.
func (t DeliveryTask) Next() DeliveryTask {
	t.Attempts++
	return t
}
