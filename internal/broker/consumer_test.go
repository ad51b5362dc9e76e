package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"github.com/Guizzs26/go-region-sync/internal/db"
	"github.com/Guizzs26/go-region-sync/internal/models"
	"github.com/Guizzs26/go-region-sync/internal/service"
)

func TestDispositionFor(t *testing.T) {
	fk := &service.ForeignKeyConstraintError{Region: "EU-MAIN", EntityType: "JobPost", EntityID: "j-1", Err: db.ErrForeignKeyViolation}

	tests := []struct {
		name    string
		err     error
		retries int
		want    disposition
	}{
		{"success acks", nil, 0, dispositionAck},
		{"invalid message is dead lettered", fmt.Errorf("%w: missing entity_id", models.ErrInvalidMessage), 0, dispositionDeadLetter},
		{"integrity fault is dead lettered", fmt.Errorf("%w: no id", service.ErrIntegrity), 0, dispositionDeadLetter},
		{"foreign key waits for the dependency", fk, 0, dispositionRetryLater},
		{"foreign key inside a joined error", errors.Join(errors.New("upsert in region US: timeout"), fk), 3, dispositionRetryLater},
		{"foreign key budget exhausted", fk, 10, dispositionDeadLetter},
		{"cancellation requeues", context.Canceled, 0, dispositionRequeue},
		{"generic store failure requeues", errors.New("connection refused"), 0, dispositionRequeue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dispositionFor(tt.err, tt.retries, 10))
		})
	}
}

func TestRetryCount(t *testing.T) {
	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 0, retryCount(amqp.Table{retryHeader: "x"}))
	assert.Equal(t, 3, retryCount(amqp.Table{retryHeader: int32(3)}))
	assert.Equal(t, 4, retryCount(amqp.Table{retryHeader: int64(4)}))
}

func TestNewPublishing(t *testing.T) {
	p, err := newPublishing(models.SyncMessage{
		EntityType:   "Country",
		EntityID:     "c-1",
		SourceRegion: "IN",
		SyncEventID:  "evt-1",
	})
	assert.NoError(t, err)
	assert.Equal(t, "evt-1", p.MessageId)
	assert.Equal(t, amqp.Persistent, p.DeliveryMode)
	assert.JSONEq(t, `{"entity_type":"Country","entity_id":"c-1","source_region":"IN","is_deleted":false,"sync_event_id":"evt-1"}`, string(p.Body))
}
