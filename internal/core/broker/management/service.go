package management

import (
	"context"
	"time"

	"github.com/ottermq/otterlane/config"
	"github.com/ottermq/otterlane/internal/core/adapters"
	"github.com/ottermq/otterlane/internal/core/broker/vhost"
	"github.com/ottermq/otterlane/internal/core/message"
	"github.com/ottermq/otterlane/internal/core/models"
	"github.com/ottermq/otterlane/pkg/metrics"
)

// BrokerProvider defines the minimal interface that management operations need from the broker
type BrokerProvider interface {
	GetVHost(vhostName string) *vhost.VHost
	ListVHosts() []*vhost.VHost
	GetCollector() *metrics.Collector
	Adapters() *adapters.Registry
	Config() *config.Config
	StartedAt() time.Time
	Publish(ctx context.Context, address string, env *message.Envelope) error
}

type ManagementService interface {
	/* Queues */

	// ListQueues lists all queues across all vhosts.
	ListQueues() []models.QueueDTO
	// GetQueue retrieves the details of a specific queue within a vhost.
	GetQueue(vhost, queue string) (*models.QueueDTO, error)
	// CreateQueue creates a new queue in the specified vhost.
	CreateQueue(vhost, queue string, req models.CreateQueueRequest) (*models.QueueDTO, error)
	// DeleteQueue deletes a queue from the specified vhost.
	DeleteQueue(vhost, queue string, ifEmpty bool) error
	// PurgeQueue purges all messages from the specified queue within a vhost.
	PurgeQueue(vhost, queue string) (int, error)

	/* Messages */

	// PublishMessage enqueues a message built from the request and returns its ID.
	PublishMessage(ctx context.Context, vhost, queue string, req models.PublishMessageRequest) (string, error)
	// GetMessages peeks at up to count waiting messages without leasing them.
	GetMessages(vhost, queue string, count int) ([]models.MessageDTO, error)

	/* Overview/Stats */

	GetOverview() (*models.OverviewDTO, error)
	GetBrokerInfo() models.OverviewBrokerDetails
}

type Service struct {
	broker BrokerProvider
}

var _ ManagementService = (*Service)(nil)

func NewService(b BrokerProvider) *Service {
	return &Service{broker: b}
}
