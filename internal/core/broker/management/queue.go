package management

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ottermq/otterlane/internal/core/broker/vhost"
	brokererrors "github.com/ottermq/otterlane/internal/core/errors"
	"github.com/ottermq/otterlane/internal/core/models"
)

// ListQueues returns a list of all queues across all vhosts.
func (s *Service) ListQueues() []models.QueueDTO {
	var dtos []models.QueueDTO
	for _, vh := range s.broker.ListVHosts() {
		for _, queue := range vh.GetAllQueues() {
			dtos = append(dtos, s.queueToDTO(vh, queue))
		}
	}
	sort.SliceStable(dtos, func(i, j int) bool { return dtos[i].VHost < dtos[j].VHost })
	return dtos
}

func (s *Service) GetQueue(vhostName, queueName string) (*models.QueueDTO, error) {
	vh, queue, err := s.lookup(vhostName, queueName)
	if err != nil {
		return nil, err
	}
	dto := s.queueToDTO(vh, queue)
	return &dto, nil
}

// CreateQueue creates a new queue in the specified vhost. Declaring an
// existing queue with the same properties is not an error.
func (s *Service) CreateQueue(vhostName, queueName string, req models.CreateQueueRequest) (*models.QueueDTO, error) {
	vh := s.broker.GetVHost(vhostName)
	if vh == nil {
		return nil, vhostNotFound(vhostName)
	}
	props := createQueueProperties(req)
	queue, err := vh.CreateQueue(queueName, props)
	if errors.Is(err, vhost.ErrPersistence) {
		return nil, brokererrors.Wrap(err, brokererrors.ResourceError)
	}
	if err != nil {
		return nil, brokererrors.Wrap(err, brokererrors.PreconditionFailed)
	}
	dto := s.queueToDTO(vh, queue)
	return &dto, nil
}

func createQueueProperties(req models.CreateQueueRequest) *vhost.QueueProperties {
	args := vhost.QueueArgs{}
	for k, v := range req.Arguments {
		args[k] = v
	}
	// Map convenience fields to arguments
	if req.MaxLength != nil {
		args[vhost.ArgMaxLength] = *req.MaxLength
	}
	if req.MessageTTL != nil {
		args[vhost.ArgMessageTTL] = *req.MessageTTL
	}
	if req.MaxDeliveryAttempts != nil {
		args[vhost.ArgMaxDeliveryAttempts] = int64(*req.MaxDeliveryAttempts)
	}
	return &vhost.QueueProperties{
		Durable:    req.Durable,
		AutoDelete: req.AutoDelete,
		Arguments:  args,
	}
}

func (s *Service) DeleteQueue(vhostName, queueName string, ifEmpty bool) error {
	vh, queue, err := s.lookup(vhostName, queueName)
	if err != nil {
		return err
	}
	if queue.Name == vh.DeadLetterAddress() && vh.ActiveExtensions["dlx"] {
		return brokererrors.NewBrokerError(fmt.Sprintf("queue '%s' is the dead-letter address", queueName), brokererrors.PreconditionFailed)
	}
	if ifEmpty && queue.MessageCount() > 0 {
		return brokererrors.NewBrokerError(fmt.Sprintf("queue '%s' is not empty", queueName), brokererrors.PreconditionFailed)
	}
	if err := vh.DeleteQueue(queueName); err != nil {
		return brokererrors.Wrap(err, brokererrors.InternalError)
	}
	return nil
}

func (s *Service) PurgeQueue(vhostName, queueName string) (int, error) {
	_, queue, err := s.lookup(vhostName, queueName)
	if err != nil {
		return 0, err
	}
	return queue.Purge(), nil
}

func (s *Service) lookup(vhostName, queueName string) (*vhost.VHost, *vhost.Queue, error) {
	vh := s.broker.GetVHost(vhostName)
	if vh == nil {
		return nil, nil, vhostNotFound(vhostName)
	}
	queue := vh.GetQueue(queueName)
	if queue == nil {
		return nil, nil, brokererrors.Wrap(fmt.Errorf("%w: '%s' in vhost '%s'", vhost.ErrQueueNotFound, queueName, vhostName), brokererrors.NotFound)
	}
	return vh, queue, nil
}

func vhostNotFound(name string) error {
	return brokererrors.NewBrokerError(fmt.Sprintf("vhost '%s' not found", name), brokererrors.NotFound)
}

func (s *Service) queueToDTO(vh *vhost.VHost, queue *vhost.Queue) models.QueueDTO {
	ready, unacked := queue.Len(), queue.InFlight()
	dto := models.QueueDTO{
		VHost:               vh.Name,
		Name:                queue.Name,
		Messages:            queue.MessageCount(),
		MessagesReady:       ready,
		MessagesUnacked:     unacked,
		Expired:             queue.ExpiredCount(),
		Killed:              queue.KilledCount(),
		DeadLetterDropped:   queue.DeadLetterDroppedCount(),
		PersistenceEnabled:  queue.Props.Durable,
		Durable:             queue.Props.Durable,
		AutoDelete:          queue.Props.AutoDelete,
		Arguments:           queue.Props.Arguments,
		MaxDeliveryAttempts: queue.MaxDeliveryAttempts(),
	}
	if ttl, ok := queue.MessageTTL(); ok {
		dto.MessageTTL = &ttl
	}
	if maxLen, ok := queue.MaxLength(); ok {
		v := int64(maxLen)
		dto.MaxLength = &v
	}
	return dto
}
