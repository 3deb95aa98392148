package management

import (
	"runtime"
	"sort"
	"time"

	"github.com/ottermq/otterlane/internal/core/models"
)

const product = "Otterlane"

func (s *Service) GetOverview() (*models.OverviewDTO, error) {
	collector := s.broker.GetCollector()
	stats := s.GetMessageStats()
	return &models.OverviewDTO{
		BrokerDetails: s.GetBrokerInfo(),
		MessageStats:  stats,
		Queues:        len(stats.QueueStats),
		Metrics:       *collector.GetBrokerSnapshot(),
	}, nil
}

// GetMessageStats accumulates message stats from all vhosts.
func (s *Service) GetMessageStats() models.OverviewMessageStats {
	var mStats models.OverviewMessageStats
	qStats := []models.QueueMessageBreakdown{}
	for _, dto := range s.ListQueues() {
		mStats.MessagesReady += dto.MessagesReady
		mStats.MessagesUnacked += dto.MessagesUnacked
		mStats.MessagesTotal += dto.Messages
		qStats = append(qStats, models.QueueMessageBreakdown{
			VHost:           dto.VHost,
			QueueName:       dto.Name,
			MessagesReady:   dto.MessagesReady,
			MessagesUnacked: dto.MessagesUnacked,
		})
	}
	mStats.QueueStats = qStats
	return mStats
}

func (s *Service) GetBrokerInfo() models.OverviewBrokerDetails {
	cfg := s.broker.Config()
	started := s.broker.StartedAt()

	protocols := []string{}
	for _, p := range s.broker.Adapters().Protocols() {
		protocols = append(protocols, string(p))
	}
	seen := map[string]bool{}
	for _, vh := range s.broker.ListVHosts() {
		for name, on := range vh.ActiveExtensions {
			seen[name] = seen[name] || on
		}
	}
	extensions := []string{}
	for name, on := range seen {
		if on {
			extensions = append(extensions, name)
		}
	}
	sort.Strings(extensions)

	return models.OverviewBrokerDetails{
		Product:     product,
		Version:     cfg.Version,
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		GoVersion:   runtime.Version(),
		UptimeSecs:  int(time.Since(started).Seconds()),
		StartTime:   started.UTC().Format(time.RFC3339),
		DataDir:     cfg.DataDir,
		Persistence: cfg.PersistenceType,
		Protocols:   protocols,
		Extensions:  extensions,
	}
}
