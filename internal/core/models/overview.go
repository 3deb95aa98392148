package models

import "github.com/ottermq/otterlane/pkg/metrics"

type OverviewBrokerDetails struct {
	Product     string   `json:"product"`
	Version     string   `json:"version"`
	Platform    string   `json:"platform"`
	GoVersion   string   `json:"go_version"`
	UptimeSecs  int      `json:"uptime_secs"`
	StartTime   string   `json:"start_time"`
	DataDir     string   `json:"data_dir"`
	Persistence string   `json:"persistence"`
	Protocols   []string `json:"protocols"`
	Extensions  []string `json:"extensions"`
}

type OverviewMessageStats struct {
	MessagesReady   int   `json:"messages_ready"`
	MessagesUnacked int   `json:"messages_unacknowledged"`
	MessagesTotal   int64 `json:"messages_total"`

	// Per-queue breakdown
	QueueStats []QueueMessageBreakdown `json:"queue_stats"`
}

type QueueMessageBreakdown struct {
	QueueName       string `json:"name"`
	VHost           string `json:"vhost"`
	MessagesReady   int    `json:"messages"`
	MessagesUnacked int    `json:"messages_unacknowledged"`
}

type OverviewDTO struct {
	BrokerDetails OverviewBrokerDetails  `json:"broker_details"`
	MessageStats  OverviewMessageStats   `json:"message_stats"`
	Queues        int                    `json:"queues"`
	Metrics       metrics.BrokerSnapshot `json:"metrics"`
}
