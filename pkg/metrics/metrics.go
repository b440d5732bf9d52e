package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChannelsCreated counts ephemeral voice channels spawned from creation channels.
	ChannelsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voicelounge_channels_created_total",
			Help: "Total number of ephemeral voice channels created",
		},
	)

	// ChannelsDeleted counts ephemeral voice channels removed after draining.
	ChannelsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voicelounge_channels_deleted_total",
			Help: "Total number of ephemeral voice channels deleted",
		},
	)

	// ActiveChannels tracks currently registered ephemeral channels.
	ActiveChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voicelounge_active_channels",
			Help: "Number of ephemeral voice channels currently registered",
		},
	)

	// PermissionMutations counts permission engine applications by result (applied|rejected|error).
	PermissionMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicelounge_permission_mutations_total",
			Help: "Total number of channel permission mutations",
		},
		[]string{"result"},
	)

	// AutoKickDisconnects counts members forcibly disconnected by the autokick worker.
	AutoKickDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voicelounge_autokick_disconnects_total",
			Help: "Total number of members disconnected by autokick",
		},
	)

	// AutoKickQueueDepth tracks items waiting for the autokick worker.
	AutoKickQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voicelounge_autokick_queue_depth",
			Help: "Number of voice joins waiting for autokick evaluation",
		},
	)

	// AutoKickDropped counts joins discarded because the evaluation queue was full.
	AutoKickDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voicelounge_autokick_dropped_total",
			Help: "Total number of autokick evaluations dropped due to backpressure",
		},
	)

	// GatewayEvents counts inbound gateway events by type.
	GatewayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicelounge_gateway_events_total",
			Help: "Total number of gateway events received",
		},
		[]string{"type"},
	)
)
