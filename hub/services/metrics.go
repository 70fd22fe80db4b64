package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	patchesDeletedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "patchhub_patches_deleted_total", Help: "Patches deleted",
	})
	messagesCreatedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchhub_messages_created_total", Help: "Notification messages created",
	}, []string{"type"})
	reportsFiledMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "patchhub_reports_filed_total", Help: "Moderation reports filed",
	})
	patchDeleteMetric = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "patchhub_patch_delete", Help: "Patch deletion latency",
	})
)
