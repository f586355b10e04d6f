// SPDX-License-Identifier: AGPL-3.0-only

// Package instrument exposes the server's Prometheus metrics.
package instrument

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var initOnce sync.Once

var (
	incomingConns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "licks_incoming_connections_total",
			Help: "Number of accepted client connections",
		},
	)
	mailboxAppends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "licks_mailbox_appends_total",
			Help: "Number of messages appended to mailboxes",
		},
	)
	mailboxRetrieves = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "licks_mailbox_retrieves_total",
			Help: "Number of mailbox retrieve passes",
		},
	)
	notificationsPushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "licks_notifications_pushed_total",
			Help: "Number of listener notifications pushed",
		},
	)
	notificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "licks_notifications_dropped_total",
			Help: "Number of listener notifications dropped on slow connections",
		},
	)
	authFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "licks_auth_failures_total",
			Help: "Number of failed authorization attempts",
		},
	)
)

// Init registers the metrics and exposes them via HTTP on addr, empty
// addr registers the metrics only.
func Init(addr string) {
	initOnce.Do(func() {
		prometheus.MustRegister(
			incomingConns,
			mailboxAppends,
			mailboxRetrieves,
			notificationsPushed,
			notificationsDropped,
			authFailures,
		)
	})
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}

// IncomingConn counts an accepted client connection.
func IncomingConn() {
	incomingConns.Inc()
}

// MailboxAppend counts a mailbox append.
func MailboxAppend() {
	mailboxAppends.Inc()
}

// MailboxRetrieve counts a mailbox retrieve pass.
func MailboxRetrieve() {
	mailboxRetrieves.Inc()
}

// NotificationPushed counts a delivered listener notification.
func NotificationPushed() {
	notificationsPushed.Inc()
}

// NotificationDropped counts a notification dropped on a slow
// connection.
func NotificationDropped() {
	notificationsDropped.Inc()
}

// AuthFailure counts a failed authorization attempt.
func AuthFailure() {
	authFailures.Inc()
}
