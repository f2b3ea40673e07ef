package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"worldchains.ai/internal/network"
	"worldchains.ai/internal/transport/query"
	"worldchains.ai/internal/transport/ws"
)

func newMux(mgr *network.Manager, reg *prometheus.Registry, loopbackOnly bool, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	wsSrv := ws.NewServer(mgr, logger.Named("ws"))
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	q := query.NewServer(mgr, logger.Named("query"))
	q.LoopbackOnly = loopbackOnly
	q.Routes(mux)
	return mux
}
