package main

import (
	"errors"
	"net/http"

	"github.com/coachlink/rvcd/internal/metrics"
)

// newMetricsServer строит HTTP-сервер, отдающий /metrics текущего
// реестра Prometheus. ListenAndServe возвращает http.ErrServerClosed
// после штатного Close — это не ошибка работы демона.
func newMetricsServer(addr string, reg *metrics.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}

// isServerClosed сообщает, является ли ошибка ожидаемым результатом
// штатной остановки сервера.
func isServerClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}
