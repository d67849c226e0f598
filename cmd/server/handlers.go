package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/node-manager/internal/engine"
	"github.com/node-manager/internal/series"
	"github.com/node-manager/pkg/logger"
)

type errorBody struct {
	Error string `json:"error"`
}

// EngineAction /dbe/{op}/ 的应答
type EngineAction struct {
	Node      string `json:"node"`
	Operation string `json:"operation"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write response failed", logger.Component("http"), zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func (s *Server) handleNodeList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.api.NodeList())
}

func (s *Server) handleNodeDetail(w http.ResponseWriter, r *http.Request) {
	node := r.PathValue("node")
	if _, port, err := net.SplitHostPort(node); err != nil || !isPort(port) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Node %s is not <host>:<port>.", node))
		return
	}
	writeJSON(w, http.StatusOK, s.api.NodeDetail(node))
}

func (s *Server) handleMetricNames(w http.ResponseWriter, _ *http.Request) {
	names, err := s.api.MetricNames()
	if err != nil {
		logger.Error("list metrics failed", logger.Component("http"), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleMetric(w http.ResponseWriter, r *http.Request) {
	name, op := r.PathValue("name"), r.PathValue("op")
	switch op {
	case "avg", "min", "max", "values":
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Operation %s is not supported", op))
		return
	}

	now := s.clock.Now()
	q := r.URL.Query()
	fromExpr, untilExpr := q.Get("from"), q.Get("until")
	if fromExpr == "" {
		fromExpr = DefaultFrom
	}
	if untilExpr == "" {
		untilExpr = DefaultUntil
	}
	from, err := ParseTime(fromExpr, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	until, err := ParseTime(untilExpr, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.api.QueryMetric(name, op, from, until)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, series.ErrEmptyWindow):
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Metric %s has no samples in the requested window.", name))
	case errors.Is(err, series.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("query metric failed", logger.Component("http"), zap.String("metric", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleEngines(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.api.Engines())
}

func (s *Server) handleEngine(w http.ResponseWriter, r *http.Request) {
	op, host, port := r.PathValue("op"), r.PathValue("host"), r.PathValue("port")
	if !isPort(port) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Port %s is not valid.", port))
		return
	}
	node := net.JoinHostPort(host, port)

	switch op {
	case "start":
		s.api.StartEngine(r.Context(), node)
		writeJSON(w, http.StatusAccepted, EngineAction{Node: node, Operation: op})
	case "stop":
		err := s.api.StopEngine(r.Context(), node)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, EngineAction{Node: node, Operation: op})
		case errors.Is(err, engine.ErrUnknownEngine):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Database engine %s is not running.", node))
		default:
			logger.Error("stop database engine failed", logger.Component("http"), zap.String("node", node), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Operation %s is not supported", op))
	}
}

func isPort(s string) bool {
	p, err := strconv.Atoi(s)
	return err == nil && p > 0 && p <= 65535
}
