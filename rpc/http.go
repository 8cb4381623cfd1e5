package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	nativesync "halochain/native/sync"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	requestsPerSecond = 5
	requestBurst      = 10
)

const (
	codeParseError       = -32700
	codeInvalidRequest   = -32600
	codeMethodNotFound   = -32601
	codeInvalidParams    = -32602
	codeServerError      = -32000
	codeUnauthorized     = -32001
	codeRateLimited      = -32020
	codeValidationFailed = -32030
)

// Server exposes the sync engine operations over JSON-RPC 2.0. Transport
// authentication is a bearer token; application-level authorization stays
// with the engine's role checks.
type Server struct {
	engine    *nativesync.Engine
	logger    *slog.Logger
	authToken string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer constructs an RPC server for the supplied engine. The mutating
// methods require the bearer token from HALO_RPC_TOKEN when set.
func NewServer(engine *nativesync.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		logger:    logger,
		authToken: strings.TrimSpace(os.Getenv("HALO_RPC_TOKEN")),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Start serves the RPC endpoint and the prometheus metrics handler.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &rpcError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	if !s.allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req rpcRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON-RPC request", nil)
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported JSON-RPC version", nil)
		return
	}

	if s.mutating(req.Method) && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "missing or invalid bearer token", nil)
		return
	}

	s.dispatch(w, &req)
}

func (s *Server) mutating(method string) bool {
	switch method {
	case "sync_getSupportedChains", "sync_getChainState", "sync_getGlobalState", "sync_validateStateUpdate", "sync_prepareStateUpdate":
		return false
	}
	return true
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

func (s *Server) allow(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst)
		s.limiters[source] = limiter
	}
	return limiter.Allow()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// engineError maps typed engine failures onto JSON-RPC error codes, carrying
// the stable reason code as error data.
func engineError(w http.ResponseWriter, id interface{}, err error) {
	reason := nativesync.Reason(err)
	switch {
	case errors.Is(err, nativesync.ErrUnauthorized), errors.Is(err, nativesync.ErrZeroAddress):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), reason)
	case errors.Is(err, nativesync.ErrFutureTimestamp),
		errors.Is(err, nativesync.ErrInvalidEpoch),
		errors.Is(err, nativesync.ErrEpochSkipped),
		errors.Is(err, nativesync.ErrInvalidSupply),
		errors.Is(err, nativesync.ErrOutdatedState),
		errors.Is(err, nativesync.ErrIdenticalState),
		errors.Is(err, nativesync.ErrTooFrequentUpdate),
		errors.Is(err, nativesync.ErrNotGovernanceChain),
		errors.Is(err, nativesync.ErrInvalidEmergencyOverride),
		errors.Is(err, nativesync.ErrUnsupportedChain),
		errors.Is(err, nativesync.ErrInvalidChainID),
		errors.Is(err, nativesync.ErrReentrantCall):
		writeError(w, http.StatusOK, id, codeValidationFailed, err.Error(), reason)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}
