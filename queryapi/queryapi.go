// Package queryapi exposes the relay's persistent state for read-only HTTP
// access (spec.md §6): the installed reward epoch, per-epoch signing policy
// hashes, submitted Merkle roots, and registry committee views. Routing
// follows the gorilla/mux convention used across the retrieved Flare system
// client manifests; response writing follows the teacher's writeJSON/
// writeError helper split (pkg/rpc/server.go).
package queryapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/flare-foundation/signing-policy-relay/host"
	"github.com/flare-foundation/signing-policy-relay/log"
	"github.com/flare-foundation/signing-policy-relay/metrics"
)

// Server serves read views over a *host.Host's wired relay and registry.
type Server struct {
	host   *host.Host
	router *mux.Router
	log    *log.Logger
}

// New builds a Server. h must already have had Build called successfully;
// every handler returns 503 via the unpopulated-slot errors otherwise.
func New(h *host.Host) *Server {
	s := &Server{
		host: h,
		log:  log.Default().Module("queryapi"),
	}
	r := mux.NewRouter()
	r.HandleFunc("/lastInitializedRewardEpoch", s.handleLastInitializedRewardEpoch).Methods(http.MethodGet)
	r.HandleFunc("/policyHash/{epoch}", s.handlePolicyHash).Methods(http.MethodGet)
	r.HandleFunc("/merkleRoot/{protocolId}/{votingRoundId}", s.handleMerkleRoot).Methods(http.MethodGet)
	r.HandleFunc("/registeredVoters/{epoch}", s.handleRegisteredVoters).Methods(http.MethodGet)
	r.HandleFunc("/registeredSigningAddresses/{epoch}", s.handleRegisteredSigningAddresses).Methods(http.MethodGet)
	r.HandleFunc("/voterWithNormalisedWeight/{epoch}/{signer}", s.handleVoterWithNormalisedWeight).Methods(http.MethodGet)
	r.HandleFunc("/isVoterRegistered/{epoch}/{voter}", s.handleIsVoterRegistered).Methods(http.MethodGet)
	r.HandleFunc("/numberOfRegisteredVoters/{epoch}", s.handleNumberOfRegisteredVoters).Methods(http.MethodGet)
	r.Use(s.instrument)
	s.router = r
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.QueryAPIRequests.Inc()
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.QueryAPILatency.Observe(float64(time.Since(start).Milliseconds()))
		if rec.status >= 400 {
			metrics.QueryAPIErrors.Inc()
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleLastInitializedRewardEpoch(w http.ResponseWriter, r *http.Request) {
	relayCore, err := s.host.Relay()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, map[string]uint64{
		"lastInitializedRewardEpoch": relayCore.State().LastInitializedRewardEpoch(),
	})
}

func (s *Server) handlePolicyHash(w http.ResponseWriter, r *http.Request) {
	epoch, err := parseUint(mux.Vars(r)["epoch"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	relayCore, err := s.host.Relay()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, map[string]string{
		"policyHash": relayCore.State().PolicyHash(epoch).Hex(),
	})
}

func (s *Server) handleMerkleRoot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	protocolId, err := strconv.ParseUint(vars["protocolId"], 10, 8)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	votingRoundId, err := strconv.ParseUint(vars["votingRoundId"], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	relayCore, err := s.host.Relay()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	root := relayCore.State().MerkleRoot(uint8(protocolId), uint32(votingRoundId))
	writeJSON(w, map[string]string{"merkleRoot": root.Hex()})
}

func (s *Server) handleRegisteredVoters(w http.ResponseWriter, r *http.Request) {
	epoch, err := parseUint(mux.Vars(r)["epoch"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	reg, err := s.host.Registry()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, map[string]any{"voters": reg.RegisteredVoters(epoch)})
}

func (s *Server) handleRegisteredSigningAddresses(w http.ResponseWriter, r *http.Request) {
	epoch, err := parseUint(mux.Vars(r)["epoch"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	reg, err := s.host.Registry()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	addrs, err := reg.GetRegisteredSigningPolicyAddresses(epoch)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, map[string]any{"signingAddresses": addrs})
}

func (s *Server) handleVoterWithNormalisedWeight(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	epoch, err := parseUint(vars["epoch"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !common.IsHexAddress(vars["signer"]) {
		writeError(w, http.StatusBadRequest, errInvalidAddress)
		return
	}
	signer := common.HexToAddress(vars["signer"])
	reg, err := s.host.Registry()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	voter, weight, found := reg.GetVoterWithNormalisedWeight(epoch, signer)
	if !found {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	writeJSON(w, map[string]any{"voter": voter, "normalizedWeight": weight})
}

func (s *Server) handleIsVoterRegistered(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	epoch, err := parseUint(vars["epoch"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !common.IsHexAddress(vars["voter"]) {
		writeError(w, http.StatusBadRequest, errInvalidAddress)
		return
	}
	reg, err := s.host.Registry()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	voter := common.HexToAddress(vars["voter"])
	writeJSON(w, map[string]bool{"registered": reg.IsVoterRegistered(voter, epoch)})
}

func (s *Server) handleNumberOfRegisteredVoters(w http.ResponseWriter, r *http.Request) {
	epoch, err := parseUint(mux.Vars(r)["epoch"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	reg, err := s.host.Registry()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, map[string]int{"count": reg.NumberOfRegisteredVoters(epoch)})
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

var (
	errInvalidAddress = hexErr("invalid hex address")
	errNotFound       = hexErr("not found")
)

func hexErr(msg string) error { return &apiError{msg} }

type apiError struct{ msg string }

func (e *apiError) Error() string { return e.msg }

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
