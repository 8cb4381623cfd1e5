package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"halochain/observability"

	nativesync "halochain/native/sync"
)

type chainStatePayload struct {
	Epoch            uint64 `json:"epoch"`
	Timestamp        uint64 `json:"timestamp"`
	TotalSupply      string `json:"totalSupply"`
	TwapPrice        string `json:"twapPrice"`
	LastUpdateHeight uint64 `json:"lastUpdateHeight"`
}

func (p chainStatePayload) state() (*nativesync.ChainState, error) {
	supply, err := parseBig(p.TotalSupply)
	if err != nil {
		return nil, fmt.Errorf("totalSupply: %w", err)
	}
	twap, err := parseBig(p.TwapPrice)
	if err != nil {
		return nil, fmt.Errorf("twapPrice: %w", err)
	}
	return &nativesync.ChainState{
		Epoch:            p.Epoch,
		Timestamp:        p.Timestamp,
		TotalSupply:      supply,
		TWAPPrice:        twap,
		LastUpdateHeight: p.LastUpdateHeight,
	}, nil
}

func statePayload(state *nativesync.ChainState) chainStatePayload {
	payload := chainStatePayload{}
	if state == nil {
		return payload
	}
	payload.Epoch = state.Epoch
	payload.Timestamp = state.Timestamp
	payload.LastUpdateHeight = state.LastUpdateHeight
	if state.TotalSupply != nil {
		payload.TotalSupply = state.TotalSupply.String()
	}
	if state.TWAPPrice != nil {
		payload.TwapPrice = state.TWAPPrice.String()
	}
	return payload
}

func parseBig(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal value %q", value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("value %q must not be negative", value)
	}
	return parsed, nil
}

type syncStateParams struct {
	Caller  string            `json:"caller"`
	ChainID uint16            `json:"chainId"`
	State   chainStatePayload `json:"state"`
}

type epochParams struct {
	Caller string `json:"caller"`
	Epoch  uint64 `json:"epoch"`
}

type governanceParams struct {
	Caller     string `json:"caller"`
	Governance bool   `json:"governance"`
}

type chainParams struct {
	Caller  string `json:"caller"`
	ChainID uint16 `json:"chainId"`
}

type snapshotParams struct {
	Caller      string `json:"caller"`
	TotalSupply string `json:"totalSupply"`
	TwapPrice   string `json:"twapPrice"`
	Height      uint64 `json:"height"`
}

type validateParams struct {
	ChainID uint16 `json:"chainId"`
	Payload string `json:"payload"`
}

func decodeParams(params []json.RawMessage, out interface{}) error {
	if len(params) != 1 {
		return fmt.Errorf("expected a single params object")
	}
	return json.Unmarshal(params[0], out)
}

func parseCaller(value string) ([20]byte, error) {
	return nativesync.ParseAddress(value)
}

func (s *Server) dispatch(w http.ResponseWriter, req *rpcRequest) {
	switch req.Method {
	case "sync_syncState":
		s.handleSyncState(w, req)
	case "sync_emergencyOverride":
		s.handleEmergencyOverride(w, req)
	case "sync_updateHalvingEpoch":
		s.handleUpdateHalvingEpoch(w, req)
	case "sync_setGovernanceChain":
		s.handleSetGovernanceChain(w, req)
	case "sync_addSupportedChain":
		s.handleAddSupportedChain(w, req)
	case "sync_removeSupportedChain":
		s.handleRemoveSupportedChain(w, req)
	case "sync_recordLocalSnapshot":
		s.handleRecordLocalSnapshot(w, req)
	case "sync_prepareStateUpdate":
		s.handlePrepareStateUpdate(w, req)
	case "sync_validateStateUpdate":
		s.handleValidateStateUpdate(w, req)
	case "sync_getSupportedChains":
		s.handleGetSupportedChains(w, req)
	case "sync_getChainState":
		s.handleGetChainState(w, req)
	case "sync_getGlobalState":
		s.handleGetGlobalState(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

func (s *Server) handleSyncState(w http.ResponseWriter, req *rpcRequest) {
	var params syncStateParams
	if err := decodeParams(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseCaller(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	candidate, err := params.State.state()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.SyncState(caller, params.ChainID, candidate); err != nil {
		observability.Sync().RecordRejected(nativesync.Reason(err))
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"accepted": true})
}

func (s *Server) handleEmergencyOverride(w http.ResponseWriter, req *rpcRequest) {
	var params syncStateParams
	if err := decodeParams(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseCaller(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	state, err := params.State.state()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.EmergencyStateOverride(caller, params.ChainID, state); err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"applied": true})
}

func (s *Server) handleUpdateHalvingEpoch(w http.ResponseWriter, req *rpcRequest) {
	var params epochParams
	if err := decodeParams(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseCaller(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.UpdateHalvingEpoch(caller, params.Epoch); err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"epoch": params.Epoch})
}

func (s *Server) handleSetGovernanceChain(w http.ResponseWriter, req *rpcRequest) {
	var params governanceParams
	if err := decodeParams(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseCaller(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.SetGovernanceChain(caller, params.Governance); err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"governance": params.Governance})
}

func (s *Server) handleAddSupportedChain(w http.ResponseWriter, req *rpcRequest) {
	var params chainParams
	if err := decodeParams(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseCaller(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.AddSupportedChain(caller, params.ChainID); err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"chainId": params.ChainID, "supported": true})
}

func (s *Server) handleRemoveSupportedChain(w http.ResponseWriter, req *rpcRequest) {
	var params chainParams
	if err := decodeParams(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseCaller(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.RemoveSupportedChain(caller, params.ChainID); err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"chainId": params.ChainID, "supported": false})
}

func (s *Server) handleRecordLocalSnapshot(w http.ResponseWriter, req *rpcRequest) {
	var params snapshotParams
	if err := decodeParams(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseCaller(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	supply, err := parseBig(params.TotalSupply)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	twap, err := parseBig(params.TwapPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	snapshot := &nativesync.LocalSnapshot{TotalSupply: supply, TWAPPrice: twap, Height: params.Height}
	if err := s.engine.RecordLocalSnapshot(caller, snapshot); err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"recorded": true})
}

func (s *Server) handlePrepareStateUpdate(w http.ResponseWriter, req *rpcRequest) {
	var params struct {
		Caller string `json:"caller"`
	}
	if err := decodeParams(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseCaller(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	payload, err := s.engine.PrepareStateUpdate(caller)
	if err != nil {
		engineError(w, req.ID, err)
		return
	}
	digest := nativesync.Digest(payload)
	writeResult(w, req.ID, map[string]interface{}{
		"payload": "0x" + hex.EncodeToString(payload),
		"digest":  "0x" + hex.EncodeToString(digest[:]),
	})
}

func (s *Server) handleValidateStateUpdate(w http.ResponseWriter, req *rpcRequest) {
	var params validateParams
	if err := decodeParams(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	payload, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(params.Payload), "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "payload must be hex", nil)
		return
	}
	valid, reason, err := s.engine.ValidateStateUpdate(params.ChainID, payload)
	if err != nil {
		engineError(w, req.ID, err)
		return
	}
	result := map[string]interface{}{"valid": valid}
	if reason != "" {
		result["reason"] = reason
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetSupportedChains(w http.ResponseWriter, req *rpcRequest) {
	chains, err := s.engine.SupportedChains()
	if err != nil {
		engineError(w, req.ID, err)
		return
	}
	if chains == nil {
		chains = []uint16{}
	}
	writeResult(w, req.ID, map[string]interface{}{"chains": chains})
}

func (s *Server) handleGetChainState(w http.ResponseWriter, req *rpcRequest) {
	var params struct {
		ChainID uint16 `json:"chainId"`
	}
	if err := decodeParams(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	state, err := s.engine.ChainState(params.ChainID)
	if err != nil {
		engineError(w, req.ID, err)
		return
	}
	result := statePayload(state)
	writeResult(w, req.ID, map[string]interface{}{"chainId": params.ChainID, "state": result})
}

func (s *Server) handleGetGlobalState(w http.ResponseWriter, req *rpcRequest) {
	global, err := s.engine.GlobalState()
	if err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"currentEpoch":        global.CurrentEpoch,
		"lastHalvingTime":     global.LastHalvingTime,
		"lastStateUpdateTime": global.LastStateUpdateTime,
		"governanceChain":     global.GovernanceChain,
	})
}
