package httpapp

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rankgate/rankgate/internal/auth"
	"github.com/rankgate/rankgate/internal/config"
	"github.com/rankgate/rankgate/internal/model"
	"github.com/rankgate/rankgate/internal/ranker"
	"github.com/rankgate/rankgate/internal/rate"
	"github.com/rankgate/rankgate/internal/store"
)

type Server struct {
	store   store.Store
	gate    *auth.Gate
	actions *rate.ActionCounter
	limiter rate.RequestLimiter
	ranker  *ranker.Service
	cfg     config.Config
	restart chan<- struct{}
}

func NewServer(st store.Store, gate *auth.Gate, actions *rate.ActionCounter, limiter rate.RequestLimiter, rk *ranker.Service, cfg config.Config, restart chan<- struct{}) *Server {
	return &Server{
		store:   st,
		gate:    gate,
		actions: actions,
		limiter: limiter,
		ranker:  rk,
		cfg:     cfg,
		restart: restart,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ok, retry := s.limiter.Allow(r.Context(), s.clientIP(r)); !ok {
		writeRateLimit(w, retry)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/api/") {
		s.handleAPI(w, r)
		return
	}
	notFound(w)
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	segments := splitPath(path)

	// Public endpoints, exempt from classification.
	switch {
	case len(segments) == 1 && segments[0] == "status":
		if r.Method == http.MethodGet {
			s.handleStatus(w, r)
			return
		}
		methodNotAllowed(w)
		return
	case len(segments) == 1 && segments[0] == "auth":
		if r.Method == http.MethodPost {
			s.handleAuthProbe(w, r)
			return
		}
		methodNotAllowed(w)
		return
	}

	tier, err := s.gate.Classify(r.Context(), bearerToken(r), r.URL.Query().Get("key"), s.clientIP(r))
	if err != nil {
		writeError(w, classifyStatus(err), err)
		return
	}

	switch {
	case len(segments) == 1 && segments[0] == "roles":
		if r.Method == http.MethodGet {
			s.handleRoles(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "userinfo":
		if r.Method == http.MethodGet {
			s.handleUserInfo(w, r)
			return
		}
	case len(segments) == 1 && isRankAction(segments[0]):
		if r.Method == http.MethodPost {
			s.handleRankChangePost(w, r, tier, segments[0])
			return
		}
		if r.Method == http.MethodGet {
			s.handleRankChangeGet(w, r, tier, segments[0])
			return
		}
	case len(segments) == 1 && segments[0] == "pending-approvals":
		if r.Method == http.MethodGet {
			s.handleListPending(w, r, tier)
			return
		}
	case len(segments) == 2 && segments[0] == "pending-approvals" && segments[1] == "approve":
		if r.Method == http.MethodPost {
			s.handleApprove(w, r, tier)
			return
		}
	case len(segments) == 2 && segments[0] == "pending-approvals" && segments[1] == "reject":
		if r.Method == http.MethodPost {
			s.handleReject(w, r, tier)
			return
		}
	case len(segments) == 1 && segments[0] == "restart":
		if r.Method == http.MethodPost {
			s.handleRestart(w, r, tier)
			return
		}
	}

	notFound(w)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"online":  true,
		"message": "API is online",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleAuthProbe classifies a posted key without requiring prior auth, so
// clients can discover their tier. A secondary key from an unapproved IP
// lands in the pending queue as a side effect.
func (s *Server) handleAuthProbe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		writeError(w, http.StatusBadRequest, errors.New("no key provided"))
		return
	}
	key := strings.TrimSpace(req.Key)
	tier, err := s.gate.Classify(r.Context(), key, key, s.clientIP(r))
	if err != nil {
		writeError(w, classifyStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "type": tier})
}

func (s *Server) handleRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.ranker.Roles(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, errors.New("failed to fetch roles"))
		return
	}
	type roleResp struct {
		Rank int    `json:"rank"`
		Name string `json:"name"`
	}
	resp := make([]roleResp, 0, len(roles))
	for _, role := range roles {
		resp = append(resp, roleResp{Rank: role.Rank, Name: role.Name})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("userid"))
	if target == "" {
		writeError(w, http.StatusBadRequest, errors.New("no user ID or username provided"))
		return
	}
	info, err := s.ranker.UserInfo(r.Context(), target)
	if err != nil {
		if errors.Is(err, ranker.ErrUnknownUser) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadGateway, errors.New("failed to fetch user info"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":      info.UserID,
		"username":    info.Username,
		"rank":        info.Rank,
		"headshotUrl": info.HeadshotURL,
	})
}

// handleRankChangePost serves interactive callers. The machine key uses the
// GET variant; here only maintainer and secondary tiers qualify.
func (s *Server) handleRankChangePost(w http.ResponseWriter, r *http.Request, tier model.Tier, action string) {
	if tier != model.TierMaintainer && tier != model.TierSecondary {
		writeError(w, http.StatusForbidden, errors.New("tier cannot perform rank changes"))
		return
	}
	var req struct {
		UserID string `json:"userid"`
		Rank   *int   `json:"rank"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.executeRankChange(w, r, tier, action, strings.TrimSpace(req.UserID), req.Rank)
}

// handleRankChangeGet serves machine-to-machine callers via query string.
func (s *Server) handleRankChangeGet(w http.ResponseWriter, r *http.Request, tier model.Tier, action string) {
	if tier != model.TierExternalAPI {
		writeError(w, http.StatusForbidden, errors.New("invalid API key"))
		return
	}
	var rank *int
	if v := r.URL.Query().Get("rank"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid rank parameter"))
			return
		}
		rank = &n
	}
	s.executeRankChange(w, r, tier, action, strings.TrimSpace(r.URL.Query().Get("userid")), rank)
}

func (s *Server) executeRankChange(w http.ResponseWriter, r *http.Request, tier model.Tier, action, target string, rank *int) {
	if target == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing parameters"))
		return
	}

	ip := s.clientIP(r)
	count := s.actions.Record(ip)
	if count > s.cfg.RateLimits.ActionLimit {
		// Breach blocks the IP for good; only an out-of-band edit to the
		// blocked set recovers it.
		if err := s.store.Block(r.Context(), ip); err != nil {
			log.Printf("block %s failed: %v", ip, err)
		}
		writeError(w, http.StatusForbidden, errors.New("too many actions"))
		return
	}

	result, err := s.ranker.ChangeRank(r.Context(), ranker.Request{
		Tier:         tier,
		Action:       action,
		Target:       target,
		ExplicitRank: rank,
		CallerIP:     ip,
	})
	if err != nil {
		writeError(w, changeRankStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": rankChangeMessage(result),
		"result":  result,
	})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request, tier model.Tier) {
	if !s.requireMaintainer(w, tier) {
		return
	}
	pending, err := s.store.ListPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	type pendingResp struct {
		IP          string    `json:"ip"`
		Kind        string    `json:"kind"`
		RequestedAt time.Time `json:"requested_at"`
	}
	resp := make([]pendingResp, 0, len(pending))
	for _, p := range pending {
		resp = append(resp, pendingResp{IP: p.IP, Kind: p.Kind, RequestedAt: p.RequestedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": resp})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, tier model.Tier) {
	if !s.requireMaintainer(w, tier) {
		return
	}
	ip, ok := readIPBody(w, r)
	if !ok {
		return
	}
	if err := s.store.Approve(r.Context(), ip); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("no pending approval for ip"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ip": ip})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request, tier model.Tier) {
	if !s.requireMaintainer(w, tier) {
		return
	}
	ip, ok := readIPBody(w, r)
	if !ok {
		return
	}
	if err := s.store.Reject(r.Context(), ip); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ip": ip})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request, tier model.Tier) {
	if !s.requireMaintainer(w, tier) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Restarting service..."})
	select {
	case s.restart <- struct{}{}:
	default:
	}
}

func (s *Server) requireMaintainer(w http.ResponseWriter, tier model.Tier) bool {
	if tier != model.TierMaintainer {
		writeError(w, http.StatusForbidden, errors.New("maintainer only"))
		return false
	}
	return true
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func classifyStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrIPBlocked):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrIPNotApproved), errors.Is(err, auth.ErrInvalidCredential):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func changeRankStatus(err error) int {
	switch {
	case errors.Is(err, ranker.ErrReadOnlyTier):
		return http.StatusForbidden
	case errors.Is(err, ranker.ErrRankRequired), errors.Is(err, ranker.ErrNoTransition):
		return http.StatusBadRequest
	case errors.Is(err, ranker.ErrUnknownUser):
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func rankChangeMessage(result ranker.Result) string {
	verb := result.Action + "d"
	if result.NoOp {
		verb = "already at"
		return "User " + result.Username + " " + verb + " " + result.RoleName + " (Rank " + strconv.Itoa(result.NewRank) + ")"
	}
	return "User " + result.Username + " " + verb + " to " + result.RoleName + " (Rank " + strconv.Itoa(result.NewRank) + ")"
}

func isRankAction(segment string) bool {
	switch segment {
	case ranker.ActionPromote, ranker.ActionDemote, ranker.ActionSetRank:
		return true
	}
	return false
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

func readIPBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		IP string `json:"ip"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	ip := strings.TrimSpace(req.IP)
	if ip == "" {
		writeError(w, http.StatusBadRequest, errors.New("ip required"))
		return "", false
	}
	return ip, true
}

func readJSON(body io.ReadCloser, dest any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeRateLimit(w http.ResponseWriter, retry time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate limit exceeded",
		"retry_after": int(retry.Seconds()),
	})
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, errors.New("not found"))
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
