package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Fake FusionSolar endpoint for local development and load tests. Serves the
// login/stations/getStationRealKpi surface with tunable failure modes:
//
//	FAKE_FUSION_ADDR        listen address (default :18081)
//	FAKE_FUSION_STATIONS    number of stations served (default 45)
//	FAKE_FUSION_LATENCY_MS  per-request latency
//	FAKE_FUSION_FAIL_LOGIN  failCode returned by login (0 = accept)
//	FAKE_FUSION_FAIL_RATE   probability of a failCode 407 response per call
//	FAKE_FUSION_LEGACY_ONLY serve only the legacy getStationList listing
type fakeFusionServer struct {
	start        time.Time
	latency      time.Duration
	stationCount int
	failLogin    int
	failRate     float64
	legacyOnly   bool

	token      string
	totalCalls int64

	mu     sync.Mutex
	byOp   map[string]int64
	logins int64
}

func main() {
	addr := getenvDefault("FAKE_FUSION_ADDR", ":18081")

	srv := &fakeFusionServer{
		start:        time.Now().UTC(),
		latency:      time.Duration(getenvIntDefault("FAKE_FUSION_LATENCY_MS", 0)) * time.Millisecond,
		stationCount: getenvIntDefault("FAKE_FUSION_STATIONS", 45),
		failLogin:    getenvIntDefault("FAKE_FUSION_FAIL_LOGIN", 0),
		failRate:     getenvFloatDefault("FAKE_FUSION_FAIL_RATE", 0),
		legacyOnly:   getenvDefault("FAKE_FUSION_LEGACY_ONLY", "") != "",
		token:        fmt.Sprintf("fake-token-%d", time.Now().UnixNano()),
		byOp:         make(map[string]int64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/metrics", srv.handleMetrics)
	mux.HandleFunc("/login", srv.handleLogin)
	mux.HandleFunc("/stations", srv.handleStations)
	mux.HandleFunc("/getStationList", srv.handleStationListLegacy)
	mux.HandleFunc("/getStationRealKpi", srv.handleStationRealKpi)
	mux.HandleFunc("/getDevList", srv.handleDevList)
	mux.HandleFunc("/getDevRealKpi", srv.handleDevRealKpi)

	log.Printf("fake FusionSolar server listening on %s (%d stations)", addr, srv.stationCount)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func (s *fakeFusionServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeFusionServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, map[string]any{
		"started_at": s.start.Format(time.RFC3339),
		"total":      atomic.LoadInt64(&s.totalCalls),
		"logins":     s.logins,
		"by_op":      s.byOp,
	})
}

func (s *fakeFusionServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.recordCall("login")
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	s.logins++
	s.mu.Unlock()

	var payload struct {
		UserName   string `json:"userName"`
		SystemCode string `json:"systemCode"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)

	if s.failLogin != 0 {
		writeJSON(w, map[string]any{"success": false, "failCode": s.failLogin, "message": "login rejected"})
		return
	}
	if payload.UserName == "" || payload.SystemCode == "" {
		writeJSON(w, map[string]any{"success": false, "failCode": 20400, "message": "invalid credentials"})
		return
	}
	w.Header().Set("XSRF-TOKEN", s.token)
	http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "fake-session"})
	writeJSON(w, map[string]any{"success": true, "failCode": 0, "data": nil})
}

func (s *fakeFusionServer) handleStations(w http.ResponseWriter, r *http.Request) {
	s.recordCall("stations")
	if !s.checkCall(w, r) {
		return
	}
	if s.legacyOnly {
		writeJSON(w, map[string]any{"success": false, "failCode": 20404, "message": "not found"})
		return
	}
	// The real endpoint takes both pagination fields string-encoded.
	var payload struct {
		PageNo   string `json:"pageNo"`
		PageSize string `json:"pageSize"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)
	pageNo, _ := strconv.Atoi(payload.PageNo)
	if pageNo < 1 {
		pageNo = 1
	}
	pageSize, _ := strconv.Atoi(payload.PageSize)
	if pageSize < 1 {
		pageSize = 100
	}

	start := (pageNo - 1) * pageSize
	end := start + pageSize
	if end > s.stationCount {
		end = s.stationCount
	}
	list := make([]any, 0, pageSize)
	for i := start; i < end; i++ {
		list = append(list, s.stationRecord(i))
	}
	writeJSON(w, map[string]any{"success": true, "failCode": 0, "data": map[string]any{"list": list}})
}

func (s *fakeFusionServer) handleStationListLegacy(w http.ResponseWriter, r *http.Request) {
	s.recordCall("getStationList")
	if !s.checkCall(w, r) {
		return
	}
	list := make([]any, 0, s.stationCount)
	for i := 0; i < s.stationCount; i++ {
		list = append(list, s.stationRecord(i))
	}
	writeJSON(w, map[string]any{"success": true, "failCode": 0, "data": list})
}

func (s *fakeFusionServer) handleStationRealKpi(w http.ResponseWriter, r *http.Request) {
	s.recordCall("getStationRealKpi")
	if !s.checkCall(w, r) {
		return
	}
	var payload struct {
		StationCodes string `json:"stationCodes"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)

	hour := float64(time.Now().UTC().Hour())
	list := make([]any, 0, 8)
	for _, code := range strings.Split(payload.StationCodes, ",") {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		power := 40 + 20*rand.Float64()
		if hour < 6 || hour > 20 {
			power = 0
		}
		list = append(list, map[string]any{
			"stationCode": code,
			"dataItemMap": map[string]any{
				"real_health_state": 3,
				"day_power":         power * hour,
				"month_power":       power * hour * 12,
				"total_power":       power * hour * 400,
				"real_power":        power,
			},
		})
	}
	writeJSON(w, map[string]any{"success": true, "failCode": 0, "data": list})
}

func (s *fakeFusionServer) handleDevList(w http.ResponseWriter, r *http.Request) {
	s.recordCall("getDevList")
	if !s.checkCall(w, r) {
		return
	}
	writeJSON(w, map[string]any{"success": true, "failCode": 0, "data": []any{
		map[string]any{"id": 1001, "devTypeId": 1, "devName": "Inverter 1"},
		map[string]any{"id": 1002, "devTypeId": 1, "devName": "Inverter 2"},
		map[string]any{"id": 2001, "devTypeId": 47, "devName": "Meter"},
	}})
}

func (s *fakeFusionServer) handleDevRealKpi(w http.ResponseWriter, r *http.Request) {
	s.recordCall("getDevRealKpi")
	if !s.checkCall(w, r) {
		return
	}
	writeJSON(w, map[string]any{"success": true, "failCode": 0, "data": []any{
		map[string]any{"devId": 1001, "dataItemMap": map[string]any{"active_power": 12.5}},
		map[string]any{"devId": 1002, "dataItemMap": map[string]any{"active_power": 11.8}},
	}})
}

// checkCall enforces the token header and injects the configured latency and
// frequency-limit failures.
func (s *fakeFusionServer) checkCall(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return false
	}
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	if r.Header.Get("XSRF-TOKEN") != s.token {
		writeJSON(w, map[string]any{"success": false, "failCode": 305, "message": "not logged in"})
		return false
	}
	if s.failRate > 0 && rand.Float64() < s.failRate {
		writeJSON(w, map[string]any{"success": false, "failCode": 407, "message": "access frequency too high"})
		return false
	}
	return true
}

func (s *fakeFusionServer) stationRecord(i int) map[string]any {
	return map[string]any{
		"plantCode":    fmt.Sprintf("NE=%08d", i+1),
		"plantName":    fmt.Sprintf("Fake Plant %03d", i+1),
		"capacity":     float64(50 + i%200),
		"plantAddress": "Solar Park, Poland",
	}
}

func (s *fakeFusionServer) recordCall(op string) {
	atomic.AddInt64(&s.totalCalls, 1)
	s.mu.Lock()
	s.byOp[op]++
	s.mu.Unlock()
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
