package handler_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/milelog/milelog/internal/handler"
	"github.com/milelog/milelog/internal/identity"
	"github.com/milelog/milelog/internal/ledger"
	"go.uber.org/zap"
)

type fixture struct {
	router *gin.Engine
	store  *ledger.MemoryStore
	userID uuid.UUID
	token  string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tokens := identity.NewTokenIssuer(priv, "https://ledger.test", time.Hour)

	userID := uuid.New()
	token, err := tokens.Issue(userID, "driver@example.com")
	if err != nil {
		t.Fatal(err)
	}

	logger := zap.NewNop()
	store := ledger.NewMemoryStore()
	writer := ledger.NewWriter(store, logger)
	verifier := ledger.NewVerifier(store, logger)

	r := gin.New()
	v1 := r.Group("/api/v1")
	v1.Use(handler.RequireAuth(tokens))
	handler.NewTripHandler(writer, store, logger).Register(v1)
	handler.NewLedgerHandler(store, verifier, logger).Register(v1)

	return &fixture{router: r, store: store, userID: userID, token: token}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func tripPayload(date, origin, dest string, km float64) map[string]any {
	return map[string]any{
		"date":        date,
		"origin":      origin,
		"destination": dest,
		"distance_km": km,
		"purpose":     "client visit",
	}
}

func TestCreateTrip_201(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodPost, "/api/v1/trips", tripPayload("2026-03-02", "Berlin", "Leipzig", 190))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var entry ledger.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry.Operation != ledger.OpCreate {
		t.Errorf("expected create operation, got %s", entry.Operation)
	}
	if entry.PrevHash != ledger.GenesisHash {
		t.Errorf("first entry should link to genesis, got %s", entry.PrevHash)
	}
	if entry.Seq != 1 {
		t.Errorf("expected seq 1, got %d", entry.Seq)
	}
}

func TestCreateTrip_400_missingFields(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodPost, "/api/v1/trips", map[string]any{"date": "2026-03-02"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateTrip_401_noToken(t *testing.T) {
	f := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/trips", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAmendTrip_201_linksChain(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodPost, "/api/v1/trips", tripPayload("2026-03-02", "Berlin", "Leipzig", 190))
	if w.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", w.Code, w.Body.String())
	}
	var created ledger.Entry
	json.Unmarshal(w.Body.Bytes(), &created)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/trips/%s/amend", created.TripID), map[string]any{
		"patch":  map[string]any{"distance_km": 195.5},
		"reason": "odometer correction",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var amended ledger.Entry
	json.Unmarshal(w.Body.Bytes(), &amended)
	if amended.PrevHash != created.Hash {
		t.Errorf("amend should link to create hash")
	}
	if len(amended.ChangedFields) != 1 || amended.ChangedFields[0] != "distance_km" {
		t.Errorf("expected changed_fields [distance_km], got %v", amended.ChangedFields)
	}
}

func TestAmendTrip_400_missingReason(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodPost, "/api/v1/trips", tripPayload("2026-03-02", "Berlin", "Leipzig", 190))
	var created ledger.Entry
	json.Unmarshal(w.Body.Bytes(), &created)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/trips/%s/amend", created.TripID), map[string]any{
		"patch": map[string]any{"distance_km": 195.5},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVoidTrip_thenListExcludesIt(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodPost, "/api/v1/trips", tripPayload("2026-03-02", "Berlin", "Leipzig", 190))
	var created ledger.Entry
	json.Unmarshal(w.Body.Bytes(), &created)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/trips/%s/void", created.TripID), map[string]any{
		"reason": "duplicate entry",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("void failed: %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/v1/trips", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list failed: %d", w.Code)
	}
	var resp struct {
		Trips []json.RawMessage `json:"trips"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Trips) != 0 {
		t.Errorf("voided trip should not appear in list, got %d trips", len(resp.Trips))
	}
}

func TestVoidTrip_404_unknown(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/trips/%s/void", uuid.New()), map[string]any{
		"reason": "cleanup",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTripHistory_allEntries(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodPost, "/api/v1/trips", tripPayload("2026-03-02", "Berlin", "Leipzig", 190))
	var created ledger.Entry
	json.Unmarshal(w.Body.Bytes(), &created)

	f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/trips/%s/amend", created.TripID), map[string]any{
		"patch":  map[string]any{"notes": "toll road"},
		"reason": "added notes",
	})
	f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/trips/%s/void", created.TripID), map[string]any{
		"reason": "booked twice",
	})

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/trips/%s/history", created.TripID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Entries []ledger.Entry `json:"entries"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(resp.Entries))
	}
	if resp.Entries[2].Operation != ledger.OpVoid {
		t.Errorf("last entry should be the void")
	}
}

func TestLedgerVerify_valid(t *testing.T) {
	f := setup(t)

	f.do(t, http.MethodPost, "/api/v1/trips", tripPayload("2026-03-02", "Berlin", "Leipzig", 190))
	f.do(t, http.MethodPost, "/api/v1/trips", tripPayload("2026-03-03", "Leipzig", "Berlin", 190))

	w := f.do(t, http.MethodGet, "/api/v1/ledger/verify", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result ledger.VerificationResult
	json.Unmarshal(w.Body.Bytes(), &result)
	if !result.Valid {
		t.Errorf("fresh chain should verify")
	}
	if result.Entries != 2 {
		t.Errorf("expected 2 entries verified, got %d", result.Entries)
	}
}

func TestLedgerVerify_reportsTampering(t *testing.T) {
	f := setup(t)

	f.do(t, http.MethodPost, "/api/v1/trips", tripPayload("2026-03-02", "Berlin", "Leipzig", 190))
	f.do(t, http.MethodPost, "/api/v1/trips", tripPayload("2026-03-03", "Leipzig", "Berlin", 190))

	entries, err := f.store.Entries(context.Background(), f.userID, nil)
	if err != nil {
		t.Fatal(err)
	}
	entries[0].Snapshot.DistanceKM = 9000

	w := f.do(t, http.MethodGet, "/api/v1/ledger/verify", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result ledger.VerificationResult
	json.Unmarshal(w.Body.Bytes(), &result)
	if result.Valid {
		t.Fatal("tampered chain should not verify")
	}
	if result.BrokenAt == nil || *result.BrokenAt != 1 {
		t.Errorf("expected corruption at seq 1, got %v", result.BrokenAt)
	}
}

func TestLedgerVerify_400_badRange(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodGet, "/api/v1/ledger/verify?from=5&to=2", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLedgerEntryBySeq(t *testing.T) {
	f := setup(t)

	f.do(t, http.MethodPost, "/api/v1/trips", tripPayload("2026-03-02", "Berlin", "Leipzig", 190))

	w := f.do(t, http.MethodGet, "/api/v1/ledger/entries/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/v1/ledger/entries/42", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
