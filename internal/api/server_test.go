package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/symptom-expert-server/internal/config"
	"github.com/symptom-expert-server/internal/domain"
	"github.com/symptom-expert-server/internal/knowledge"
	"github.com/symptom-expert-server/internal/service"
)

func testKnowledgeBase() *domain.KnowledgeBase {
	return domain.NewKnowledgeBase(domain.KnowledgeBaseData{
		Rules: []domain.Rule{
			{ID: "R_GRIPPE_1", Diagnosis: "grippe", AllOf: []string{"fievre"}, AnyOf: []string{"courbatures", "frissons"}, Confidence: 0.5, Explanation: "Fièvre avec courbatures ou frissons"},
			{ID: "R_RHUME_1", Diagnosis: "rhume", AnyOf: []string{"nez_qui_coule", "eternuements"}, Confidence: 0.6, Explanation: "Écoulement nasal ou éternuements"},
			{ID: "R_GRIPPE_2", Diagnosis: "grippe", AllOf: []string{"fatigue"}, Confidence: 0.4, Explanation: "Fatigue marquée"},
		},
		Symptoms:  []string{"fievre", "courbatures", "frissons", "fatigue", "nez_qui_coule", "eternuements"},
		Diagnoses: []string{"grippe", "rhume"},
		DiagnosesMeta: map[string]domain.DiagnosisMeta{
			"grippe": {Name: "Grippe", Category: "respiratoire"},
		},
	})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger, _ := test.NewNullLogger()

	cm, err := config.NewManager("")
	require.NoError(t, err)

	engine := service.NewDiagnosisService(logger, knowledge.NewHolder(testKnowledgeBase()), nil, *cm.GetInferenceConfig())
	return NewServer(cm, engine, logger)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s.Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, testKnowledgeBase().Fingerprint(), body["knowledge_base"])
	assert.Equal(t, float64(3), body["rules"])
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}

func TestConfigEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/config", "")
	require.Equal(t, http.StatusOK, w.Code)

	var summary domain.KnowledgeBaseSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Contains(t, summary.Symptoms, "fievre")
	assert.Equal(t, []string{"grippe", "rhume"}, summary.Diagnoses)
	assert.Equal(t, "Grippe", summary.DiagnosesMeta["grippe"].Name)
	assert.Equal(t, 3, summary.RuleCount)
}

func TestGetRule(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/rules/R_RHUME_1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var rule domain.Rule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rule))
	assert.Equal(t, "rhume", rule.Diagnosis)
	assert.Equal(t, 0.6, rule.Confidence)

	w = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/rules/R_NOPE", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	assert.Equal(t, domain.ErrNotFoundCode, apiErr.Code)
	assert.Equal(t, w.Header().Get("X-Correlation-ID"), apiErr.RequestID)
}

func TestDiagnose(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name         string
		body         string
		expectStatus int
		expectCode   string
		check        func(t *testing.T, resp domain.DiagnosisResponse)
	}{
		{
			name:         "forward diagnosis",
			body:         `{"symptoms":["fievre","courbatures","fatigue","inconnu"]}`,
			expectStatus: http.StatusOK,
			check: func(t *testing.T, resp domain.DiagnosisResponse) {
				require.Len(t, resp.Results, 1)
				assert.Equal(t, "grippe", resp.Results[0].Diagnosis)
				assert.Equal(t, "Grippe", resp.Results[0].Name)
				assert.InDelta(t, 0.58, resp.Results[0].Score, 1e-9)
				assert.Equal(t, []string{"inconnu"}, resp.UnknownSymptoms)
			},
		},
		{
			name:         "backward with french mode alias",
			body:         `{"symptoms":["nez_qui_coule","fievre","frissons"],"mode":"arriere","targets":["rhume"]}`,
			expectStatus: http.StatusOK,
			check: func(t *testing.T, resp domain.DiagnosisResponse) {
				require.Len(t, resp.Results, 1)
				assert.Equal(t, "rhume", resp.Results[0].Diagnosis)
				assert.Equal(t, domain.ModeBackward, resp.Mode)
			},
		},
		{
			name:         "no rule fires gives placeholder",
			body:         `{"symptoms":["frissons"]}`,
			expectStatus: http.StatusOK,
			check: func(t *testing.T, resp domain.DiagnosisResponse) {
				assert.True(t, resp.Inconclusive)
				require.Len(t, resp.Results, 1)
				assert.Equal(t, service.InconclusiveDiagnosis, resp.Results[0].Diagnosis)
			},
		},
		{
			name:         "only unknown symptoms",
			body:         `{"symptoms":["xyz"]}`,
			expectStatus: http.StatusBadRequest,
			expectCode:   domain.ErrEmptySymptoms,
		},
		{
			name:         "missing symptoms",
			body:         `{}`,
			expectStatus: http.StatusBadRequest,
			expectCode:   domain.ErrEmptySymptoms,
		},
		{
			name:         "invalid mode",
			body:         `{"symptoms":["fievre"],"mode":"sideways"}`,
			expectStatus: http.StatusBadRequest,
			expectCode:   domain.ErrInvalidInput,
		},
		{
			name:         "targets in forward mode",
			body:         `{"symptoms":["fievre"],"mode":"forward","targets":["grippe"]}`,
			expectStatus: http.StatusBadRequest,
			expectCode:   domain.ErrValidation,
		},
		{
			name:         "malformed json",
			body:         `{"symptoms":`,
			expectStatus: http.StatusBadRequest,
			expectCode:   domain.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/diagnose", tt.body)
			require.Equal(t, tt.expectStatus, w.Code, w.Body.String())

			if tt.expectCode != "" {
				var apiErr domain.APIError
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
				assert.Equal(t, tt.expectCode, apiErr.Code)
				return
			}

			var resp domain.DiagnosisResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			tt.check(t, resp)
		})
	}
}

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Diagnose(ctx context.Context, req *domain.DiagnosisRequest) (*domain.DiagnosisResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*domain.DiagnosisResponse)
	return resp, args.Error(1)
}

func (m *mockEngine) KnowledgeBase() *domain.KnowledgeBase {
	args := m.Called()
	kb, _ := args.Get(0).(*domain.KnowledgeBase)
	return kb
}

func TestDiagnose_InternalErrorIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	cm, err := config.NewManager("")
	require.NoError(t, err)

	engine := new(mockEngine)
	engine.On("Diagnose", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset by peer"))
	s := NewServer(cm, engine, logger)

	w := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/diagnose", `{"symptoms":["fievre"]}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	assert.Equal(t, domain.ErrInternalServer, apiErr.Code)
	assert.Empty(t, apiErr.Details)

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Message == "Request failed" && e.Data["error"] != nil {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestHealth_NoKnowledgeBase(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cm, err := config.NewManager("")
	require.NoError(t, err)

	engine := new(mockEngine)
	engine.On("KnowledgeBase").Return(nil)
	engine.On("Diagnose", mock.Anything, mock.Anything).Return(nil, domain.ErrNotLoaded)
	s := NewServer(cm, engine, logger)

	w := doJSON(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	for _, path := range []string{"/api/v1/config", "/api/v1/rules/R_GRIPPE_1"} {
		w = doJSON(t, s.Handler(), http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}

	w = doJSON(t, s.Handler(), http.MethodPost, "/api/v1/diagnose", `{"symptoms":["fievre"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	assert.Equal(t, domain.ErrKnowledgeBase, apiErr.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s.Handler(), http.MethodOptions, "/api/v1/diagnose", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocket(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"symptoms":["nez_qui_coule"]}`)))
	var resp domain.DiagnosisResponse
	require.NoError(t, conn.ReadJSON(&resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "rhume", resp.Results[0].Diagnosis)
	assert.InDelta(t, 0.36, resp.Results[0].Score, 1e-9)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"symptoms":["xyz"]}`)))
	var apiErr domain.APIError
	require.NoError(t, conn.ReadJSON(&apiErr))
	assert.Equal(t, domain.ErrEmptySymptoms, apiErr.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	apiErr = domain.APIError{}
	require.NoError(t, conn.ReadJSON(&apiErr))
	assert.Equal(t, domain.ErrInvalidInput, apiErr.Code)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, bytes.Repeat([]byte{1}, 4)))
	apiErr = domain.APIError{}
	require.NoError(t, conn.ReadJSON(&apiErr))
	assert.Equal(t, domain.ErrInvalidInput, apiErr.Code)
}
