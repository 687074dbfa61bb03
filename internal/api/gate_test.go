package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elum-utils/gatekeeper/core"
	"github.com/elum-utils/gatekeeper/models"
)

func gated(t *testing.T, cl fakeClassifier) (http.Handler, *atomic.Int64, *string) {
	t.Helper()
	c := core.New(core.Options{Classifier: cl, Terms: terms})
	var calls atomic.Int64
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		if d, ok := DecisionFromContext(r.Context()); ok {
			w.Header().Set("X-Moderation-Severity", string(d.Severity))
		}
		w.WriteHeader(http.StatusCreated)
	})
	return Gate(c, "post", nil)(next), &calls, &seen
}

func TestGateBlocksOffensiveSubmission(t *testing.T) {
	h, calls, _ := gated(t, fakeClassifier{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/posts", strings.NewReader(`{"title":"Monday","content":"I hate you all"}`)))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.EqualValues(t, 0, calls.Load())
	var body struct {
		Error      string          `json:"error"`
		Moderation models.Decision `json:"moderation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
	assert.False(t, body.Moderation.Allowed)
	assert.Equal(t, models.SeverityHigh, body.Moderation.Severity)
}

func TestGatePassesCleanSubmissionWithBody(t *testing.T) {
	h, calls, seen := gated(t, fakeClassifier{raw: `{"overall_classification":"safe","overall_score":0}`})
	payload := `{"title":"Hello","content":"Lovely weather","author":7}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/posts", strings.NewReader(payload)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, payload, *seen)
	assert.Equal(t, "low", rec.Header().Get("X-Moderation-Severity"))
}

func TestGateSkipsEmptyText(t *testing.T) {
	h, calls, _ := gated(t, fakeClassifier{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/posts", strings.NewReader(`{"image":"a.png"}`)))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 1, calls.Load())
	assert.Empty(t, rec.Header().Get("X-Moderation-Severity"))
}

func TestGateRejectsInvalidJSON(t *testing.T) {
	h, calls, _ := gated(t, fakeClassifier{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/posts", strings.NewReader(`{"title":`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.EqualValues(t, 0, calls.Load())
}

func TestSubmissionText(t *testing.T) {
	text, err := submissionText([]byte(`{"message":" hi ","title":"T","content":42,"text":""}`))
	require.NoError(t, err)
	assert.Equal(t, "T\nhi", text)

	text, err = submissionText(nil)
	require.NoError(t, err)
	assert.Empty(t, text)
}
