package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/elum-utils/gatekeeper/models"
)

// gatedFields are the JSON body fields moderated by Gate, in join order.
var gatedFields = []string{"title", "content", "text", "message"}

type decisionKey struct{}

// DecisionFromContext returns the decision Gate attached to the request.
func DecisionFromContext(ctx context.Context) (models.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(models.Decision)
	return d, ok
}

// Gate moderates a submission before next sees it. The text fields of the
// JSON body are joined and moderated as one request with the given context;
// blocked content is answered with 422 and next is never called.
func Gate(p Pipeline, requestContext string, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
			_ = r.Body.Close()
			if err != nil {
				writeErr(w, http.StatusBadRequest, "failed to read body", err.Error())
				return
			}
			text, err := submissionText(body)
			if err != nil {
				writeErr(w, http.StatusBadRequest, "invalid JSON body", err.Error())
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			if text == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := p.Moderate(r.Context(), models.Request{Text: text, Context: requestContext})
			if err != nil {
				var verr *models.ValidationError
				if errors.As(err, &verr) {
					writeErr(w, http.StatusBadRequest, verr.Reason, verr.Field)
					return
				}
				logger.Error("moderation gate failed", zap.Error(err), zap.String("context", requestContext))
				writeErr(w, http.StatusInternalServerError, "moderation failed", "")
				return
			}
			if !res.Decision.Allowed {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
					"error":      "content rejected by moderation",
					"moderation": res.Decision,
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), decisionKey{}, res.Decision)))
		})
	}
}

// submissionText joins the non-empty gated string fields of a JSON object.
// An empty body yields no text.
func submissionText(body []byte) (string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", err
	}
	parts := make([]string, 0, len(gatedFields))
	for _, name := range gatedFields {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n"), nil
}
