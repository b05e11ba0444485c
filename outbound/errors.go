package outbound

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-crmsync/core"
	goerrors "github.com/goliatone/go-errors"
)

const metaUnreachable = "unreachable"

func unreachableError(source error, req core.OutboundRequest) error {
	return core.NetworkError(source, "crm api unreachable", map[string]any{
		"method":        req.Method,
		"endpoint":      req.Endpoint,
		metaUnreachable: true,
	})
}

// statusError classifies a non-2xx response. 5xx stays retryable, other 4xx are terminal.
func statusError(req core.OutboundRequest, status int, body []byte) error {
	message := remoteMessage(body)
	metadata := map[string]any{
		"method":      req.Method,
		"endpoint":    req.Endpoint,
		"status_code": status,
	}
	if status >= http.StatusInternalServerError {
		return goerrors.New(fmt.Sprintf("crm api error: %d %s", status, message), goerrors.CategoryExternal).
			WithCode(status).
			WithTextCode(core.ErrorNetworkFailed).
			WithMetadata(metadata)
	}
	return core.RemoteRejectedError(status, fmt.Sprintf("crm api error: %d %s", status, message), metadata)
}

func isUnreachable(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil {
		return false
	}
	flag, _ := richErr.Metadata[metaUnreachable].(bool)
	return flag
}

func clientDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}

func remoteMessage(body []byte) string {
	for _, path := range []string{"message", "error", "msg"} {
		if value := strings.TrimSpace(jsonString(body, path)); value != "" {
			return value
		}
	}
	return ""
}
