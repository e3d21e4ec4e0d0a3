package endpoint

import (
	"net/http"

	"github.com/go-kit/kit/log"

	"github.com/browser-go/extension-bridge/logging"
)

// Logging produces an alice constructor that emits a debug record for each
// request before it reaches the wrapped handler.
func Logging(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(response http.ResponseWriter, request *http.Request) {
			logging.Debug(logger).Log(
				logging.MessageKey(), "incoming request",
				"method", request.Method,
				"uri", request.RequestURI,
				"remoteAddr", request.RemoteAddr,
			)

			next.ServeHTTP(response, request)
		})
	}
}
