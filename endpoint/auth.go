package endpoint

import (
	"net/http"
	"net/url"
	"strings"
)

// Parameters recognized when embedded as /key/value pairs in a request path.
var recognizedPathParams = map[string]bool{
	"token":       true,
	"startingUrl": true,
	"launch":      true,
}

// PathParams extracts /key/value parameter pairs embedded in the request path
// after the given endpoint prefix.  Values are URL-decoded.  Unrecognized
// keys are ignored.
func PathParams(path, prefix string) map[string]string {
	params := make(map[string]string)
	rest := strings.TrimPrefix(path, prefix)
	segments := strings.Split(strings.Trim(rest, "/"), "/")

	for i := 0; i+1 < len(segments); i += 2 {
		key, err := url.PathUnescape(segments[i])
		if err != nil || !recognizedPathParams[key] {
			continue
		}

		value, err := url.PathUnescape(segments[i+1])
		if err != nil {
			continue
		}

		params[key] = value
	}

	return params
}

// credential resolves the bearer token of a request: the token query
// parameter wins, then a token embedded in the path.
func credential(request *http.Request, pathParams map[string]string) string {
	if token := request.URL.Query().Get("token"); len(token) > 0 {
		return token
	}

	return pathParams["token"]
}

// authorize enforces the shared bearer token.  A missing token is a 400 and a
// wrong one a 403; the returned status is zero when the request may proceed.
func (o *Options) authorize(request *http.Request, pathParams map[string]string) (int, string) {
	supplied := credential(request, pathParams)
	if len(supplied) == 0 {
		return http.StatusBadRequest, "missing token"
	}

	if supplied != o.token() {
		return http.StatusForbidden, "invalid token"
	}

	return 0, ""
}
