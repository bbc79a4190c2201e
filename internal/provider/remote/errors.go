package remote

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/provider"
)

// errorBody covers both shapes the service answers with: OAuth2 token
// errors and the {"code","message"} body of every other route.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Code             string `json:"code"`
	Message          string `json:"message"`
}

// decodeError turns a non-2xx response into a *provider.Error.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	pe := &provider.Error{Status: resp.StatusCode}
	var body errorBody
	if json.Unmarshal(raw, &body) == nil {
		pe.Code = firstNonEmpty(body.Code, body.Error)
		pe.Message = firstNonEmpty(body.Message, body.ErrorDescription)
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound && pe.Code == provider.CodeNoRows {
		return provider.ErrNoRows
	}
	return pe
}

// tokenError converts an oauth2 token endpoint failure.
func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}
	pe := &provider.Error{Code: re.ErrorCode, Message: re.ErrorDescription}
	if re.Response != nil {
		pe.Status = re.Response.StatusCode
	}
	if pe.Code == "" || pe.Message == "" {
		var body errorBody
		if json.Unmarshal(re.Body, &body) == nil {
			pe.Code = firstNonEmpty(pe.Code, body.Code, body.Error)
			pe.Message = firstNonEmpty(pe.Message, body.Message, body.ErrorDescription)
		}
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(pe.Status)
	}
	return pe
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
