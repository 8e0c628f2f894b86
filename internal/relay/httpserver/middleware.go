package httpserver

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/relay/auth"
)

// primaryDeviceID is the device id baked into a primary's access token.
const primaryDeviceID int64 = 0

type contextKey int

const deviceContextKey contextKey = 0

// tokenDevice is the identity carried by a verified access token.
type tokenDevice struct {
	ID     int64
	Number string
}

func deviceFromContext(ctx context.Context) tokenDevice {
	d, _ := ctx.Value(deviceContextKey).(tokenDevice)
	return d
}

// withDevice verifies the access token header and attaches the device
// identity to the request context.
func (s *Server) withDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(common.AccessTokenHeaderName)
		if token == "" {
			s.writeError(w, r, common.ErrorUnauthorized)
			return
		}

		deviceID, number, err := auth.GetDeviceFromToken(token, []byte(s.config.SecretKey))
		if err != nil {
			s.writeError(w, r, common.ErrorUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), deviceContextKey, tokenDevice{ID: deviceID, Number: number})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
