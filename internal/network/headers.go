package network

import (
	"context"
	"net/http"

	"github.com/dvcrn/frollo-sdk-go/internal/config"
)

const (
	HeaderAuthorization   = "Authorization"
	HeaderAPIVersion      = "X-Api-Version"
	HeaderBundleID        = "X-Bundle-Id"
	HeaderDeviceVersion   = "X-Device-Version"
	HeaderSoftwareVersion = "X-Software-Version"
	HeaderUserAgent       = "User-Agent"
	HeaderOTP             = "X-User-Otp"
)

// applyStandardHeaders overwrites the canonical header set on every request.
func applyStandardHeaders(h http.Header, app config.AppConfig) {
	h.Set(HeaderAPIVersion, app.APIVersion)
	h.Set(HeaderBundleID, app.BundleID)
	h.Set(HeaderDeviceVersion, app.DeviceVersion)
	h.Set(HeaderSoftwareVersion, app.SoftwareVersion)
	h.Set(HeaderUserAgent, app.UserAgent)
}

func setBearer(h http.Header, token string) {
	h.Set(HeaderAuthorization, "Bearer "+token)
}

type otpKey struct{}

// WithOTP attaches a one-time password to ctx. Requests to register and
// password-reset paths send it in place of bearer auth.
func WithOTP(ctx context.Context, otp string) context.Context {
	return context.WithValue(ctx, otpKey{}, otp)
}

func otpFrom(ctx context.Context) string {
	v, _ := ctx.Value(otpKey{}).(string)
	return v
}
