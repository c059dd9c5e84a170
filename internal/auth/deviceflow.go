package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// deviceFlow runs the OAuth 2.0 device-authorization grant: show the user
// a code and URL, then poll the token endpoint until a terminal outcome.
func (r *Resolver) deviceFlow(ctx context.Context) (string, error) {
	conf := &oauth2.Config{
		ClientID: r.cfg.ClientID,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: r.cfg.DeviceAuthURL,
			TokenURL:      r.cfg.TokenURL,
		},
	}

	da, err := conf.DeviceAuth(ctx)
	if err != nil {
		return "", fmt.Errorf("device authorization request: %w", err)
	}

	fmt.Fprintf(r.out, "To authorize relaybot, open %s and enter the code: %s\n",
		da.VerificationURI, da.UserCode)
	r.logger.Info("waiting for device authorization", "expires_in", da.Expiry)

	tok, err := conf.DeviceAccessToken(ctx, da)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			switch retrieveErr.ErrorCode {
			case "access_denied":
				return "", &Error{Kind: KindDenied, Err: err}
			case "expired_token":
				return "", &Error{Kind: KindExpired, Err: err}
			}
		}
		return "", fmt.Errorf("device token poll: %w", err)
	}

	return tok.AccessToken, nil
}
