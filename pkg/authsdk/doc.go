/*
Package authsdk is a client for the gatekeeper token service.

Create an SDKClient for public endpoints and to start a session:

	client := authsdk.NewSDKClient("https://auth.example.com")

	session, err := client.AuthenticateWithPassword(ctx, "alice@example.com", password, "")
	if errors.Is(err, authsdk.ErrInvalidCredentials) {
		// wrong email, password, code, or the account is locked
	}

	claims, err := session.Validate(ctx)

Sessions refresh their access token shortly before it expires and are safe
for concurrent use. Refresh tokens are single use: a Session never presents
the same refresh token twice, because the server treats a second
presentation as theft and revokes every session of the user.

Services that verify tokens themselves can plug the issuer's public key
into a jwtx.KeyCache:

	keys := jwtx.NewKeyCache(jwtx.KeyCacheOptions{Source: client.KeySource()})

All endpoint errors are *APIError values. They compare equal under
errors.Is when status and code match the predefined ones.
*/
package authsdk
