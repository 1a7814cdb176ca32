package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCredential means the external credential did not verify.
var ErrInvalidCredential = errors.New("identity: invalid credential")

// Profile is what the identity provider vouches for.
type Profile struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Verifier exchanges an opaque external credential for a verified profile.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Profile, error)
}

// HTTPProvider verifies credentials against the provider's userinfo
// endpoint: the credential goes out as a bearer token, the profile comes
// back as JSON. Anything but 200 is an invalid credential.
type HTTPProvider struct {
	userinfoURL string
	httpClient  *http.Client
}

func NewHTTPProvider(userinfoURL string) *HTTPProvider {
	return &HTTPProvider{
		userinfoURL: userinfoURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPProvider) Verify(ctx context.Context, credential string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.userinfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Authorization", "Bearer "+credential)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrInvalidCredential
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("identity: decode userinfo: %w", err)
	}
	if profile.Subject == "" {
		return nil, ErrInvalidCredential
	}
	return &profile, nil
}

// JWTVerifier accepts HS256-signed ID tokens carrying the profile as
// claims. Used in dev and tests where no live provider is reachable.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

type idTokenClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

func (v *JWTVerifier) Verify(_ context.Context, credential string) (*Profile, error) {
	token, err := jwt.ParseWithClaims(credential, &idTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredential
	}
	claims, ok := token.Claims.(*idTokenClaims)
	if !ok || claims.Subject == "" {
		return nil, ErrInvalidCredential
	}
	return &Profile{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}, nil
}
