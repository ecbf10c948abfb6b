package providersvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/shulehq/shule/core"
	"github.com/shulehq/shule/core/identity"
)

// provider error codes
const (
	codeEmailExists    = "EMAIL_EXISTS"
	codeWeakPassword   = "WEAK_PASSWORD"
	codeInvalidEmail   = "INVALID_EMAIL"
	codeInvalidIDToken = "INVALID_ID_TOKEN"
	codeTokenExpired   = "TOKEN_EXPIRED"
	codeUserNotFound   = "USER_NOT_FOUND"
)

// firebaseProvider talks to an identity-toolkit style REST API. The
// self-service endpoints authorize with the web API key; accounts:delete
// and accounts:lookup ride the administrative key, a distinct higher-trust
// credential. No state is held locally.
type firebaseProvider struct {
	baseURL  string
	apiKey   string
	adminKey string
	client   *http.Client
}

var _ identity.Provider = (*firebaseProvider)(nil)

func NewFirebaseProvider(conf *core.Config) *firebaseProvider {
	return &firebaseProvider{
		baseURL:  strings.TrimRight(conf.Provider.BaseURL, "/"),
		apiKey:   conf.Provider.APIKey,
		adminKey: conf.Provider.AdminKey,
		client:   &http.Client{Timeout: conf.Provider.Timeout},
	}
}

type (
	accountsRequest struct {
		Email             string `json:"email,omitempty"`
		Password          string `json:"password,omitempty"`
		IDToken           string `json:"idToken,omitempty"`
		LocalID           string `json:"localId,omitempty"`
		ReturnSecureToken bool   `json:"returnSecureToken"`
	}

	accountsResponse struct {
		LocalID string `json:"localId"`
		Email   string `json:"email"`
		Users   []struct {
			LocalID string `json:"localId"`
			Email   string `json:"email"`
		} `json:"users"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
)

func (p *firebaseProvider) CreateCredential(ctx context.Context, email, secret string) (string, error) {
	res, err := p.post(ctx, "accounts:signUp", p.apiKey, accountsRequest{Email: email, Password: secret})
	if err != nil {
		return "", err
	}
	return res.LocalID, nil
}

func (p *firebaseProvider) UpdateCredentialEmail(ctx context.Context, sessionToken, newEmail string) error {
	_, err := p.post(ctx, "accounts:update", p.apiKey, accountsRequest{IDToken: sessionToken, Email: newEmail})
	return err
}

func (p *firebaseProvider) UpdateCredentialSecret(ctx context.Context, sessionToken, newSecret string) error {
	_, err := p.post(ctx, "accounts:update", p.apiKey, accountsRequest{IDToken: sessionToken, Password: newSecret})
	return err
}

// DeleteCredential deletes through the administrative channel. A missing
// credential reports success: delete is always an attempt at convergence,
// never a correctness-critical step.
func (p *firebaseProvider) DeleteCredential(ctx context.Context, externalID string) error {
	_, err := p.post(ctx, "accounts:delete", p.adminKey, accountsRequest{LocalID: externalID})
	if err != nil && core.IsKind(err, core.KindNotFound) {
		return nil
	}
	return err
}

func (p *firebaseProvider) VerifyToken(ctx context.Context, idToken string) (identity.VerifiedToken, error) {
	res, err := p.post(ctx, "accounts:lookup", p.adminKey, accountsRequest{IDToken: idToken})
	if err != nil {
		return identity.VerifiedToken{}, err
	}
	if len(res.Users) == 0 {
		return identity.VerifiedToken{}, identity.ErrInvalidSession
	}
	return identity.VerifiedToken{
		ExternalID: res.Users[0].LocalID,
		Email:      core.CleanString(res.Users[0].Email, true /* lower */),
	}, nil
}

func (p *firebaseProvider) post(ctx context.Context, endpoint, key string, body accountsRequest) (*accountsResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling provider request")
	}

	url := fmt.Sprintf("%s/%s?key=%s", p.baseURL, endpoint, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "building provider request")
	}
	req.Header.Set("Content-Type", "application/json")

	httpRes, err := p.client.Do(req)
	if err != nil {
		// transport failure or timeout; the caller decides whether to retry
		return nil, core.WrapError(err, core.KindProviderUnavailable, "calling "+endpoint)
	}
	defer func() { _ = httpRes.Body.Close() }()

	var res accountsResponse
	if err := json.NewDecoder(httpRes.Body).Decode(&res); err != nil {
		return nil, core.WrapError(err, core.KindProviderUnavailable, "decoding "+endpoint+" response")
	}

	if httpRes.StatusCode >= http.StatusBadRequest {
		var code string
		if res.Error != nil {
			code = res.Error.Message
		}
		return nil, trapProviderErr(code, endpoint, httpRes.StatusCode)
	}
	return &res, nil
}

// trapProviderErr maps provider error codes to the local taxonomy.
func trapProviderErr(code, endpoint string, status int) error {
	// codes may carry a trailing description, e.g. "WEAK_PASSWORD : ..."
	switch {
	case strings.HasPrefix(code, codeEmailExists):
		return identity.ErrDuplicateIdentity
	case strings.HasPrefix(code, codeWeakPassword):
		return identity.ErrWeakSecret
	case strings.HasPrefix(code, codeInvalidEmail):
		return identity.ErrInvalidEmail
	case strings.HasPrefix(code, codeInvalidIDToken), strings.HasPrefix(code, codeTokenExpired):
		return identity.ErrInvalidSession
	case strings.HasPrefix(code, codeUserNotFound):
		return core.NewError(core.KindNotFound, "credential not found")
	}
	return core.NewError(core.KindProviderUnavailable, fmt.Sprintf("%s failed with status %d (%s)", endpoint, status, code))
}
