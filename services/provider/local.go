package providersvc

import (
	"context"
	"net/mail"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/shulehq/shule/core"
	"github.com/shulehq/shule/core/identity"
)

// the provider's own minimum strength policy; the app-level validators
// are stricter, this is the floor the remote provider would enforce
const localSecretMinLen = 6

type localCredential struct {
	externalID string
	email      string
	secretHash []byte
}

// localProvider is an in-process credential provider for DEV and TEST
// runs: credentials live in memory, session tokens are HS256 JWTs signed
// with the app secret. It enforces the same error taxonomy as the real
// provider so the synchronizer cannot tell them apart.
type localProvider struct {
	secretKey []byte
	tokenTTL  time.Duration

	mu     sync.RWMutex
	creds  map[string]*localCredential // keyed by externalID
	emails map[string]string           // email -> externalID
}

var _ identity.Provider = (*localProvider)(nil)

func NewLocalProvider(conf *core.Config) *localProvider {
	return &localProvider{
		secretKey: conf.SecretKey,
		tokenTTL:  time.Hour,
		creds:     make(map[string]*localCredential),
		emails:    make(map[string]string),
	}
}

func (p *localProvider) CreateCredential(_ context.Context, email, secret string) (string, error) {
	email = core.CleanString(email, true /* lower */)
	if _, err := mail.ParseAddress(email); err != nil {
		return "", identity.ErrInvalidEmail
	}
	if len(secret) < localSecretMinLen {
		return "", identity.ErrWeakSecret
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.emails[email]; exists {
		return "", identity.ErrDuplicateIdentity
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	externalID := uuid.New().String()
	p.creds[externalID] = &localCredential{externalID: externalID, email: email, secretHash: hash}
	p.emails[email] = externalID
	return externalID, nil
}

func (p *localProvider) UpdateCredentialEmail(ctx context.Context, sessionToken, newEmail string) error {
	verified, err := p.VerifyToken(ctx, sessionToken)
	if err != nil {
		return err
	}
	newEmail = core.CleanString(newEmail, true /* lower */)
	if _, err := mail.ParseAddress(newEmail); err != nil {
		return identity.ErrInvalidEmail
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if owner, exists := p.emails[newEmail]; exists && owner != verified.ExternalID {
		return identity.ErrDuplicateIdentity
	}
	cred, ok := p.creds[verified.ExternalID]
	if !ok {
		return identity.ErrInvalidSession
	}
	delete(p.emails, cred.email)
	cred.email = newEmail
	p.emails[newEmail] = cred.externalID
	return nil
}

func (p *localProvider) UpdateCredentialSecret(ctx context.Context, sessionToken, newSecret string) error {
	verified, err := p.VerifyToken(ctx, sessionToken)
	if err != nil {
		return err
	}
	if len(newSecret) < localSecretMinLen {
		return identity.ErrWeakSecret
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cred, ok := p.creds[verified.ExternalID]
	if !ok {
		return identity.ErrInvalidSession
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newSecret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	cred.secretHash = hash
	return nil
}

func (p *localProvider) DeleteCredential(_ context.Context, externalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// idempotent: deleting an absent credential is a success
	if cred, ok := p.creds[externalID]; ok {
		delete(p.emails, cred.email)
		delete(p.creds, externalID)
	}
	return nil
}

func (p *localProvider) VerifyToken(_ context.Context, idToken string) (identity.VerifiedToken, error) {
	claims := new(jwt.StandardClaims)
	token, err := jwt.ParseWithClaims(idToken, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, identity.ErrInvalidSession
		}
		return p.secretKey, nil
	})
	if err != nil || !token.Valid {
		return identity.VerifiedToken{}, identity.ErrInvalidSession
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	cred, ok := p.creds[claims.Subject]
	if !ok {
		// credential revoked since the token was issued
		return identity.VerifiedToken{}, identity.ErrInvalidSession
	}
	return identity.VerifiedToken{ExternalID: cred.externalID, Email: cred.email}, nil
}

// Authenticate checks an email/secret pair and mints a session token; this
// is how DEV clients sign in without the remote provider.
func (p *localProvider) Authenticate(email, secret string) (string, error) {
	email = core.CleanString(email, true /* lower */)

	p.mu.RLock()
	externalID, ok := p.emails[email]
	var cred *localCredential
	if ok {
		cred = p.creds[externalID]
	}
	p.mu.RUnlock()

	if cred == nil {
		return "", identity.ErrInvalidSession
	}
	if err := bcrypt.CompareHashAndPassword(cred.secretHash, []byte(secret)); err != nil {
		return "", identity.ErrInvalidSession
	}
	return p.mintToken(cred.externalID)
}

func (p *localProvider) mintToken(externalID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &jwt.StandardClaims{
		Subject:   externalID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(p.tokenTTL).Unix(),
	})
	return token.SignedString(p.secretKey)
}
