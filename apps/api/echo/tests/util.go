package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	. "github.com/shulehq/shule/apps/api/echo"
	"github.com/shulehq/shule/core"
	"github.com/shulehq/shule/core/branch"
	"github.com/shulehq/shule/core/identity"
	emailsvc "github.com/shulehq/shule/services/email"
	providersvc "github.com/shulehq/shule/services/provider"
	inmemrepos "github.com/shulehq/shule/storage/database/inmem"
	testutil "github.com/shulehq/shule/tests"
)

var errMissingToken = httpErr{Error: "not authenticated"}

// authenticator is the DEV provider surface the tests need: the Provider
// operations plus local sign-in for minting session tokens.
type authenticator interface {
	identity.Provider
	Authenticate(email, secret string) (string, error)
}

type testEnv struct {
	app      Server
	provider authenticator
	idtRepo  identity.Repository
	brRepo   branch.Repository
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	conf := testutil.NewTestConfig()
	logger := testutil.NewLogger()

	provider := providersvc.NewLocalProvider(conf)
	idtRepo := inmemrepos.NewIdentityRepository()
	brRepo := inmemrepos.NewBranchRepository()

	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	idtSvc := identity.NewService(idtRepo, provider, mailSvc, logger, conf)
	brSvc := branch.NewService(brRepo)

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	identity.InitValidators(validate, translator)

	app := NewServer(ServerDeps{
		Conf:        conf,
		Logger:      logger,
		IdentitySvc: idtSvc,
		BranchSvc:   brSvc,
		Provider:    provider,
		Validate:    validate,
		Translator:  translator,
	})

	return &testEnv{
		app:      app,
		provider: provider,
		idtRepo:  idtRepo,
		brRepo:   brRepo,
	}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

const testSecret = "S3cr3t!pass"

// createAuthedIdentity provisions a credential and a matching row, and
// returns the row plus a live session token.
func createAuthedIdentity(t *testing.T, env *testEnv, name, email string, role identity.Role, branchID string) (identity.Identity, string) {
	t.Helper()

	externalID, err := env.provider.CreateCredential(context.Background(), email, testSecret)
	if err != nil {
		t.Fatalf("CreateCredential() failed: %v", err)
	}
	idt := testutil.CreateIdentity(t, env.idtRepo, name, email, role, externalID, branchID)
	token, err := env.provider.Authenticate(email, testSecret)
	if err != nil {
		t.Fatalf("Authenticate() failed: %v", err)
	}
	return idt, token
}

// createIdentityAt seeds a row with no credential at a fixed creation time.
func createIdentityAt(t *testing.T, env *testEnv, name, email string, role identity.Role, branchID string, createdAt time.Time) identity.Identity {
	t.Helper()
	return testutil.CreateIdentity(t, env.idtRepo, name, email, role, "", branchID, createdAt)
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList(): %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ObjectsAreEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
