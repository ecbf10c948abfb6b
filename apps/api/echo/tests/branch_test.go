package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/shulehq/shule/core/branch"
	"github.com/shulehq/shule/core/identity"
)

func Test_branchApi(t *testing.T) {
	env := setup(t)

	_, superToken := createAuthedIdentity(t, env, "Root", "root@test.cd", identity.RoleSuperAdmin, "")
	_, adminToken := createAuthedIdentity(t, env, "Admin", "admin@test.cd", identity.RoleAdmin, "")

	var created branch.Branch

	t.Run("create requires superadmin", func(t *testing.T) {
		payload := marchallObj(t, branch.NewBranch{Name: "Gombe Campus", City: "Kinshasa"})

		req, rec := newAuthRequest(http.MethodPost, "/v1/branches", adminToken, payload)
		env.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("code = %v; want 403", rec.Code)
		}

		req, rec = newAuthRequest(http.MethodPost, "/v1/branches", superToken, payload)
		env.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("code = %v; want 201 (body %s)", rec.Code, rec.Body.String())
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
			t.Fatalf("unmarshalling: %v", err)
		}
	})

	t.Run("duplicate name", func(t *testing.T) {
		payload := marchallObj(t, branch.NewBranch{Name: "Gombe Campus"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/branches", superToken, payload)
		env.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusConflict {
			t.Errorf("code = %v; want 409", rec.Code)
		}
	})

	t.Run("any authed caller can read", func(t *testing.T) {
		tt := httpTest{
			method: http.MethodGet, path: "/v1/branches", token: adminToken,
			wantCode: http.StatusOK, wantData: marchallList(t, created),
		}
		req, rec := newAuthRequest(tt.method, tt.path, tt.token)
		env.app.ServeHTTP(rec, req)
		checkCodeAndData(t, tt, rec)

		req, rec = newAuthRequest(http.MethodGet, "/v1/branches/"+created.ID, adminToken)
		env.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("code = %v; want 200", rec.Code)
		}
	})

	t.Run("auth required", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/branches")
		env.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("code = %v; want 401", rec.Code)
		}
	})

	t.Run("update", func(t *testing.T) {
		payload := marchallObj(t, branch.UpdateBranch{City: "Lubumbashi"})
		req, rec := newAuthRequest(http.MethodPut, "/v1/branches/"+created.ID, superToken, payload)
		env.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v; want 200 (body %s)", rec.Code, rec.Body.String())
		}
		var got branch.Branch
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("unmarshalling: %v", err)
		}
		if got.City.String != "Lubumbashi" {
			t.Errorf("city = %v; want Lubumbashi", got.City.String)
		}
	})

	t.Run("delete", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/branches/"+created.ID, superToken)
		env.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Errorf("code = %v; want 204", rec.Code)
		}

		req, rec = newAuthRequest(http.MethodGet, "/v1/branches/"+created.ID, superToken)
		env.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("code = %v; want 404", rec.Code)
		}
	})
}
