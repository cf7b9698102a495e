package restapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAuthorizer_NoCookieDefaultsToDevLevel(t *testing.T) {
	a := NewAuthorizer("secret")
	r := httptest.NewRequest(http.MethodGet, "/tier_deployments", nil)

	if err := a.Authorize(r, OpCreateTierDeployment); err == nil {
		t.Fatalf("expected dev-level actor to be rejected for an environment-level operation")
	}
}

func TestAuthorizer_AdminCookieAllowsAdminOperation(t *testing.T) {
	a := NewAuthorizer("secret")
	token, err := a.IssueAdminCookie("alice", nil, time.Hour)
	if err != nil {
		t.Fatalf("issue cookie: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, "/admin/config", nil)
	r.AddCookie(&http.Cookie{Name: "tds_admin", Value: token})

	if err := a.Authorize(r, OpAdminConfig); err != nil {
		t.Fatalf("expected admin cookie to authorize admin op: %v", err)
	}
}

func TestAuthorizer_MethodRestrictedAdminCookieRejectsDisallowedMethod(t *testing.T) {
	a := NewAuthorizer("secret")
	token, err := a.IssueAdminCookie("alice", []string{"GET"}, time.Hour)
	if err != nil {
		t.Fatalf("issue cookie: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, "/admin/config", nil)
	r.AddCookie(&http.Cookie{Name: "tds_admin", Value: token})

	if err := a.Authorize(r, OpAdminConfig); err == nil {
		t.Fatalf("expected POST to be rejected by a GET-only admin cookie")
	}
}
