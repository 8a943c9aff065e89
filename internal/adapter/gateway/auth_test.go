package gateway

import (
	"errors"
	"testing"

	"pintrainer/internal/domain"
)

func TestStaticTokenAuthValid(t *testing.T) {
	auth := NewStaticTokenAuth([]TokenEntry{
		{Token: "secret-123", Name: "lab-lead", Roles: []string{"instructor"}},
	})

	info, err := auth.Authenticate("secret-123")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if info.Name != "lab-lead" {
		t.Errorf("Name = %q", info.Name)
	}
	if len(info.Roles) != 1 || info.Roles[0] != "instructor" {
		t.Errorf("Roles = %v", info.Roles)
	}
}

func TestStaticTokenAuthInvalid(t *testing.T) {
	auth := NewStaticTokenAuth([]TokenEntry{
		{Token: "secret-123", Name: "lab-lead", Roles: []string{"instructor"}},
	})

	_, err := auth.Authenticate("wrong-token")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, domain.ErrGatewayAuthFailed) {
		t.Errorf("err = %v, want ErrGatewayAuthFailed", err)
	}
}

func TestStaticTokenAuthEmpty(t *testing.T) {
	auth := NewStaticTokenAuth(nil)

	if _, err := auth.Authenticate("anything"); err == nil {
		t.Fatal("expected error for empty token list")
	}
	if _, err := NewStaticTokenAuth([]TokenEntry{{Token: "", Name: "blank"}}).Authenticate(""); err == nil {
		t.Fatal("empty token must never authenticate")
	}
}

func TestClientRolesDefaultToLearner(t *testing.T) {
	c := &ClientInfo{Name: "student", Roles: []string{"bogus"}}
	roles := c.authRoles()
	if len(roles) != 1 || roles[0] != domain.AuthRoleLearner {
		t.Errorf("roles = %v, want [learner]", roles)
	}
}

func TestOpenAuth(t *testing.T) {
	info, err := OpenAuth{}.Authenticate("")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !domain.HasPermission(info.authRoles(), domain.PermSessionAdmin) {
		t.Errorf("open auth client should be an instructor, roles = %v", info.Roles)
	}
}
