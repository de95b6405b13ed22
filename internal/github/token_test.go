package github

import "testing"

func TestGetToken_FromEnvironment(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "env-token")

	token, err := GetToken()
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if token != "env-token" {
		t.Errorf("token = %q, want env-token", token)
	}
}
