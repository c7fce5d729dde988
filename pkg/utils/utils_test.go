package utils

import "testing"

func TestGenerateAndValidateToken(t *testing.T) {
	secret := "test-secret"
	token, err := GenerateToken("subject-42", "Jamie", "nutritionist", secret)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != "subject-42" || claims.Name != "Jamie" || claims.Role != "nutritionist" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("subject-42", "Jamie", "user", "first-secret")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, err := ValidateToken(token, "other-secret"); err == nil {
		t.Fatal("expected validation failure with wrong secret")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	if _, err := ValidateToken("not-a-token", "secret"); err == nil {
		t.Fatal("expected validation failure for malformed token")
	}
}
