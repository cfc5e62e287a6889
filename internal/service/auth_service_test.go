package service

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"strings"
	"testing"
	"time"

	"cat_feeder/internal/clock"
	"cat_feeder/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const testSigningKey = "test-signing-key"

// mockAuthRepo is an in-memory repository.Authorization.
type mockAuthRepo struct {
	users     map[string]*models.User
	createErr error
	getErr    error
	created   []string
}

func (m *mockAuthRepo) Create(username, hash string) (int, error) {
	if m.createErr != nil {
		return 0, m.createErr
	}
	if m.users == nil {
		m.users = map[string]*models.User{}
	}
	id := len(m.users) + 1
	m.users[username] = &models.User{ID: id, Username: username, PasswordHash: hash}
	m.created = append(m.created, username)
	return id, nil
}

func (m *mockAuthRepo) GetByUsername(username string) (*models.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.users[username], nil
}

func newAuthFixture(ttl time.Duration) (*AuthService, *mockAuthRepo, *clock.Fake) {
	repo := &mockAuthRepo{}
	clk := clock.NewFake(testStart)
	return NewAuthService(repo, AuthConfig{SigningKey: testSigningKey, TokenTTL: ttl}, clk), repo, clk
}

func TestAuthService_SignUpStoresBcryptHash(t *testing.T) {
	svc, repo, _ := newAuthFixture(time.Hour)

	id, err := svc.SignUp("  keeper ", "kibble42")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected id 1, got %d", id)
	}
	u := repo.users["keeper"]
	if u == nil {
		t.Fatalf("expected trimmed username to be stored, got %v", repo.created)
	}
	if u.PasswordHash == "kibble42" {
		t.Fatalf("password stored in clear")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("kibble42")); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
}

func TestAuthService_SignUpRejects(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		repoErr  error
		want     error
	}{
		{name: "blank username", username: "   ", password: "kibble42", want: ErrInvalidUsername},
		{name: "long username", username: strings.Repeat("c", maxUsernameRunes+1), password: "kibble42", want: ErrInvalidUsername},
		{name: "short password", username: "keeper", password: "meow", want: ErrInvalidPassword},
		{name: "repo failure", username: "keeper", password: "kibble42", repoErr: errDBDown, want: errDBDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _ := newAuthFixture(time.Hour)
			repo.createErr = tt.repoErr

			_, err := svc.SignUp(tt.username, tt.password)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(repo.created) != 0 {
				t.Fatalf("nothing should be stored, got %v", repo.created)
			}
		})
	}
}

func TestAuthService_GenerateAndParseToken(t *testing.T) {
	svc, _, _ := newAuthFixture(time.Hour)
	if _, err := svc.SignUp("keeper", "kibble42"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	token, err := svc.GenerateToken("keeper", "kibble42")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	uid, err := svc.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if uid != 1 {
		t.Fatalf("expected operator 1, got %d", uid)
	}
}

func TestAuthService_GenerateTokenFailures(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		getErr   error
		want     error
	}{
		{name: "unknown operator", username: "stranger", password: "kibble42", want: ErrUserNotFound},
		{name: "wrong password", username: "keeper", password: "tuna-tuna", want: ErrInvalidPassword},
		{name: "repo failure", username: "keeper", password: "kibble42", getErr: errDBDown, want: errDBDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _ := newAuthFixture(time.Hour)
			if _, err := svc.SignUp("keeper", "kibble42"); err != nil {
				t.Fatalf("SignUp: %v", err)
			}
			repo.getErr = tt.getErr

			_, err := svc.GenerateToken(tt.username, tt.password)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAuthService_TokenExpiresOnFeederClock(t *testing.T) {
	svc, _, clk := newAuthFixture(10 * time.Minute)

	token, err := svc.issueToken(3)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	clk.Advance(9 * time.Minute)
	if _, err := svc.ParseToken(token); err != nil {
		t.Fatalf("token should still be valid: %v", err)
	}
	clk.Advance(2 * time.Minute)
	if _, err := svc.ParseToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestAuthService_DefaultTTL(t *testing.T) {
	svc, _, _ := newAuthFixture(0)
	if svc.tokenTTL != defaultTokenTTL {
		t.Fatalf("expected default ttl %v, got %v", defaultTokenTTL, svc.tokenTTL)
	}
}

func TestAuthService_ParseTokenRejectsForeignTokens(t *testing.T) {
	exp := jwt.NewNumericDate(testStart.Add(time.Hour))
	claims := func(issuer string) *Claims {
		return &Claims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: exp, IssuedAt: jwt.NewNumericDate(testStart)},
			UserID:           5,
		}
	}
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	sign := func(t *testing.T, m jwt.SigningMethod, c *Claims, key interface{}) string {
		s, err := jwt.NewWithClaims(m, c).SignedString(key)
		if err != nil {
			t.Fatalf("SignedString: %v", err)
		}
		return s
	}

	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{name: "malformed", token: func(*testing.T) string { return "not-a-jwt" }},
		{name: "other key", token: func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS256, claims(tokenIssuer), []byte("different-key"))
		}},
		{name: "other issuer", token: func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS256, claims("door-controller"), []byte(testSigningKey))
		}},
		{name: "no expiry", token: func(t *testing.T) string {
			c := claims(tokenIssuer)
			c.ExpiresAt = nil
			return sign(t, jwt.SigningMethodHS256, c, []byte(testSigningKey))
		}},
		{name: "rsa signed", token: func(t *testing.T) string {
			return sign(t, jwt.SigningMethodRS256, claims(tokenIssuer), rsaKey)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newAuthFixture(time.Hour)
			if _, err := svc.ParseToken(tt.token(t)); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}
