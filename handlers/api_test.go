package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	"onboard-api/handlers"
	"onboard-api/models"
	"onboard-api/routes"
	"onboard-api/store"
	"onboard-api/utils"
)

func newAPI(t *testing.T) (*gin.Engine, *store.Memory) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	gin.SetMode(gin.TestMode)

	mem := store.NewMemory()
	r := gin.New()
	routes.Setup(r.Group("/api/v1"), mem, handlers.NewWSHandler())
	return r, mem
}

func seedAdmin(t *testing.T, mem *store.Memory) string {
	t.Helper()
	hash, err := utils.HashPassword("hunter22")
	if err != nil {
		t.Fatal(err)
	}
	admin := &models.User{
		ID:           uuid.New().String(),
		Email:        "boss@x.com",
		Name:         "Boss",
		Role:         models.RoleAdmin,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := mem.CreateUser(t.Context(), admin); err != nil {
		t.Fatal(err)
	}
	return admin.ID
}

func request(t *testing.T, r *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad JSON %q: %v", w.Body.String(), err)
	}
	return out
}

func login(t *testing.T, r *gin.Engine, email, password string) models.TokenResponse {
	t.Helper()
	w := request(t, r, http.MethodPost, "/api/v1/token", "", models.LoginRequest{Email: email, Password: password})
	if w.Code != http.StatusOK {
		t.Fatalf("login code = %d: %s", w.Code, w.Body.String())
	}
	var resp models.TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

// Walks the reference scenario: issue, resolve, submit, approve, then
// observe the conflict on the losing duplicate approve.
func TestInvitationScenario(t *testing.T) {
	r, mem := newAPI(t)
	seedAdmin(t, mem)
	tokens := login(t, r, "boss@x.com", "hunter22")
	if tokens.Role != models.RoleAdmin {
		t.Fatalf("login role = %q", tokens.Role)
	}

	// Issue.
	w := request(t, r, http.MethodPost, "/api/v1/invites", tokens.Access, gin.H{"target_email": "jane@x.com"})
	if w.Code != http.StatusCreated {
		t.Fatalf("issue code = %d: %s", w.Code, w.Body.String())
	}
	inviteToken, _ := decode(t, w)["token"].(string)
	if inviteToken == "" {
		t.Fatal("issue returned no token")
	}

	// Resolve: ISSUED.
	w = request(t, r, http.MethodGet, "/api/v1/invites/"+inviteToken, "", nil)
	if w.Code != http.StatusOK || decode(t, w)["status"] != models.StatusIssued {
		t.Fatalf("resolve = %d %s", w.Code, w.Body.String())
	}

	// Submit.
	form := gin.H{"full_name": "Jane Doe", "email": "jane@x.com", "phone": "0600000000", "birth_date": "1990-01-01"}
	w = request(t, r, http.MethodPost, "/api/v1/invites/"+inviteToken+"/submit", "", form)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit code = %d: %s", w.Code, w.Body.String())
	}
	subID, _ := decode(t, w)["id"].(string)

	w = request(t, r, http.MethodGet, "/api/v1/invites/"+inviteToken, "", nil)
	if decode(t, w)["status"] != models.StatusPending {
		t.Fatalf("status after submit: %s", w.Body.String())
	}

	// Duplicate submit races into the conflict rule.
	w = request(t, r, http.MethodPost, "/api/v1/invites/"+inviteToken+"/submit", "", form)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate submit code = %d", w.Code)
	}

	// Approve.
	w = request(t, r, http.MethodPost, fmt.Sprintf("/api/v1/admin/submissions/%s/approve", subID), tokens.Access, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("approve code = %d: %s", w.Code, w.Body.String())
	}

	// Read-after-write on the public resolve.
	w = request(t, r, http.MethodGet, "/api/v1/invites/"+inviteToken, "", nil)
	if decode(t, w)["status"] != models.StatusApproved {
		t.Fatalf("status after approve: %s", w.Body.String())
	}

	// The second approve deterministically loses.
	w = request(t, r, http.MethodPost, fmt.Sprintf("/api/v1/admin/submissions/%s/approve", subID), tokens.Access, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second approve code = %d, want 409", w.Code)
	}

	// The provisioned member shows up in the admin listing.
	w = request(t, r, http.MethodGet, "/api/v1/admin/members-with-form", tokens.Access, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("members-with-form code = %d", w.Code)
	}
}

func TestSubmitValidationDetail(t *testing.T) {
	r, mem := newAPI(t)
	adminID := seedAdmin(t, mem)
	adminToken, err := utils.GenerateAccessToken(adminID, "boss@x.com", models.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}

	w := request(t, r, http.MethodPost, "/api/v1/invites", adminToken, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("issue code = %d", w.Code)
	}
	inviteToken, _ := decode(t, w)["token"].(string)

	w = request(t, r, http.MethodPost, "/api/v1/invites/"+inviteToken+"/submit", "", gin.H{
		"full_name":  "Jane Doe",
		"email":      "not-an-email",
		"phone":      "0600000000",
		"birth_date": "01/01/1990",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", w.Code)
	}
	fields, _ := decode(t, w)["fields"].(map[string]interface{})
	if fields["email"] == nil {
		t.Fatalf("missing per-field detail for email: %s", w.Body.String())
	}
	if fields["birth_date"] == nil {
		t.Fatalf("missing per-field detail for birth_date: %s", w.Body.String())
	}
	if fields["full_name"] != nil {
		t.Fatalf("full_name flagged but valid: %s", w.Body.String())
	}
}

func TestIssueRequiresAdminRole(t *testing.T) {
	r, _ := newAPI(t)

	// No credential.
	if w := request(t, r, http.MethodPost, "/api/v1/invites", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated issue code = %d, want 401", w.Code)
	}

	// Member credential.
	memberToken, err := utils.GenerateAccessToken("m1", "m@x.com", models.RoleMember)
	if err != nil {
		t.Fatal(err)
	}
	if w := request(t, r, http.MethodPost, "/api/v1/invites", memberToken, nil); w.Code != http.StatusForbidden {
		t.Fatalf("member issue code = %d, want 403", w.Code)
	}
}

func TestResolveUnknownTokenIs404(t *testing.T) {
	r, _ := newAPI(t)
	if w := request(t, r, http.MethodGet, "/api/v1/invites/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", w.Code)
	}
}

func TestRefreshRotatesAccessToken(t *testing.T) {
	r, mem := newAPI(t)
	seedAdmin(t, mem)
	tokens := login(t, r, "boss@x.com", "hunter22")

	w := request(t, r, http.MethodPost, "/api/v1/token/refresh", "", models.RefreshRequest{Refresh: tokens.Refresh})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh code = %d: %s", w.Code, w.Body.String())
	}
	var resp models.TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Access == "" || resp.Role != models.RoleAdmin {
		t.Fatalf("refresh response = %+v", resp)
	}

	if w := request(t, r, http.MethodPost, "/api/v1/token/refresh", "", models.RefreshRequest{Refresh: "bogus"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bogus refresh code = %d, want 401", w.Code)
	}
}

func TestTwoFactorEnrollmentAndLogin(t *testing.T) {
	r, mem := newAPI(t)
	seedAdmin(t, mem)
	tokens := login(t, r, "boss@x.com", "hunter22")

	// Enroll: mint a secret, prove possession, activate.
	w := request(t, r, http.MethodPost, "/api/v1/auth/2fa/setup", tokens.Access, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("setup code = %d: %s", w.Code, w.Body.String())
	}
	secret, _ := decode(t, w)["secret"].(string)
	if secret == "" {
		t.Fatal("setup returned no secret")
	}

	// Login is unaffected while the enrollment is unconfirmed.
	login(t, r, "boss@x.com", "hunter22")

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	w = request(t, r, http.MethodPost, "/api/v1/auth/2fa/confirm", tokens.Access, gin.H{"code": code})
	if w.Code != http.StatusOK {
		t.Fatalf("confirm code = %d: %s", w.Code, w.Body.String())
	}

	// Password alone is no longer enough.
	w = request(t, r, http.MethodPost, "/api/v1/token", "", models.LoginRequest{Email: "boss@x.com", Password: "hunter22"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("login without code = %d, want 401", w.Code)
	}
	if decode(t, w)["requires_2fa"] != true {
		t.Fatalf("missing requires_2fa flag: %s", w.Body.String())
	}

	code, err = totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	w = request(t, r, http.MethodPost, "/api/v1/token", "", models.LoginRequest{
		Email:    "boss@x.com",
		Password: "hunter22",
		TOTPCode: code,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login with code = %d: %s", w.Code, w.Body.String())
	}
}

func TestMemberWallDelivery(t *testing.T) {
	r, mem := newAPI(t)
	adminID := seedAdmin(t, mem)
	adminToken, err := utils.GenerateAccessToken(adminID, "boss@x.com", models.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}

	// Two members, one targeted post and one broadcast.
	memberA := &models.User{ID: uuid.New().String(), Email: "a@x.com", Name: "A", Role: models.RoleMember, PasswordHash: "x"}
	memberB := &models.User{ID: uuid.New().String(), Email: "b@x.com", Name: "B", Role: models.RoleMember, PasswordHash: "x"}
	for _, m := range []*models.User{memberA, memberB} {
		if err := mem.CreateUser(t.Context(), m); err != nil {
			t.Fatal(err)
		}
	}

	w := request(t, r, http.MethodPost, "/api/v1/posts", adminToken, models.CreatePostRequest{
		Body:      "welcome everyone",
		Broadcast: true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("broadcast post code = %d: %s", w.Code, w.Body.String())
	}

	w = request(t, r, http.MethodPost, "/api/v1/posts", adminToken, models.CreatePostRequest{
		Body:         "just for A",
		RecipientIDs: []string{memberA.ID},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("targeted post code = %d: %s", w.Code, w.Body.String())
	}

	tokenA, _ := utils.GenerateAccessToken(memberA.ID, memberA.Email, models.RoleMember)
	tokenB, _ := utils.GenerateAccessToken(memberB.ID, memberB.Email, models.RoleMember)

	var wallA, wallB []models.Post
	w = request(t, r, http.MethodGet, "/api/v1/posts/mine", tokenA, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &wallA); err != nil {
		t.Fatal(err)
	}
	w = request(t, r, http.MethodGet, "/api/v1/posts/mine", tokenB, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &wallB); err != nil {
		t.Fatal(err)
	}

	if len(wallA) != 2 {
		t.Fatalf("member A wall = %d posts, want 2", len(wallA))
	}
	if len(wallB) != 1 {
		t.Fatalf("member B wall = %d posts, want 1", len(wallB))
	}

	// Admins do not read the member wall.
	if w := request(t, r, http.MethodGet, "/api/v1/posts/mine", adminToken, nil); w.Code != http.StatusForbidden {
		t.Fatalf("admin on member wall code = %d, want 403", w.Code)
	}
}
