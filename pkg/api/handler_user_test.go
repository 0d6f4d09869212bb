package api

import (
	"encoding/json"
	"net/http"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/pkg/store"
	"github.com/agentmux/agentmux/pkg/users"
)

func userTestEcho(t *testing.T) (*echo.Echo, *users.Service) {
	t.Helper()
	svc := users.NewService(store.New(t.TempDir()), users.NewTokenCipher("test-secret"))
	s := &Server{users: svc}

	e := echo.New()
	e.POST("/api/v1/users", s.createUserHandler)
	e.GET("/api/v1/users", s.listUsersHandler)
	e.GET("/api/v1/users/:id", s.getUserHandler)
	e.DELETE("/api/v1/users/:id", s.deleteUserHandler)
	e.PUT("/api/v1/users/:id/tokens/:service", s.setTokenHandler)
	return e, svc
}

func TestUserHandlers_Lifecycle(t *testing.T) {
	e, svc := userTestEcho(t)

	rec := postJSON(e, "/api/v1/users", `{"name":"ada","email":"ada@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created IDResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	getRec := getJSON(e, "/api/v1/users/"+created.ID)
	require.Equal(t, http.StatusOK, getRec.Code)

	var user users.User
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &user))
	assert.Equal(t, "ada", user.Name)

	tokenReq := putJSON(e, "/api/v1/users/"+created.ID+"/tokens/github", `{"token":"ghp_secret"}`)
	require.Equal(t, http.StatusNoContent, tokenReq.Code)

	// The plaintext token round-trips through the service but is never
	// exposed by the API.
	token, err := svc.Token(created.ID, "github")
	require.NoError(t, err)
	assert.Equal(t, "ghp_secret", token)

	listRec := getJSON(e, "/api/v1/users")
	require.Equal(t, http.StatusOK, listRec.Code)
	assert.NotContains(t, listRec.Body.String(), "ghp_secret")

	delRec := deleteReq(e, "/api/v1/users/"+created.ID)
	require.Equal(t, http.StatusNoContent, delRec.Code)

	assert.Equal(t, http.StatusNotFound, getJSON(e, "/api/v1/users/"+created.ID).Code)
}

func TestUserHandlers_Validation(t *testing.T) {
	e, _ := userTestEcho(t)

	t.Run("missing name returns 400", func(t *testing.T) {
		rec := postJSON(e, "/api/v1/users", `{"email":"x@example.com"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty token returns 400", func(t *testing.T) {
		rec := putJSON(e, "/api/v1/users/u-1/tokens/github", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown user token set returns 404", func(t *testing.T) {
		rec := putJSON(e, "/api/v1/users/ghost/tokens/github", `{"token":"x"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
