package integration_tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/calcify/calcd"
	"github.com/stretchr/testify/require"
)

func ReadConfig(name string) *calcd.Config {
	config := new(calcd.Config)
	_, err := toml.DecodeFile(path.Join("testdata", name+".toml"), config)
	if err != nil {
		panic(err.Error())
	}
	return config
}

// CalcdClient drives the HTTP API in tests. A non-empty token is sent as a
// bearer credential on every request.
type CalcdClient struct {
	url   string
	token string
}

func NewCalcdClient(url string) *CalcdClient {
	return &CalcdClient{url: url}
}

func (c *CalcdClient) WithToken(token string) *CalcdClient {
	return &CalcdClient{url: c.url, token: token}
}

func (c *CalcdClient) Do(method, path string, body interface{}) ([]byte, int, error) {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, -1, err
		}
		buf = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.url+path, buf)
	if err != nil {
		return nil, -1, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, -1, err
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, -1, err
	}
	return resBody, res.StatusCode, nil
}

type registerRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type calculationRequest struct {
	Type   string    `json:"type"`
	Inputs []float64 `json:"inputs"`
}

type calculationResponse struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Inputs []float64 `json:"inputs"`
	Result float64   `json:"result"`
}

// Register creates a user and returns an authenticated client for it.
func (c *CalcdClient) Register(t *testing.T, username string) *CalcdClient {
	t.Helper()

	_, code, err := c.Do("POST", "/v1/auth/register", registerRequest{
		FirstName: "Integration",
		LastName:  "Test",
		Email:     fmt.Sprintf("%s@example.com", username),
		Username:  username,
		Password:  "hunter2hunter2",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, code)

	body, code, err := c.Do("POST", "/v1/auth/login", map[string]string{
		"username": username,
		"password": "hunter2hunter2",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, code)

	var login loginResponse
	require.NoError(t, json.Unmarshal(body, &login))
	require.NotEmpty(t, login.Token)
	return c.WithToken(login.Token)
}
