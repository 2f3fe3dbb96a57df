package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"
)

type BasicAuthTestSuite struct {
	suite.Suite

	next http.Handler
}

func (suite *BasicAuthTestSuite) SetupTest() {
	suite.next = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func (suite *BasicAuthTestSuite) serve(conf configAdmin, user, password string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodDelete, "/admin/cache", nil)
	if user != "" || password != "" {
		req.SetBasicAuth(user, password)
	}

	w := httptest.NewRecorder()

	newBasicAuth(conf)(suite.next).ServeHTTP(w, req)

	return w
}

func (suite *BasicAuthTestSuite) TestDisabled() {
	w := suite.serve(configAdmin{}, "admin", "pass")

	suite.Equal(http.StatusForbidden, w.Code)
	suite.Equal("application/json", w.Header().Get("Content-Type"))
}

func (suite *BasicAuthTestSuite) TestNoCredentials() {
	w := suite.serve(configAdmin{User: "admin", Password: "pass"}, "", "")

	suite.Equal(http.StatusUnauthorized, w.Code)
	suite.NotEmpty(w.Header().Get("WWW-Authenticate"))
}

func (suite *BasicAuthTestSuite) TestWrongPassword() {
	w := suite.serve(configAdmin{User: "admin", Password: "pass"}, "admin", "wrong")

	suite.Equal(http.StatusUnauthorized, w.Code)
}

func (suite *BasicAuthTestSuite) TestOk() {
	w := suite.serve(configAdmin{User: "admin", Password: "pass"}, "admin", "pass")

	suite.Equal(http.StatusNoContent, w.Code)
}

func (suite *BasicAuthTestSuite) TestPasswordFromEnv() {
	suite.T().Setenv("IPGEO_TEST_ADMIN_PASSWORD", "secret")

	w := suite.serve(configAdmin{User: "admin", Password: "$IPGEO_TEST_ADMIN_PASSWORD"}, "admin", "secret")

	suite.Equal(http.StatusNoContent, w.Code)
}

func TestBasicAuth(t *testing.T) {
	suite.Run(t, &BasicAuthTestSuite{})
}
