package providers_test

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/9seconds/ipgeo/geolib"
	"github.com/jarcoal/httpmock"
	"github.com/maxmind/mmdbwriter"
	"github.com/maxmind/mmdbwriter/mmdbtype"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ProviderTestSuite struct {
	suite.Suite

	http geolib.HTTPClient
}

func (suite *ProviderTestSuite) SetupTest() {
	suite.http = geolib.NewHTTPClient(&http.Client{}, geolib.HTTPClientOpts{
		UserAgent:         "test-agent",
		Timeout:           5 * time.Second,
		RateLimitInterval: time.Millisecond,
		RateLimitBurst:    100,
	})
}

type MockedProviderTestSuite struct {
	ProviderTestSuite
}

func (suite *MockedProviderTestSuite) SetupSuite() {
	httpmock.Activate()
}

func (suite *MockedProviderTestSuite) TearDownSuite() {
	httpmock.DeactivateAndReset()
}

func (suite *MockedProviderTestSuite) TearDownTest() {
	httpmock.Reset()
}

type ProviderMock struct {
	mock.Mock
}

func (m *ProviderMock) Lookup(ctx context.Context, addr geolib.Address) (geolib.ProviderRecord, error) {
	args := m.Called(ctx, addr)

	return args.Get(0).(geolib.ProviderRecord), args.Error(1)
}

func (m *ProviderMock) Name() string {
	return m.Called().String(0)
}

func (m *ProviderMock) Ready() error {
	return m.Called().Error(0)
}

func mustParseAddress(raw string) geolib.Address {
	addr, err := geolib.ParseAddress(raw)
	if err != nil {
		panic(err)
	}

	return addr
}

type mmdbNetwork struct {
	cidr string
	data mmdbtype.Map
}

func makeMMDB(dbType string, networks ...mmdbNetwork) []byte {
	writer, err := mmdbwriter.New(mmdbwriter.Options{
		DatabaseType:            dbType,
		IncludeReservedNetworks: true,
		RecordSize:              24,
	})
	if err != nil {
		panic(err)
	}

	for _, v := range networks {
		_, network, err := net.ParseCIDR(v.cidr)
		if err != nil {
			panic(err)
		}

		if err := writer.Insert(network, v.data); err != nil {
			panic(err)
		}
	}

	buf := &bytes.Buffer{}

	if _, err := writer.WriteTo(buf); err != nil {
		panic(err)
	}

	return buf.Bytes()
}
