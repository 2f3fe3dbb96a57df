package geolib_test

import (
	"context"

	"github.com/9seconds/ipgeo/geolib"
	"github.com/stretchr/testify/mock"
)

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

type LoggerMock struct {
	mock.Mock
}

func (m *LoggerMock) LookupError(ip string, name string, err error) {
	m.Called(ip, name, err)
}

func (m *LoggerMock) UpdateInfo(name, msg string) {
	m.Called(name, msg)
}

func (m *LoggerMock) UpdateError(name string, err error) {
	m.Called(name, err)
}

func matchAddress(ip string) interface{} {
	return mock.MatchedBy(func(addr geolib.Address) bool {
		return addr.String() == ip
	})
}

func floatPtr(value float64) *float64 {
	return &value
}

func uint16Ptr(value uint16) *uint16 {
	return &value
}
