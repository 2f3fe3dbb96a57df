package geolib_test

import (
	"context"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/9seconds/ipgeo/geolib"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type LookupCacheTestSuite struct {
	suite.Suite

	ctx          context.Context
	ctxCancel    context.CancelFunc
	clock        *clock.Mock
	providerMock *ProviderMock
	logMock      *LoggerMock
	cache        *geolib.LookupCache
}

func (suite *LookupCacheTestSuite) SetupTest() {
	suite.ctx, suite.ctxCancel = context.WithCancel(context.Background())
	suite.clock = clock.NewMock()
	suite.providerMock = &ProviderMock{}
	suite.logMock = &LoggerMock{}

	suite.providerMock.On("Name").Return("mock").Maybe()
	suite.providerMock.On("Ready").Return(nil).Maybe()
	suite.logMock.On("LookupError", mock.Anything, mock.Anything, mock.Anything).Maybe()
	suite.logMock.On("UpdateInfo", mock.Anything, mock.Anything).Maybe()

	cache, err := geolib.NewLookupCache(suite.providerMock, geolib.Opts{
		TTL:          time.Hour,
		BatchTTL:     10 * time.Minute,
		MaxBatchSize: 5,
		Clock:        suite.clock,
		Logger:       suite.logMock,
	})

	suite.Require().NoError(err)

	suite.cache = cache
}

func (suite *LookupCacheTestSuite) TearDownTest() {
	suite.cache.Shutdown()
	suite.ctxCancel()

	suite.providerMock.AssertExpectations(suite.T())
	suite.logMock.AssertExpectations(suite.T())
}

func (suite *LookupCacheTestSuite) onLookup(ip string, record geolib.ProviderRecord, err error) *mock.Call {
	return suite.providerMock.On("Lookup", mock.Anything, matchAddress(ip)).Return(record, err)
}

func (suite *LookupCacheTestSuite) TestNotReadyProvider() {
	prov := &ProviderMock{}

	prov.On("Name").Return("broken")
	prov.On("Ready").Return(io.EOF)

	_, err := geolib.NewLookupCache(prov, geolib.Opts{})

	suite.ErrorIs(err, io.EOF)
	prov.AssertExpectations(suite.T())
}

func (suite *LookupCacheTestSuite) TestCustomStores() {
	prov := &ProviderMock{}

	prov.On("Name").Return("mock").Maybe()
	prov.On("Ready").Return(nil)
	prov.On("Lookup", mock.Anything, mock.Anything).Return(geolib.ProviderRecord{}, nil).Twice()

	cache, err := geolib.NewLookupCache(prov, geolib.Opts{
		AddressStore: geolib.NewLRUStore(1, time.Hour),
		BatchStore:   geolib.NewLRUStore(1, time.Hour),
		Clock:        suite.clock,
	})
	suite.Require().NoError(err)

	defer cache.Shutdown()

	_, err = cache.Lookup(suite.ctx, "1.1.1.1")
	suite.NoError(err)

	_, err = cache.Lookup(suite.ctx, "8.8.8.8")
	suite.NoError(err)

	suite.Equal(1, cache.Stats().AddressEntries)
	prov.AssertExpectations(suite.T())
}

func (suite *LookupCacheTestSuite) TestInvalidAddress() {
	for _, v := range []string{"", "   ", "not an ip", "1.1.1", "256.0.0.1", "fe80::1%eth0"} {
		suite.Run(strconv.Quote(v), func() {
			_, err := suite.cache.Lookup(suite.ctx, v)

			suite.ErrorIs(err, geolib.ErrInvalidAddress)
		})
	}

	suite.providerMock.AssertNotCalled(suite.T(), "Lookup", mock.Anything, mock.Anything)
}

func (suite *LookupCacheTestSuite) TestLookupIsCached() {
	suite.onLookup("8.8.8.8", geolib.ProviderRecord{
		CountryCode: "us",
		City:        "Mountain View",
		Latitude:    floatPtr(37.751),
		Longitude:   floatPtr(-97.822),
	}, nil).Once()

	first, err := suite.cache.Lookup(suite.ctx, "8.8.8.8")

	suite.NoError(err)
	suite.True(first.OK())
	suite.Equal("8.8.8.8", first.IP)
	suite.Equal("US", first.CountryCode)
	suite.Equal("United States", first.CountryName)
	suite.Equal("Mountain View", first.City)
	suite.Equal(geolib.Unknown, first.RegionName)
	suite.Equal(geolib.Unknown, first.ISP)
	suite.InDelta(37.751, *first.Latitude, 0.0001)
	suite.Nil(first.AccuracyRadius)

	second, err := suite.cache.Lookup(suite.ctx, "  8.8.8.8 ")

	suite.NoError(err)
	suite.Equal(first, second)

	stats := suite.cache.Stats()

	suite.EqualValues(1, stats.Hits)
	suite.EqualValues(1, stats.Misses)
	suite.InDelta(0.5, stats.HitRate, 0.0001)
	suite.Equal(1, stats.AddressEntries)
}

func (suite *LookupCacheTestSuite) TestLookupExpires() {
	suite.onLookup("1.1.1.1", geolib.ProviderRecord{CountryCode: "AU"}, nil).Twice()

	_, err := suite.cache.Lookup(suite.ctx, "1.1.1.1")
	suite.NoError(err)

	suite.clock.Add(time.Hour - time.Second)

	_, err = suite.cache.Lookup(suite.ctx, "1.1.1.1")
	suite.NoError(err)
	suite.providerMock.AssertNumberOfCalls(suite.T(), "Lookup", 1)

	suite.clock.Add(time.Second)

	_, err = suite.cache.Lookup(suite.ctx, "1.1.1.1")
	suite.NoError(err)
	suite.providerMock.AssertNumberOfCalls(suite.T(), "Lookup", 2)
}

func (suite *LookupCacheTestSuite) TestMappedAddressSharesEntry() {
	suite.onLookup("8.8.4.4", geolib.ProviderRecord{CountryCode: "US"}, nil).Once()

	first, err := suite.cache.Lookup(suite.ctx, "::ffff:8.8.4.4")
	suite.NoError(err)

	second, err := suite.cache.Lookup(suite.ctx, "8.8.4.4")
	suite.NoError(err)

	suite.Equal("8.8.4.4", first.IP)
	suite.Equal(first, second)
}

func (suite *LookupCacheTestSuite) TestIPv6Canonical() {
	suite.onLookup("2001:db8::1", geolib.ProviderRecord{}, nil).Once()

	first, err := suite.cache.Lookup(suite.ctx, "2001:0DB8:0000::0001")
	suite.NoError(err)

	second, err := suite.cache.Lookup(suite.ctx, "2001:db8::1")
	suite.NoError(err)

	suite.Equal("2001:db8::1", first.IP)
	suite.Equal(geolib.Unknown, first.CountryCode)
	suite.Equal(geolib.Unknown, first.CountryName)
	suite.Equal(first, second)
}

func (suite *LookupCacheTestSuite) TestNotFoundIsCached() {
	suite.onLookup("10.0.0.1", geolib.ProviderRecord{}, geolib.ErrNotFound).Once()

	first, err := suite.cache.Lookup(suite.ctx, "10.0.0.1")

	suite.NoError(err)
	suite.False(first.OK())
	suite.True(first.NotFound())
	suite.Equal("10.0.0.1", first.IP)
	suite.Equal(geolib.Unknown, first.CountryCode)
	suite.Equal(geolib.Unknown, first.City)
	suite.NotEmpty(first.Error)

	second, err := suite.cache.Lookup(suite.ctx, "10.0.0.1")

	suite.NoError(err)
	suite.Equal(first, second)
}

func (suite *LookupCacheTestSuite) TestFailureIsNotCached() {
	suite.onLookup("9.9.9.9", geolib.ProviderRecord{}, io.EOF).Twice()

	_, err := suite.cache.Lookup(suite.ctx, "9.9.9.9")

	suite.ErrorIs(err, geolib.ErrLookupFailed)
	suite.ErrorIs(err, io.EOF)

	_, err = suite.cache.Lookup(suite.ctx, "9.9.9.9")

	suite.ErrorIs(err, geolib.ErrLookupFailed)
	suite.Equal(0, suite.cache.Stats().AddressEntries)
	suite.logMock.AssertCalled(suite.T(), "LookupError", "9.9.9.9", "mock", mock.Anything)
}

func (suite *LookupCacheTestSuite) TestConcurrentLookupsQueryOnce() {
	suite.onLookup("77.88.8.8", geolib.ProviderRecord{CountryCode: "RU"}, nil).
		After(100 * time.Millisecond).
		Once()

	wg := &sync.WaitGroup{}
	results := make([]geolib.Result, 20)
	errs := make([]error, 20)

	for i := range results {
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()

			results[idx], errs[idx] = suite.cache.Lookup(suite.ctx, "77.88.8.8")
		}(i)
	}

	wg.Wait()

	for i := range results {
		suite.NoError(errs[i])
		suite.Equal("RU", results[i].CountryCode)
	}

	suite.providerMock.AssertNumberOfCalls(suite.T(), "Lookup", 1)
}

// onBlockingLookup makes provider wait until its context is done.
// started is closed when provider is called, finished when it returns.
func (suite *LookupCacheTestSuite) onBlockingLookup(ip string) (chan struct{}, chan struct{}) {
	started := make(chan struct{})
	finished := make(chan struct{})

	suite.onLookup(ip, geolib.ProviderRecord{}, context.DeadlineExceeded).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
			close(finished)
		}).
		Once()

	return started, finished
}

func (suite *LookupCacheTestSuite) TestProviderTimeout() {
	started, finished := suite.onBlockingLookup("8.8.8.8")
	errChan := make(chan error, 1)

	go func() {
		_, err := suite.cache.Lookup(suite.ctx, "8.8.8.8")
		errChan <- err
	}()

	<-started
	suite.clock.Add(geolib.DefaultProviderTimeout + time.Second)

	select {
	case err := <-errChan:
		suite.ErrorIs(err, geolib.ErrLookupFailed)
		suite.ErrorIs(err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		suite.FailNow("lookup is not bounded by provider timeout")
	}

	<-finished

	suite.Equal(0, suite.cache.Stats().AddressEntries)
}

func (suite *LookupCacheTestSuite) TestCallerCancellation() {
	started, finished := suite.onBlockingLookup("8.8.8.8")
	ctx, cancel := context.WithCancel(suite.ctx)
	errChan := make(chan error, 1)

	go func() {
		_, err := suite.cache.Lookup(ctx, "8.8.8.8")
		errChan <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errChan:
		suite.ErrorIs(err, geolib.ErrLookupFailed)
		suite.ErrorIs(err, context.Canceled)
	case <-time.After(5 * time.Second):
		suite.FailNow("lookup ignores cancellation of a caller")
	}

	suite.clock.Add(geolib.DefaultProviderTimeout + time.Second)
	<-finished

	suite.Equal(0, suite.cache.Stats().AddressEntries)
}

func (suite *LookupCacheTestSuite) TestCancelledCallerDoesNotFailOthers() {
	started := make(chan struct{})

	suite.onLookup("8.8.8.8", geolib.ProviderRecord{CountryCode: "US"}, nil).
		Run(func(args mock.Arguments) {
			close(started)

			select {
			case <-args.Get(0).(context.Context).Done():
			case <-time.After(200 * time.Millisecond):
			}
		}).
		Once()

	ctx, cancel := context.WithCancel(suite.ctx)
	firstErr := make(chan error, 1)

	go func() {
		_, err := suite.cache.Lookup(ctx, "8.8.8.8")
		firstErr <- err
	}()

	<-started

	type lookupResult struct {
		result geolib.Result
		err    error
	}

	secondResult := make(chan lookupResult, 1)

	go func() {
		result, err := suite.cache.Lookup(context.Background(), "8.8.8.8")
		secondResult <- lookupResult{result: result, err: err}
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()

	suite.ErrorIs(<-firstErr, context.Canceled)

	res := <-secondResult

	suite.NoError(res.err)
	suite.Equal("US", res.result.CountryCode)

	result, err := suite.cache.Lookup(suite.ctx, "8.8.8.8")

	suite.NoError(err)
	suite.Equal("US", result.CountryCode)
	suite.providerMock.AssertNumberOfCalls(suite.T(), "Lookup", 1)
}

func (suite *LookupCacheTestSuite) TestInvalidate() {
	suite.onLookup("8.8.8.8", geolib.ProviderRecord{}, nil).Twice()

	_, err := suite.cache.Lookup(suite.ctx, "8.8.8.8")
	suite.NoError(err)

	suite.NoError(suite.cache.Invalidate("8.8.8.8"))
	suite.ErrorIs(suite.cache.Invalidate("garbage"), geolib.ErrInvalidAddress)

	_, err = suite.cache.Lookup(suite.ctx, "8.8.8.8")
	suite.NoError(err)
}

func (suite *LookupCacheTestSuite) TestDatasetUpdated() {
	suite.onLookup("8.8.8.8", geolib.ProviderRecord{}, nil).Twice()

	_, err := suite.cache.Lookup(suite.ctx, "8.8.8.8")
	suite.NoError(err)

	suite.cache.DatasetUpdated()

	suite.Equal(0, suite.cache.Stats().Entries)

	_, err = suite.cache.Lookup(suite.ctx, "8.8.8.8")
	suite.NoError(err)
	suite.logMock.AssertCalled(suite.T(), "UpdateInfo", "mock", mock.Anything)
}

func (suite *LookupCacheTestSuite) TestShutdown() {
	suite.cache.Shutdown()
	suite.cache.Shutdown()

	_, err := suite.cache.Lookup(suite.ctx, "8.8.8.8")
	suite.ErrorIs(err, geolib.ErrCacheShutdown)

	_, err = suite.cache.LookupBatch(suite.ctx, []string{"8.8.8.8"})
	suite.ErrorIs(err, geolib.ErrCacheShutdown)
}

func (suite *LookupCacheTestSuite) TestBatchInvalidRequests() {
	testData := map[string][]string{
		"nil":       nil,
		"empty":     {},
		"blanks":    {"", "  ", "\t"},
		"too-large": {"1.1.1.1", "1.1.1.2", "1.1.1.3", "1.1.1.4", "1.1.1.5", "1.1.1.6"},
	}

	for name, v := range testData {
		value := v

		suite.Run(name, func() {
			_, err := suite.cache.LookupBatch(suite.ctx, value)

			suite.ErrorIs(err, geolib.ErrInvalidRequest)
		})
	}

	suite.providerMock.AssertNotCalled(suite.T(), "Lookup", mock.Anything, mock.Anything)
}

func (suite *LookupCacheTestSuite) TestBatchOrderAndDuplicates() {
	suite.onLookup("1.1.1.1", geolib.ProviderRecord{CountryCode: "AU"}, nil).Once()
	suite.onLookup("8.8.8.8", geolib.ProviderRecord{CountryCode: "US"}, nil).Once()
	suite.onLookup("10.0.0.1", geolib.ProviderRecord{}, geolib.ErrNotFound).Once()

	items, err := suite.cache.LookupBatch(suite.ctx, []string{
		" 8.8.8.8",
		"",
		"garbage",
		"1.1.1.1",
		"8.8.8.8",
	})

	suite.NoError(err)
	suite.Len(items, 4)

	suite.Equal("8.8.8.8", items[0].Input)
	suite.Equal("US", items[0].Result.CountryCode)
	suite.NoError(items[0].Err)

	suite.Equal("garbage", items[1].Input)
	suite.ErrorIs(items[1].Err, geolib.ErrInvalidAddress)
	suite.False(items[1].Result.OK())
	suite.Equal("garbage", items[1].Result.IP)
	suite.Equal(geolib.Unknown, items[1].Result.CountryCode)

	suite.Equal("1.1.1.1", items[2].Input)
	suite.Equal("AU", items[2].Result.CountryCode)

	suite.Equal(items[0].Result, items[3].Result)

	items, err = suite.cache.LookupBatch(suite.ctx, []string{"10.0.0.1"})

	suite.NoError(err)
	suite.Len(items, 1)
	suite.NoError(items[0].Err)
	suite.True(items[0].Result.NotFound())
}

func (suite *LookupCacheTestSuite) TestBatchIsCachedRegardlessOfOrder() {
	suite.onLookup("1.1.1.1", geolib.ProviderRecord{CountryCode: "AU"}, nil).Once()
	suite.onLookup("8.8.8.8", geolib.ProviderRecord{CountryCode: "US"}, nil).Once()

	first, err := suite.cache.LookupBatch(suite.ctx, []string{"1.1.1.1", "8.8.8.8"})
	suite.NoError(err)

	second, err := suite.cache.LookupBatch(suite.ctx, []string{"8.8.8.8", "1.1.1.1"})
	suite.NoError(err)

	suite.Equal(first[0], second[1])
	suite.Equal(first[1], second[0])

	stats := suite.cache.Stats()

	suite.EqualValues(1, stats.BatchHits)
	suite.EqualValues(1, stats.BatchMisses)
	suite.Equal(1, stats.BatchEntries)
	suite.Equal(2, stats.AddressEntries)
}

func (suite *LookupCacheTestSuite) TestBatchKeyKeepsDuplicates() {
	suite.onLookup("1.1.1.1", geolib.ProviderRecord{CountryCode: "AU"}, nil).Once()

	first, err := suite.cache.LookupBatch(suite.ctx, []string{"1.1.1.1", "1.1.1.1"})
	suite.NoError(err)
	suite.Len(first, 2)

	second, err := suite.cache.LookupBatch(suite.ctx, []string{"1.1.1.1"})
	suite.NoError(err)
	suite.Len(second, 1)

	third, err := suite.cache.LookupBatch(suite.ctx, []string{" 1.1.1.1", "1.1.1.1 "})
	suite.NoError(err)
	suite.Len(third, 2)

	stats := suite.cache.Stats()

	suite.EqualValues(1, stats.BatchHits)
	suite.EqualValues(2, stats.BatchMisses)
	suite.Equal(2, stats.BatchEntries)
	suite.Equal(1, stats.AddressEntries)
}

func (suite *LookupCacheTestSuite) TestBatchUsesAddressCache() {
	suite.onLookup("1.1.1.1", geolib.ProviderRecord{CountryCode: "AU"}, nil).Once()
	suite.onLookup("8.8.8.8", geolib.ProviderRecord{CountryCode: "US"}, nil).Once()

	_, err := suite.cache.Lookup(suite.ctx, "1.1.1.1")
	suite.NoError(err)

	items, err := suite.cache.LookupBatch(suite.ctx, []string{"1.1.1.1", "8.8.8.8"})

	suite.NoError(err)
	suite.Equal("AU", items[0].Result.CountryCode)
	suite.Equal("US", items[1].Result.CountryCode)

	result, err := suite.cache.Lookup(suite.ctx, "8.8.8.8")

	suite.NoError(err)
	suite.Equal(items[1].Result, result)
}

func (suite *LookupCacheTestSuite) TestBatchExpires() {
	suite.onLookup("1.1.1.1", geolib.ProviderRecord{CountryCode: "AU"}, nil).Twice()

	_, err := suite.cache.LookupBatch(suite.ctx, []string{"1.1.1.1"})
	suite.NoError(err)

	suite.clock.Add(time.Hour)

	_, err = suite.cache.LookupBatch(suite.ctx, []string{"1.1.1.1"})
	suite.NoError(err)

	suite.EqualValues(2, suite.cache.Stats().BatchMisses)
}

func (suite *LookupCacheTestSuite) TestBatchWithFailureIsNotCached() {
	suite.onLookup("1.1.1.1", geolib.ProviderRecord{CountryCode: "AU"}, nil).Once()
	suite.onLookup("9.9.9.9", geolib.ProviderRecord{}, io.EOF).Twice()

	items, err := suite.cache.LookupBatch(suite.ctx, []string{"1.1.1.1", "9.9.9.9"})

	suite.NoError(err)
	suite.NoError(items[0].Err)
	suite.ErrorIs(items[1].Err, geolib.ErrLookupFailed)
	suite.False(items[1].Result.OK())
	suite.Equal("9.9.9.9", items[1].Result.IP)

	items, err = suite.cache.LookupBatch(suite.ctx, []string{"9.9.9.9", "1.1.1.1"})

	suite.NoError(err)
	suite.ErrorIs(items[0].Err, geolib.ErrLookupFailed)
	suite.Equal("AU", items[1].Result.CountryCode)
	suite.Equal(0, suite.cache.Stats().BatchEntries)
}

func (suite *LookupCacheTestSuite) TestInvalidateDropsBatches() {
	suite.onLookup("1.1.1.1", geolib.ProviderRecord{CountryCode: "AU"}, nil).Twice()

	_, err := suite.cache.LookupBatch(suite.ctx, []string{"1.1.1.1"})
	suite.NoError(err)

	suite.NoError(suite.cache.Invalidate("1.1.1.1"))

	_, err = suite.cache.LookupBatch(suite.ctx, []string{"1.1.1.1"})
	suite.NoError(err)
}

func TestLookupCache(t *testing.T) {
	suite.Run(t, &LookupCacheTestSuite{})
}
