package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

type CacheTestSuite struct {
	suite.Suite
	mock  redismock.ClientMock
	cache Cache
	links *LinkStore
}

func (s *CacheTestSuite) SetupTest() {
	db, mock := redismock.NewClientMock()
	s.mock = mock
	client := NewClientFromUniversal(db, logging.NewNopLogger())
	s.cache = NewRedisCache(client, nil, WithPrefix("test:"), WithoutJitter())
	s.links = NewLinkStore(s.cache)
}

func (s *CacheTestSuite) TearDownTest() {
	assert.NoError(s.T(), s.mock.ExpectationsWereMet())
}

func amoxicillinLink() medical.LinkResult {
	return medical.LinkResult{
		InputText:  "Amoxicilin",
		Normalized: "Amoxicillin",
		EntityType: medical.EntityMedication,
		Confidence: 0.91,
		Method:     medical.LinkFuzzy,
	}
}

func (s *CacheTestSuite) TestGet_CacheHit() {
	want := amoxicillinLink()
	data, _ := json.Marshal(want)
	s.mock.ExpectGet("test:k1").SetVal(string(data))

	var got medical.LinkResult
	require.NoError(s.T(), s.cache.Get(context.Background(), "k1", &got))
	assert.Equal(s.T(), want, got)
}

func (s *CacheTestSuite) TestGet_CacheMiss() {
	s.mock.ExpectGet("test:k1").RedisNil()

	var got medical.LinkResult
	err := s.cache.Get(context.Background(), "k1", &got)
	assert.Equal(s.T(), ErrCacheMiss, err)
}

func (s *CacheTestSuite) TestGet_BackendError() {
	s.mock.ExpectGet("test:k1").SetErr(stderrors.New("connection reset"))

	var got medical.LinkResult
	err := s.cache.Get(context.Background(), "k1", &got)
	assert.True(s.T(), pkgerrors.IsCode(err, pkgerrors.ErrCodeCacheError))
}

func (s *CacheTestSuite) TestGet_CorruptValue() {
	s.mock.ExpectGet("test:k1").SetVal("{not json")

	var got medical.LinkResult
	err := s.cache.Get(context.Background(), "k1", &got)
	assert.True(s.T(), pkgerrors.IsCode(err, pkgerrors.ErrCodeSerialization))
}

func (s *CacheTestSuite) TestSet_DefaultTTL() {
	data, _ := json.Marshal(map[string]int{"n": 1})
	s.mock.ExpectSet("test:k1", data, time.Hour).SetVal("OK")

	assert.NoError(s.T(), s.cache.Set(context.Background(), "k1", map[string]int{"n": 1}, 0))
}

func (s *CacheTestSuite) TestDelete() {
	s.mock.ExpectDel("test:k1", "test:k2").SetVal(2)
	assert.NoError(s.T(), s.cache.Delete(context.Background(), "k1", "k2"))
	assert.NoError(s.T(), s.cache.Delete(context.Background()))
}

func (s *CacheTestSuite) TestExists() {
	s.mock.ExpectExists("test:k1").SetVal(1)

	ok, err := s.cache.Exists(context.Background(), "k1")
	assert.NoError(s.T(), err)
	assert.True(s.T(), ok)
}

func (s *CacheTestSuite) TestLinkStore_RoundTrip() {
	want := amoxicillinLink()
	data, _ := json.Marshal(want)
	s.mock.ExpectSet("test:link:abc", data, 10*time.Minute).SetVal("OK")
	s.mock.ExpectGet("test:link:abc").SetVal(string(data))

	ctx := context.Background()
	require.NoError(s.T(), s.links.SetLink(ctx, "abc", want, 10*time.Minute))

	got, ok, err := s.links.GetLink(ctx, "abc")
	require.NoError(s.T(), err)
	assert.True(s.T(), ok)
	assert.Equal(s.T(), want, got)
}

func (s *CacheTestSuite) TestLinkStore_MissIsNotAnError() {
	s.mock.ExpectGet("test:link:abc").RedisNil()

	_, ok, err := s.links.GetLink(context.Background(), "abc")
	assert.NoError(s.T(), err)
	assert.False(s.T(), ok)
}

func (s *CacheTestSuite) TestLinkStore_Purge() {
	s.mock.ExpectScan(0, "test:link:*", 100).SetVal([]string{"test:link:a", "test:link:b"}, 7)
	s.mock.ExpectDel("test:link:a", "test:link:b").SetVal(2)
	s.mock.ExpectScan(7, "test:link:*", 100).SetVal([]string{"test:link:c"}, 0)
	s.mock.ExpectDel("test:link:c").SetVal(1)

	n, err := s.links.Purge(context.Background())
	assert.NoError(s.T(), err)
	assert.Equal(s.T(), int64(3), n)
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}
