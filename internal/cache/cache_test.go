package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(v float64) *float64 { return &v }

func sample() []Country {
	return []Country{
		{Name: "Brazil", Region: "Americas", CurrencyCode: "BRL", Population: 212559417, ExchangeRate: fp(5.2), EstimatedGDP: fp(10)},
		{Name: "Nigeria", Region: "Africa", CurrencyCode: "NGN", Population: 206139589},
		{Name: "Ghana", Region: "Africa", CurrencyCode: "GHS", Population: 31072940, ExchangeRate: fp(15.3), EstimatedGDP: fp(30)},
		{Name: "Japan", Region: "Asia", CurrencyCode: "JPY", Population: 125836021, ExchangeRate: fp(151.4), EstimatedGDP: fp(5)},
	}
}

func TestGetCaseInsensitive(t *testing.T) {
	s := New()
	s.Replace(sample(), time.Now())
	for _, name := range []string{"brazil", "Brazil", "BRAZIL"} {
		e, err := s.Get(name)
		require.NoError(t, err, name)
		assert.Equal(t, "Brazil", e.Name)
	}
	_, err := s.Get("atlantis")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFilters(t *testing.T) {
	s := New()
	s.Replace(sample(), time.Now())

	out, err := s.List(Filter{Region: "Africa"}, "")
	require.NoError(t, err)
	assert.Len(t, out, 2)

	// Region 大小写敏感
	out, err = s.List(Filter{Region: "africa"}, "")
	require.NoError(t, err)
	assert.Empty(t, out)

	// Currency 不区分大小写
	out, err = s.List(Filter{Currency: "ngn"}, "")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Nigeria", out[0].Name)

	// 组合过滤
	out, err = s.List(Filter{Region: "Africa", Currency: "NGN"}, "")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Nigeria", out[0].Name)
}

func TestListSorts(t *testing.T) {
	s := New()
	s.Replace(sample(), time.Now())

	names := func(list []Country) []string {
		out := make([]string, len(list))
		for i, e := range list {
			out[i] = e.Name
		}
		return out
	}

	out, err := s.List(Filter{}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Brazil", "Ghana", "Japan", "Nigeria"}, names(out))

	out, err = s.List(Filter{}, SortNameDesc)
	require.NoError(t, err)
	assert.Equal(t, []string{"Nigeria", "Japan", "Ghana", "Brazil"}, names(out))

	// 估值 [10, nil, 30, 5]：降序为 [30, 10, 5, nil]，无估值恒排最后
	out, err = s.List(Filter{}, SortGDPDesc)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ghana", "Brazil", "Japan", "Nigeria"}, names(out))

	out, err = s.List(Filter{}, SortGDPAsc)
	require.NoError(t, err)
	assert.Equal(t, []string{"Japan", "Brazil", "Ghana", "Nigeria"}, names(out))

	_, err = s.List(Filter{}, "gdp")
	assert.ErrorIs(t, err, ErrBadSort)
}

func TestDeleteAndStatus(t *testing.T) {
	s := New()
	total, at := s.Status()
	assert.Zero(t, total)
	assert.Nil(t, at)

	now := time.Now()
	s.Replace(sample(), now)
	total, at = s.Status()
	assert.Equal(t, 4, total)
	require.NotNil(t, at)

	require.NoError(t, s.Delete("NIGERIA"))
	total, at2 := s.Status()
	assert.Equal(t, 3, total)
	// 删除不改变刷新时间
	assert.Equal(t, at, at2)

	_, err := s.Get("nigeria")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete("nigeria"), ErrNotFound)
}

func TestReplaceDedupesByKey(t *testing.T) {
	s := New()
	s.Replace([]Country{
		{Name: "Chad", Population: 1},
		{Name: "CHAD", Population: 2},
	}, time.Now())
	total, _ := s.Status()
	assert.Equal(t, 1, total)
	e, err := s.Get("chad")
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Population)
}

func TestReplaceVersionBumps(t *testing.T) {
	s := New()
	v0 := s.Version()
	s.Replace(sample(), time.Now())
	v1 := s.Version()
	assert.Greater(t, v1, v0)
	require.NoError(t, s.Delete("japan"))
	assert.Greater(t, s.Version(), v1)
}

// 并发替换期间读者不得观察到新旧两轮实体混排：以 Region 字段标记轮次并校验单一性
func TestReplaceAtomicUnderConcurrentReads(t *testing.T) {
	s := New()
	mk := func(tag string) []Country {
		return []Country{
			{Name: "A", Region: tag},
			{Name: "B", Region: tag},
			{Name: "C", Region: tag},
		}
	}
	s.Replace(mk("cycle-0"), time.Now())

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				list, err := s.List(Filter{}, "")
				if err != nil || len(list) == 0 {
					continue
				}
				tag := list[0].Region
				for _, e := range list {
					if e.Region != tag {
						t.Errorf("torn snapshot: %s vs %s", tag, e.Region)
						return
					}
				}
			}
		}()
	}
	for i := 1; i <= 200; i++ {
		if i%2 == 0 {
			s.Replace(mk("cycle-even"), time.Now())
		} else {
			s.Replace(mk("cycle-odd"), time.Now())
		}
	}
	close(done)
	wg.Wait()
}
