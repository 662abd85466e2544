// 包 cache：进程内国家快照缓存，提供原子整体替换与无锁读路径
package cache

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Country：缓存实体，名称为唯一键（查找与删除时不区分大小写）
// 约束：ExchangeRate/EstimatedGDP 在联结失败或原始字段缺失时保持为 nil，不丢弃实体
type Country struct {
	Name         string   `json:"name"`
	Capital      string   `json:"capital,omitempty"`
	Region       string   `json:"region,omitempty"`
	Population   int64    `json:"population"`
	CurrencyCode string   `json:"currency_code,omitempty"`
	ExchangeRate *float64 `json:"exchange_rate"`
	EstimatedGDP *float64 `json:"estimated_gdp"`
	FlagURL      string   `json:"flag_url,omitempty"`
}

// Key：实体的规范化键（小写名称），缓存与数据库共用同一规则
func Key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// 排序选项：未知取值由 List 返回 ErrBadSort，API 层应先行校验
const (
	SortNameAsc  = "name_asc"
	SortNameDesc = "name_desc"
	SortGDPAsc   = "gdp_asc"
	SortGDPDesc  = "gdp_desc"
)

var (
	ErrNotFound = errors.New("country not found")
	ErrBadSort  = errors.New("unknown sort")
)

// ValidSort：校验排序取值；空串表示默认（名称升序）
func ValidSort(s string) bool {
	switch s {
	case "", SortNameAsc, SortNameDesc, SortGDPAsc, SortGDPDesc:
		return true
	}
	return false
}

// Filter：列表查询过滤条件
// 约束：Region 为大小写敏感精确匹配（对齐上游字段语义）；Currency 不区分大小写
type Filter struct {
	Region   string
	Currency string
}

// snapshot：一次刷新产出的不可变快照
// 背景：读路径只持有该结构的引用，替换通过 atomic.Value 整体切换，读者不会看到新旧混排
type snapshot struct {
	list        []Country
	byKey       map[string]int
	version     uint64
	refreshedAt *time.Time
}

// Store：快照持有者；写者（替换/删除）由互斥锁串行化，读者无锁
type Store struct {
	v   atomic.Value
	mu  sync.Mutex
	ver uint64
}

func New() *Store {
	s := &Store{}
	s.v.Store(&snapshot{byKey: map[string]int{}})
	return s
}

func (s *Store) load() *snapshot { return s.v.Load().(*snapshot) }

func buildSnapshot(entities []Country, ver uint64, at *time.Time) *snapshot {
	list := make([]Country, len(entities))
	copy(list, entities)
	sort.Slice(list, func(i, j int) bool { return Key(list[i].Name) < Key(list[j].Name) })
	byKey := make(map[string]int, len(list))
	for i := range list {
		byKey[Key(list[i].Name)] = i
	}
	return &snapshot{list: list, byKey: byKey, version: ver, refreshedAt: at}
}

// Replace：以新实体集整体替换当前快照并记录刷新时间
// 背景：刷新成功后的唯一写入口；输入被拷贝并按键排序，重名以后写为准
func (s *Store) Replace(entities []Country, refreshedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ver++
	at := refreshedAt
	s.v.Store(buildSnapshot(dedupe(entities), s.ver, &at))
}

// Restore：启动时从持久层回灌快照；刷新时间可能尚不存在
func (s *Store) Restore(entities []Country, refreshedAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ver++
	s.v.Store(buildSnapshot(dedupe(entities), s.ver, refreshedAt))
}

// dedupe：按键去重，后写覆盖先写，保证快照内名称唯一
func dedupe(entities []Country) []Country {
	idx := make(map[string]int, len(entities))
	out := make([]Country, 0, len(entities))
	for _, e := range entities {
		k := Key(e.Name)
		if k == "" {
			continue
		}
		if i, ok := idx[k]; ok {
			out[i] = e
			continue
		}
		idx[k] = len(out)
		out = append(out, e)
	}
	return out
}

// Get：按名称查找（不区分大小写）；未命中返回 ErrNotFound
func (s *Store) Get(name string) (Country, error) {
	sn := s.load()
	if i, ok := sn.byKey[Key(name)]; ok {
		return sn.list[i], nil
	}
	return Country{}, ErrNotFound
}

// List：过滤并排序当前快照
// 约束：无估值实体在 gdp_asc/gdp_desc 下均排在有估值实体之后；同档按名称升序保证确定性
func (s *Store) List(f Filter, sortBy string) ([]Country, error) {
	if !ValidSort(sortBy) {
		return nil, ErrBadSort
	}
	sn := s.load()
	out := make([]Country, 0, len(sn.list))
	cur := strings.ToUpper(f.Currency)
	for _, e := range sn.list {
		if f.Region != "" && e.Region != f.Region {
			continue
		}
		if cur != "" && strings.ToUpper(e.CurrencyCode) != cur {
			continue
		}
		out = append(out, e)
	}
	switch sortBy {
	case SortNameDesc:
		sort.Slice(out, func(i, j int) bool { return Key(out[i].Name) > Key(out[j].Name) })
	case SortGDPAsc:
		sortByGDP(out, true)
	case SortGDPDesc:
		sortByGDP(out, false)
	default:
		// 快照本身已按名称升序
	}
	return out, nil
}

func sortByGDP(list []Country, asc bool) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].EstimatedGDP, list[j].EstimatedGDP
		if a == nil && b == nil {
			return Key(list[i].Name) < Key(list[j].Name)
		}
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		if *a == *b {
			return Key(list[i].Name) < Key(list[j].Name)
		}
		if asc {
			return *a < *b
		}
		return *a > *b
	})
}

// Delete：按名称删除（不区分大小写）；写路径采用写时复制生成新快照
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn := s.load()
	k := Key(name)
	i, ok := sn.byKey[k]
	if !ok {
		return ErrNotFound
	}
	list := make([]Country, 0, len(sn.list)-1)
	list = append(list, sn.list[:i]...)
	list = append(list, sn.list[i+1:]...)
	s.ver++
	s.v.Store(buildSnapshot(list, s.ver, sn.refreshedAt))
	return nil
}

// Status：当前缓存数量与最近一次成功刷新时间（从未刷新时为 nil）
func (s *Store) Status() (int, *time.Time) {
	sn := s.load()
	return len(sn.list), sn.refreshedAt
}

// Version：快照版本号，用于外部响应缓存（如 Redis）键隔离
func (s *Store) Version() uint64 { return s.load().version }

// Snapshot：返回当前快照的实体切片（按名称升序）
// WARNING: 返回值与内部共享底层数组，调用方不得修改
func (s *Store) Snapshot() []Country { return s.load().list }
