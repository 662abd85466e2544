package render

import "sync/atomic"

// 文档注释：最近一次成功渲染图的持有者
// 背景：通过 atomic.Value 无锁读写，刷新协程写入、查询路径读取互不阻塞
// 约束：从未渲染时 Get 返回 nil，查询层据此返回未找到
type Holder struct {
	v atomic.Value
}

func (h *Holder) Set(png []byte) { h.v.Store(png) }

func (h *Holder) Get() []byte {
	if x := h.v.Load(); x != nil {
		return x.([]byte)
	}
	return nil
}
