package tree

import (
	"fmt"
	"math/bits"
	"math/rand"
)

// SegmentTree 是一棵对固定数量非负权重求和的线段树。
// 支持单点更新，以及按前缀和偏移定位所属叶子，加权抽样只需要这些。
type SegmentTree struct {
	tree         []float64 // 共2*alignedSize个节点，根在下标1
	originalSize int
	alignedSize  int
}

// NewSegmentTree 创建一棵有size个叶子的空树。
func NewSegmentTree(size int) (*SegmentTree, error) {
	if size <= 0 {
		return nil, fmt.Errorf("树的大小必须为正数, 实际为 %d", size)
	}
	alignedSize := 1 << bits.Len(uint(size))
	return &SegmentTree{
		tree:         make([]float64, 2*alignedSize),
		originalSize: size,
		alignedSize:  alignedSize,
	}, nil
}

// Rebuild 一次性替换所有叶子的权重。
func (st *SegmentTree) Rebuild(weights []float64) error {
	if len(weights) != st.originalSize {
		return fmt.Errorf("权重数量 %d 与树的大小 %d 不符", len(weights), st.originalSize)
	}
	for i := 0; i < st.alignedSize; i++ {
		w := 0.0
		if i < st.originalSize {
			w = weights[i]
		}
		if w < 0 {
			return fmt.Errorf("权重 %d 为负数", i)
		}
		st.tree[st.alignedSize+i] = w
	}
	for i := st.alignedSize - 1; i > 0; i-- {
		st.tree[i] = st.tree[2*i] + st.tree[2*i+1]
	}
	return nil
}

// Update 设置index处的权重并更新到根的路径。
func (st *SegmentTree) Update(index int, value float64) error {
	if err := st.checkIndex(index); err != nil {
		return err
	}
	if value < 0 {
		return fmt.Errorf("权重 %d 为负数", index)
	}
	pos := st.alignedSize + index
	st.tree[pos] = value
	for pos > 1 {
		pos /= 2
		st.tree[pos] = st.tree[2*pos] + st.tree[2*pos+1]
	}
	return nil
}

// Find 返回累积区间 [prefix-w, prefix) 包含value的叶子。
// value必须位于 [0, TotalSum()) 内，权重为0的叶子永远不会被返回。
func (st *SegmentTree) Find(value float64) (int, error) {
	total := st.tree[1]
	if value < 0 || value >= total {
		return -1, fmt.Errorf("偏移 %f 超出范围 [0, %f)", value, total)
	}
	pos := 1
	for pos < st.alignedSize {
		left := 2 * pos
		if value < st.tree[left] {
			pos = left
		} else {
			value -= st.tree[left]
			pos = left + 1
		}
	}
	index := pos - st.alignedSize
	// 浮点误差可能越过最后一个正权重叶子
	if index >= st.originalSize || st.tree[pos] == 0 {
		return st.lastPositive()
	}
	return index, nil
}

// TotalSum 返回所有权重之和。
func (st *SegmentTree) TotalSum() float64 {
	return st.tree[1]
}

func (st *SegmentTree) lastPositive() (int, error) {
	for i := st.originalSize - 1; i >= 0; i-- {
		if st.tree[st.alignedSize+i] > 0 {
			return i, nil
		}
	}
	return -1, fmt.Errorf("树中没有正权重")
}

func (st *SegmentTree) checkIndex(index int) error {
	if index < 0 || index >= st.originalSize {
		return fmt.Errorf("索引 %d 超出范围 [0, %d)", index, st.originalSize)
	}
	return nil
}

// SampleWithoutReplacement 不放回地抽取k个不同下标，每次按剩余权重成比例抽取。
// 权重相等时即为均匀的k元子集。结果按抽取顺序排列，完全由rng决定。
func SampleWithoutReplacement(weights []float64, k int, rng *rand.Rand) ([]int, error) {
	if k < 0 || k > len(weights) {
		return nil, fmt.Errorf("无法从 %d 个中抽取 %d 个", len(weights), k)
	}
	if k == 0 {
		return []int{}, nil
	}
	st, err := NewSegmentTree(len(weights))
	if err != nil {
		return nil, err
	}
	if err := st.Rebuild(weights); err != nil {
		return nil, err
	}

	picked := make([]int, 0, k)
	for len(picked) < k {
		if st.TotalSum() <= 0 {
			return nil, fmt.Errorf("%d 次抽取中只有 %d 次有正权重", k, len(picked))
		}
		idx, err := st.Find(rng.Float64() * st.TotalSum())
		if err != nil {
			return nil, err
		}
		picked = append(picked, idx)
		if err := st.Update(idx, 0); err != nil {
			return nil, err
		}
	}
	return picked, nil
}
