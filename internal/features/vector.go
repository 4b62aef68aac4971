package features

// Vector 有序特征向量（每次推理请求新建，不落库，不跨设备复用）
// 条目数恰好为 2N：每个基础特征 f 后紧跟 f_present
type Vector struct {
	keys   []string
	values map[string]float64
}

// NewVector 创建空向量
func NewVector(capacity int) *Vector {
	return &Vector{
		keys:   make([]string, 0, capacity),
		values: make(map[string]float64, capacity),
	}
}

// Append 追加一个条目（保持插入顺序）
func (v *Vector) Append(key string, value float64) {
	if _, exists := v.values[key]; !exists {
		v.keys = append(v.keys, key)
	}
	v.values[key] = value
}

// Keys 返回按插入顺序排列的键列表
func (v *Vector) Keys() []string {
	return v.keys
}

// Get 按键取值
func (v *Vector) Get(key string) (float64, bool) {
	value, ok := v.values[key]
	return value, ok
}

// Len 条目数
func (v *Vector) Len() int {
	return len(v.keys)
}

// ToMap 导出为 map（传给 Scorer 的特征负载）
func (v *Vector) ToMap() map[string]float64 {
	out := make(map[string]float64, len(v.keys))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}
