package model

import (
	"bytes"
	"encoding/json"
)

// Optional 区分 "字段缺失" 与 "显式 null/空值"。
// JSON 中缺失的键保持 Set=false；出现的键（包括 null）Set=true，
// 显式 null 另外置 Null=true，不可空字段据此拒绝。
type Optional[T any] struct {
	Value T
	Set   bool
	Null  bool
}

// Some 构造已设置的值
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// Get 返回值及是否设置
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Set
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	o.Null = false
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		o.Value = zero
		o.Null = true
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set || o.Null {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}
