package gateway

import (
	"fmt"
	"net/http"
	"sort"
)

// normalizeHeaders 将沙箱输出的任意嵌套或扁平头表示
// 规范化为扁平的 名称→值 映射。
//
// 这是沙箱引擎输出合同的一部分，至少接受两种形状：
//   - 扁平：{"content-type": "text/html"}
//   - 嵌套：{"set-cookie": {"0": "a=1", "1": "b=2"}}，
//     值位置是一个带键的子值集合，取（按键排序后的）第一个子值作为有效值
//
// 其他意外形状尽力转换为字符串，而非使请求失败。
func normalizeHeaders(raw map[string]interface{}) http.Header {
	h := http.Header{}
	for name, value := range raw {
		switch v := value.(type) {
		case nil:
			// 跳过空值
		case string:
			h.Set(name, v)
		case map[string]interface{}:
			if s, ok := firstSubValue(v); ok {
				h.Set(name, s)
			}
		case []interface{}:
			// 值列表：逐个追加，保持列表顺序
			for _, item := range v {
				if s, ok := item.(string); ok {
					h.Add(name, s)
				} else {
					h.Add(name, fmt.Sprint(item))
				}
			}
		default:
			// 数字、布尔等标量，转为其文本表示
			h.Set(name, fmt.Sprint(v))
		}
	}
	return h
}

// firstSubValue 从嵌套头的子值集合中取第一个子值。
// Go 的 map 无序，按键排序保证选取确定。
func firstSubValue(sub map[string]interface{}) (string, bool) {
	if len(sub) == 0 {
		return "", false
	}
	keys := make([]string, 0, len(sub))
	for k := range sub {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	first := sub[keys[0]]
	if s, ok := first.(string); ok {
		return s, true
	}
	return fmt.Sprint(first), true
}
