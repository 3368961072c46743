package server

// FirstLevel 新房间的起始关卡
const FirstLevel = "one"

// levelOrder 关卡推进顺序，名称与客户端关卡定义一致（第 12 关在客户端中拼作 "tweleve"）
var levelOrder = []string{
	"one", "two", "three", "four", "five", "six", "seven",
	"eight", "nine", "ten", "eleven", "tweleve", "thirteen",
	"fourteen", "fifteen", "sixteen", "seventeen", "eighteen",
	"nineteen", "twenty",
}

// levelOverrides 特殊关卡跳转，优先于顺序表
var levelOverrides = map[string]string{
	"clancysTempLevel": "tempLevel",
	"tempName":         "tempLevel",
}

var levelIndex = func() map[string]int {
	idx := make(map[string]int, len(levelOrder))
	for i, name := range levelOrder {
		idx[name] = i
	}
	return idx
}()

// NextLevel 返回 current 之后的关卡：特殊表 → 顺序表（末尾回绕）→ 未知名称原样返回
func NextLevel(current string) string {
	if next, ok := levelOverrides[current]; ok {
		return next
	}
	if i, ok := levelIndex[current]; ok {
		return levelOrder[(i+1)%len(levelOrder)]
	}
	return current
}

// KnownLevel 报告关卡名是否出现在顺序表或特殊表中
func KnownLevel(name string) bool {
	if _, ok := levelIndex[name]; ok {
		return true
	}
	for from, to := range levelOverrides {
		if name == from || name == to {
			return true
		}
	}
	return false
}
