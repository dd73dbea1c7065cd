// Package revision 实现零件修订号的base-26序列。
//
// 修订号为大写字母序列：A, B, ..., Z, AA, AB, ..., AZ, BA, ..., ZZ, AAA。
// 排序规则：短的排在长的前面，等长按字典序（"Z" < "AA"）。
package revision

import (
	"github.com/holee9/plm-system-web-sub001/internal/plm/apperror"
)

// Validate 检查修订号格式：非空且仅由大写字母组成
func Validate(code string) bool {
	if code == "" {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

// Next 返回下一个修订号。current为空表示首个修订，返回"A"。
func Next(current string) (string, error) {
	if current == "" {
		return "A", nil
	}
	if !Validate(current) {
		return "", apperror.Validationf("invalid revision code %q", current)
	}

	// 逐位进位：Z -> AA，AZ -> BA，ZZ -> AAA
	buf := []byte(current)
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i] < 'Z' {
			buf[i]++
			return string(buf), nil
		}
		buf[i] = 'A'
	}
	return "A" + string(buf), nil
}

// Previous 返回上一个修订号。Previous("A")返回空串表示没有前驱。
func Previous(current string) (string, error) {
	if !Validate(current) {
		return "", apperror.Validationf("invalid revision code %q", current)
	}

	buf := []byte(current)
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i] > 'A' {
			buf[i]--
			return string(buf), nil
		}
		buf[i] = 'Z'
	}
	// 全部借位：AA -> Z，A -> 空
	return string(buf[1:]), nil
}

// Compare 比较两个修订号的先后：-1、0、1
func Compare(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
