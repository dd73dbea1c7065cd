// Package bomgraph 在内存中的零件/边集合上实现BOM图算法。
//
// 包本身不做任何I/O：零件摘要与边列表由调用方提供。
// 边集合视为以零件ID为节点的有向图（父 -> 子），处理的是一般DAG而非树，
// 同一零件可经多条路径到达（菱形结构）。
package bomgraph

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/holee9/plm-system-web-sub001/internal/plm/apperror"
)

// DefaultMaxDepth 树展开的默认最大深度
const DefaultMaxDepth = 20

// PartRef 调用方提供的零件摘要
type PartRef struct {
	ID         string `json:"id"`
	PartNumber string `json:"part_number"`
	Name       string `json:"name"`
}

// Edge 父子关系边
type Edge struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	ChildID  string `json:"child_id"`
	Quantity string `json:"quantity"`
	Unit     string `json:"unit"`
	Position int    `json:"position"`
	Notes    string `json:"notes,omitempty"`
}

// TreeNode BOM树节点（派生结构，不落库）
type TreeNode struct {
	PartID     string      `json:"part_id"`
	PartNumber string      `json:"part_number"`
	Name       string      `json:"name"`
	Quantity   string      `json:"quantity"`
	Unit       string      `json:"unit"`
	Position   int         `json:"position"`
	Notes      string      `json:"notes,omitempty"`
	Level      int         `json:"level"`
	Path       string      `json:"path"`
	Children   []*TreeNode `json:"children,omitempty"`
}

// FlatItem 展平后的BOM行
type FlatItem struct {
	PartID     string `json:"part_id"`
	PartNumber string `json:"part_number"`
	Name       string `json:"name"`
	Quantity   string `json:"quantity"`
	Unit       string `json:"unit"`
	Level      int    `json:"level"`
	Path       string `json:"path"`
}

// ValidationResult Validate的聚合结果
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// buildAdjacency 构建 父ID -> 出边 的索引，边按position升序，
// 相同position保持插入顺序。
func buildAdjacency(edges []Edge) map[string][]Edge {
	adj := make(map[string][]Edge, len(edges))
	for _, e := range edges {
		adj[e.ParentID] = append(adj[e.ParentID], e)
	}
	for parent := range adj {
		children := adj[parent]
		sort.SliceStable(children, func(i, j int) bool {
			return children[i].Position < children[j].Position
		})
		adj[parent] = children
	}
	return adj
}

// DetectCycle 判断新增 parentID -> childID 的边是否会引入环。
//
// 自环恒为true；否则从childID沿既有边向下搜索，能到达parentID即成环。
// 对不连通和空图均为O(V+E)。
func DetectCycle(edges []Edge, parentID, childID string) bool {
	if parentID == childID {
		return true
	}

	adj := make(map[string][]string, len(edges))
	for _, e := range edges {
		adj[e.ParentID] = append(adj[e.ParentID], e.ChildID)
	}

	visited := make(map[string]bool)
	stack := []string{childID}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == parentID {
			return true
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		stack = append(stack, adj[current]...)
	}
	return false
}

// BuildTree 从rootID展开BOM树。
//
// 子节点按position升序排列，数量/单位/位置/备注取自入边；
// 根节点数量固定为"1"、单位"EA"。maxDepth<=0 时使用DefaultMaxDepth。
// 超深返回错误；当前路径上重复出现同一零件返回环错误（独立于DetectCycle
// 的兜底检查）；rootID或任一子零件缺失返回不存在错误。
func BuildTree(rootID string, parts map[string]PartRef, edges []Edge, maxDepth int) (*TreeNode, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	rootPart, ok := parts[rootID]
	if !ok {
		return nil, apperror.NotFound("part", rootID)
	}

	adj := buildAdjacency(edges)
	onPath := map[string]bool{rootID: true}

	root := &TreeNode{
		PartID:     rootPart.ID,
		PartNumber: rootPart.PartNumber,
		Name:       rootPart.Name,
		Quantity:   "1",
		Unit:       "EA",
		Level:      0,
		Path:       rootPart.PartNumber,
	}

	if err := expand(root, parts, adj, onPath, maxDepth); err != nil {
		return nil, err
	}
	return root, nil
}

func expand(node *TreeNode, parts map[string]PartRef, adj map[string][]Edge, onPath map[string]bool, maxDepth int) error {
	for _, edge := range adj[node.PartID] {
		if node.Level+1 > maxDepth {
			return apperror.Validationf("BOM tree exceeds maximum depth %d at %s", maxDepth, node.Path)
		}
		childPart, ok := parts[edge.ChildID]
		if !ok {
			return apperror.NotFound("part", edge.ChildID)
		}
		if onPath[edge.ChildID] {
			return apperror.Cyclef("cycle detected: %s already on path %s", childPart.PartNumber, node.Path)
		}

		child := &TreeNode{
			PartID:     childPart.ID,
			PartNumber: childPart.PartNumber,
			Name:       childPart.Name,
			Quantity:   edge.Quantity,
			Unit:       edge.Unit,
			Position:   edge.Position,
			Notes:      edge.Notes,
			Level:      node.Level + 1,
			Path:       node.Path + " > " + childPart.PartNumber,
		}

		onPath[edge.ChildID] = true
		if err := expand(child, parts, adj, onPath, maxDepth); err != nil {
			return err
		}
		delete(onPath, edge.ChildID)

		node.Children = append(node.Children, child)
	}
	return nil
}

// Flatten 先序遍历，每个节点产出一行
func Flatten(tree *TreeNode) []FlatItem {
	if tree == nil {
		return nil
	}
	items := make([]FlatItem, 0, 16)
	var walk func(node *TreeNode)
	walk = func(node *TreeNode) {
		items = append(items, FlatItem{
			PartID:     node.PartID,
			PartNumber: node.PartNumber,
			Name:       node.Name,
			Quantity:   node.Quantity,
			Unit:       node.Unit,
			Level:      node.Level,
			Path:       node.Path,
		})
		for _, child := range node.Children {
			walk(child)
		}
	}
	walk(tree)
	return items
}

// TotalQuantity 对树中targetPartID的每次出现，累加根到该节点路径上
// 数量的乘积（菱形结构跨路径相加）。数量用精确十进制运算，避免深链漂移。
func TotalQuantity(tree *TreeNode, targetPartID string) (string, error) {
	if tree == nil {
		return "0", nil
	}

	total := decimal.Zero
	var walk func(node *TreeNode, acc decimal.Decimal) error
	walk = func(node *TreeNode, acc decimal.Decimal) error {
		if node.PartID == targetPartID {
			total = total.Add(acc)
		}
		for _, child := range node.Children {
			qty, err := decimal.NewFromString(child.Quantity)
			if err != nil {
				return apperror.Validationf("invalid quantity %q on %s", child.Quantity, child.Path)
			}
			if err := walk(child, acc.Mul(qty)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(tree, decimal.NewFromInt(1)); err != nil {
		return "", err
	}
	return total.String(), nil
}

// WhereUsed 反查：返回所有以partID为子件的边的父ID。
// 同一父件的多条边会重复出现，需要去重时由调用方处理。
func WhereUsed(partID string, edges []Edge) []string {
	var parents []string
	for _, e := range edges {
		if e.ChildID == partID {
			parents = append(parents, e.ParentID)
		}
	}
	return parents
}

// Validate BuildTree的不抛错版本：收集全部错误而不是遇错即停。
func Validate(rootID string, parts map[string]PartRef, edges []Edge, maxDepth int) ValidationResult {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	result := ValidationResult{Valid: true}
	addError := func(format string, args ...interface{}) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	rootPart, ok := parts[rootID]
	if !ok {
		addError("root part not found: %s", rootID)
		return result
	}

	adj := buildAdjacency(edges)
	onPath := map[string]bool{rootID: true}

	var walk func(partID, path string, level int)
	walk = func(partID, path string, level int) {
		for _, edge := range adj[partID] {
			if level+1 > maxDepth {
				addError("depth exceeds %d at %s", maxDepth, path)
				continue
			}
			childPart, ok := parts[edge.ChildID]
			if !ok {
				addError("part not found: %s (referenced under %s)", edge.ChildID, path)
				continue
			}
			if onPath[edge.ChildID] {
				addError("cycle detected: %s already on path %s", childPart.PartNumber, path)
				continue
			}
			if _, err := decimal.NewFromString(edge.Quantity); err != nil {
				addError("invalid quantity %q on edge %s -> %s", edge.Quantity, path, childPart.PartNumber)
			}

			onPath[edge.ChildID] = true
			walk(edge.ChildID, path+" > "+childPart.PartNumber, level+1)
			delete(onPath, edge.ChildID)
		}
	}
	walk(rootID, rootPart.PartNumber, 0)

	return result
}
