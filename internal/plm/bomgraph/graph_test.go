package bomgraph

import (
	"errors"
	"strings"
	"testing"

	"github.com/holee9/plm-system-web-sub001/internal/plm/apperror"
)

func testParts(ids ...string) map[string]PartRef {
	parts := make(map[string]PartRef, len(ids))
	for _, id := range ids {
		parts[id] = PartRef{ID: id, PartNumber: "PN-" + id, Name: "Part " + id}
	}
	return parts
}

func TestDetectCycle(t *testing.T) {
	edges := []Edge{
		{ParentID: "a", ChildID: "b"},
		{ParentID: "b", ChildID: "c"},
	}

	if !DetectCycle(edges, "x", "x") {
		t.Error("self edge should be a cycle")
	}
	if !DetectCycle(edges, "c", "a") {
		t.Error("c -> a closes the chain a -> b -> c, should be a cycle")
	}
	if DetectCycle(edges, "a", "c") {
		t.Error("a -> c is a shortcut in a DAG, not a cycle")
	}
	if DetectCycle(nil, "a", "b") {
		t.Error("no edges means no cycle")
	}
}

func TestBuildTreeDiamond(t *testing.T) {
	// a uses 2x b and 1x c; both b and c use 3x and 4x d.
	parts := testParts("a", "b", "c", "d")
	edges := []Edge{
		{ParentID: "a", ChildID: "b", Quantity: "2", Unit: "EA", Position: 1},
		{ParentID: "a", ChildID: "c", Quantity: "1", Unit: "EA", Position: 2},
		{ParentID: "b", ChildID: "d", Quantity: "3", Unit: "EA", Position: 1},
		{ParentID: "c", ChildID: "d", Quantity: "4", Unit: "EA", Position: 1},
	}

	tree, err := BuildTree("a", parts, edges, 0)
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}

	if tree.Quantity != "1" || tree.Unit != "EA" {
		t.Errorf("root quantity should be 1 EA, got %s %s", tree.Quantity, tree.Unit)
	}
	if len(tree.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(tree.Children))
	}
	if tree.Children[0].PartID != "b" || tree.Children[1].PartID != "c" {
		t.Errorf("children should be ordered by position, got %s, %s",
			tree.Children[0].PartID, tree.Children[1].PartID)
	}
	if got := tree.Children[0].Children[0].Path; got != "PN-a > PN-b > PN-d" {
		t.Errorf("unexpected path: %s", got)
	}

	// Roll-up across both branches: 2*3 + 1*4 = 10
	total, err := TotalQuantity(tree, "d")
	if err != nil {
		t.Fatalf("TotalQuantity failed: %v", err)
	}
	if total != "10" {
		t.Errorf("expected total 10, got %s", total)
	}
}

func TestTotalQuantityFractional(t *testing.T) {
	parts := testParts("a", "b", "c")
	edges := []Edge{
		{ParentID: "a", ChildID: "b", Quantity: "0.5", Unit: "KG", Position: 1},
		{ParentID: "b", ChildID: "c", Quantity: "0.2", Unit: "KG", Position: 1},
	}

	tree, err := BuildTree("a", parts, edges, 0)
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}
	total, err := TotalQuantity(tree, "c")
	if err != nil {
		t.Fatalf("TotalQuantity failed: %v", err)
	}
	if total != "0.1" {
		t.Errorf("expected exact decimal 0.1, got %s", total)
	}
}

func TestTotalQuantityTargetAbsent(t *testing.T) {
	parts := testParts("a", "b")
	edges := []Edge{{ParentID: "a", ChildID: "b", Quantity: "2", Unit: "EA"}}

	tree, err := BuildTree("a", parts, edges, 0)
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}
	total, err := TotalQuantity(tree, "zzz")
	if err != nil {
		t.Fatalf("TotalQuantity failed: %v", err)
	}
	if total != "0" {
		t.Errorf("absent target should total 0, got %s", total)
	}
}

func TestBuildTreeCycleError(t *testing.T) {
	parts := testParts("a", "b")
	edges := []Edge{
		{ParentID: "a", ChildID: "b", Quantity: "1", Unit: "EA"},
		{ParentID: "b", ChildID: "a", Quantity: "1", Unit: "EA"},
	}

	_, err := BuildTree("a", parts, edges, 0)
	var cycleErr *apperror.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestBuildTreeDepthLimit(t *testing.T) {
	parts := testParts("a", "b", "c", "d")
	edges := []Edge{
		{ParentID: "a", ChildID: "b", Quantity: "1", Unit: "EA"},
		{ParentID: "b", ChildID: "c", Quantity: "1", Unit: "EA"},
		{ParentID: "c", ChildID: "d", Quantity: "1", Unit: "EA"},
	}

	if _, err := BuildTree("a", parts, edges, 3); err != nil {
		t.Errorf("depth 3 chain should fit in maxDepth 3: %v", err)
	}

	_, err := BuildTree("a", parts, edges, 2)
	var validationErr *apperror.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected depth validation error, got %v", err)
	}
}

func TestBuildTreeMissingPart(t *testing.T) {
	parts := testParts("a")
	edges := []Edge{{ParentID: "a", ChildID: "ghost", Quantity: "1", Unit: "EA"}}

	_, err := BuildTree("a", parts, edges, 0)
	var notFoundErr *apperror.NotFoundError
	if !errors.As(err, &notFoundErr) {
		t.Fatalf("expected not found error, got %v", err)
	}

	if _, err := BuildTree("ghost", parts, nil, 0); err == nil {
		t.Error("missing root should fail")
	}
}

func TestFlatten(t *testing.T) {
	parts := testParts("a", "b", "c", "d")
	edges := []Edge{
		{ParentID: "a", ChildID: "b", Quantity: "2", Unit: "EA", Position: 1},
		{ParentID: "a", ChildID: "c", Quantity: "1", Unit: "EA", Position: 2},
		{ParentID: "b", ChildID: "d", Quantity: "3", Unit: "EA", Position: 1},
	}

	tree, err := BuildTree("a", parts, edges, 0)
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}
	items := Flatten(tree)

	// Pre-order: a, b, d, c
	wantOrder := []string{"a", "b", "d", "c"}
	if len(items) != len(wantOrder) {
		t.Fatalf("expected %d rows, got %d", len(wantOrder), len(items))
	}
	for i, want := range wantOrder {
		if items[i].PartID != want {
			t.Errorf("row %d: expected %s, got %s", i, want, items[i].PartID)
		}
	}
	if items[2].Level != 2 {
		t.Errorf("d should be at level 2, got %d", items[2].Level)
	}

	if Flatten(nil) != nil {
		t.Error("flatten of nil tree should be nil")
	}
}

func TestWhereUsed(t *testing.T) {
	edges := []Edge{
		{ParentID: "a", ChildID: "d"},
		{ParentID: "b", ChildID: "d"},
		{ParentID: "a", ChildID: "b"},
	}

	parents := WhereUsed("d", edges)
	if len(parents) != 2 {
		t.Fatalf("expected 2 parents, got %d", len(parents))
	}
	if parents[0] != "a" || parents[1] != "b" {
		t.Errorf("unexpected parents: %v", parents)
	}

	if got := WhereUsed("a", edges); len(got) != 0 {
		t.Errorf("top-level part should have no parents, got %v", got)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	parts := testParts("a", "b")
	edges := []Edge{
		{ParentID: "a", ChildID: "b", Quantity: "not-a-number", Unit: "EA", Position: 1},
		{ParentID: "a", ChildID: "ghost", Quantity: "1", Unit: "EA", Position: 2},
		{ParentID: "b", ChildID: "a", Quantity: "1", Unit: "EA", Position: 1},
	}

	result := Validate("a", parts, edges, 0)
	if result.Valid {
		t.Fatal("expected invalid result")
	}
	if len(result.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(result.Errors), result.Errors)
	}

	joined := strings.Join(result.Errors, "\n")
	for _, want := range []string{"invalid quantity", "part not found", "cycle detected"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in errors: %v", want, result.Errors)
		}
	}
}

func TestValidateCleanGraph(t *testing.T) {
	parts := testParts("a", "b", "c")
	edges := []Edge{
		{ParentID: "a", ChildID: "b", Quantity: "2", Unit: "EA", Position: 1},
		{ParentID: "a", ChildID: "c", Quantity: "1.5", Unit: "KG", Position: 2},
	}

	result := Validate("a", parts, edges, 0)
	if !result.Valid || len(result.Errors) != 0 {
		t.Errorf("expected valid result, got %+v", result)
	}
}
